package anchor

import "errors"

var (
	// ErrAnchorUnavailable means the ledger could not be reached or refused
	// the request. The payload may or may not have been committed.
	ErrAnchorUnavailable = errors.New("anchor unavailable")
	// ErrAnchorTimeout means a deadline passed before the ledger answered.
	ErrAnchorTimeout = errors.New("anchor timeout")
	// ErrLedgerFailed means the ledger reported the payload as failed.
	ErrLedgerFailed = errors.New("ledger rejected payload")

	ErrInvalidEnvelope = errors.New("invalid vote envelope")
)
