package anchor

import (
	"context"
	"time"

	"voting-core/models"
)

// Status is the ledger's view of a committed payload.
type Status int

const (
	StatusPending Status = iota
	StatusCommitted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one committed payload as returned by Scan.
type Entry struct {
	Handle   models.AnchorHandle
	Payload  []byte
	Position uint64 // block number or height
	Time     time.Time
}

// Ledger is an append-only store of opaque payloads. Commit is
// at-least-once: the same payload may be committed more than once.
type Ledger interface {
	Commit(ctx context.Context, payload []byte) (models.AnchorHandle, error)
	Confirm(ctx context.Context, handle models.AnchorHandle) (Status, error)
	// Scan visits committed entries in confirmation order.
	Scan(ctx context.Context, fn func(Entry) error) error
}
