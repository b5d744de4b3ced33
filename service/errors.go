package service

import "errors"

var (
	// ErrDuplicateVote means a vote with the same linkability tag is
	// already confirmed for the election. Never retry.
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrCastInProgress means another attempt for the same key and
	// election is running.
	ErrCastInProgress = errors.New("cast already in progress")
	// ErrVotePending means an earlier attempt was submitted but not yet
	// confirmed. Resubmit the attached record instead of casting again.
	ErrVotePending = errors.New("previous vote pending confirmation")

	ErrElectionNotFound  = errors.New("election not found")
	ErrElectionClosed    = errors.New("election not open")
	ErrUnknownCandidate  = errors.New("candidate not in election")
	ErrNotRegistered     = errors.New("voter key not registered")
	ErrNotEligible       = errors.New("identity credential rejected")
	ErrAlreadyRegistered = errors.New("identity already registered")
	ErrInvalidRecord     = errors.New("invalid vote record")
)
