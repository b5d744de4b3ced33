package service

import (
	"github.com/google/uuid"

	"voting-core/models"
)

// CastState is a step of one cast attempt.
type CastState string

const (
	StateBuilding  CastState = "building"
	StateSigned    CastState = "signed"
	StateSubmitted CastState = "submitted"
	StateConfirmed CastState = "confirmed"
	StateRejected  CastState = "rejected"
	StateFailed    CastState = "failed"
)

// Terminal reports whether no further transition can follow.
func (s CastState) Terminal() bool {
	return s == StateConfirmed || s == StateRejected || s == StateFailed
}

// CastOutcome is the terminal result of a cast attempt.
type CastOutcome struct {
	AttemptID uuid.UUID
	State     CastState
	// Record is the signed record, when one exists. For a Failed outcome it
	// is what Resubmit needs.
	Record *models.VoteRecord
	Err    error
}

// Retryable is true when the vote may or may not have been recorded and
// resubmitting Record is safe. Rejected outcomes are final.
func (o *CastOutcome) Retryable() bool {
	return o.State == StateFailed
}

func (o *CastOutcome) Confirmed() bool {
	return o.State == StateConfirmed
}
