package service

import (
	"bytes"
	"fmt"

	"voting-core/encryption"
	"voting-core/models"
)

// checkRecord re-derives everything a signed record claims about itself
// and election. Every failure wraps ErrInvalidRecord.
func checkRecord(rec *models.VoteRecord, election *models.Election, verifier Verifier) (*encryption.Signature, error) {
	if rec.ElectionID != election.ID || rec.Commitment.ElectionID != election.ID {
		return nil, fmt.Errorf("%w: election mismatch", ErrInvalidRecord)
	}
	if !election.HasCandidate(rec.Commitment.CandidateID) {
		return nil, fmt.Errorf("%w: unknown candidate", ErrInvalidRecord)
	}
	if !election.WithinWindow(rec.Commitment.Time()) {
		return nil, fmt.Errorf("%w: committed outside the election window", ErrInvalidRecord)
	}

	hash, err := rec.Commitment.Hash()
	if err != nil || !bytes.Equal(hash, rec.CommitmentHash) {
		return nil, fmt.Errorf("%w: commitment hash mismatch", ErrInvalidRecord)
	}

	sig, err := encryption.ParseSignature(rec.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if string(sig.Context) != election.ID {
		return nil, fmt.Errorf("%w: signature bound to another context", ErrInvalidRecord)
	}
	if !bytes.Equal(sig.Tag.Bytes(), rec.LinkabilityTag) {
		return nil, fmt.Errorf("%w: tag mismatch", ErrInvalidRecord)
	}
	if !verifier.VerifySignature(hash, sig) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidRecord)
	}
	return sig, nil
}

// checkRing requires every ring member to be a registered voter.
func checkRing(sig *encryption.Signature, voters VoterDirectory) error {
	for _, pk := range sig.Ring {
		ok, err := voters.HasVoterKey(pk.Bytes())
		if err != nil {
			return fmt.Errorf("lookup ring member: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: ring member not registered", ErrInvalidRecord)
		}
	}
	return nil
}
