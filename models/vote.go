package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// VoteCommitment is the plaintext payload hashed before signing.
type VoteCommitment struct {
	ElectionID  string `json:"election_id"`
	CandidateID string `json:"candidate_id"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
}

// rlpCommitment fixes the field order of the canonical encoding.
type rlpCommitment struct {
	ElectionID  string
	CandidateID string
	Timestamp   uint64
}

func NewVoteCommitment(electionID, candidateID string, at time.Time) VoteCommitment {
	return VoteCommitment{
		ElectionID:  electionID,
		CandidateID: candidateID,
		Timestamp:   at.Unix(),
	}
}

func (c VoteCommitment) Time() time.Time {
	return time.Unix(c.Timestamp, 0)
}

// Encode returns the canonical RLP serialization.
func (c VoteCommitment) Encode() ([]byte, error) {
	if c.Timestamp < 0 {
		return nil, errors.New("commitment timestamp before epoch")
	}
	return rlp.EncodeToBytes(rlpCommitment{
		ElectionID:  c.ElectionID,
		CandidateID: c.CandidateID,
		Timestamp:   uint64(c.Timestamp),
	})
}

// Hash returns Keccak256 of the canonical encoding. The same logical vote
// always hashes identically.
func (c VoteCommitment) Hash() ([]byte, error) {
	enc, err := c.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode commitment: %w", err)
	}
	return crypto.Keccak256(enc), nil
}

// AnchorHandle identifies a committed payload on the ledger.
type AnchorHandle []byte

func (h AnchorHandle) String() string {
	return hexutil.Encode(h)
}

// VoteRecord is what gets anchored and, once confirmed, counted. It is
// immutable after confirmation.
type VoteRecord struct {
	ElectionID     string         `json:"election_id"`
	Commitment     VoteCommitment `json:"commitment"`
	CommitmentHash []byte         `json:"commitment_hash"`
	Signature      []byte         `json:"signature"`
	LinkabilityTag []byte         `json:"linkability_tag"`
	AnchorHandle   AnchorHandle   `json:"anchor_handle,omitempty"`
	ConfirmedAt    time.Time      `json:"confirmed_at,omitempty"`
}

func (r *VoteRecord) Confirmed() bool {
	return !r.ConfirmedAt.IsZero()
}

func (r *VoteRecord) TagHex() string {
	return hexutil.Encode(r.LinkabilityTag)
}
