package anchor

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"voting-core/models"
)

var envelopeMagic = []byte("AVR1")

// envelope is the anchored form of a VoteRecord. The candidate travels in
// the clear next to the commitment hash; readers recompute the hash.
type envelope struct {
	ElectionID     string
	CandidateID    string
	Timestamp      uint64
	CommitmentHash []byte
	Signature      []byte
	Tag            []byte
}

// EncodeRecord serializes the signed part of rec for anchoring.
func EncodeRecord(rec *models.VoteRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidEnvelope)
	}
	if rec.Commitment.Timestamp < 0 {
		return nil, fmt.Errorf("%w: negative timestamp", ErrInvalidEnvelope)
	}

	body, err := rlp.EncodeToBytes(envelope{
		ElectionID:     rec.ElectionID,
		CandidateID:    rec.Commitment.CandidateID,
		Timestamp:      uint64(rec.Commitment.Timestamp),
		CommitmentHash: rec.CommitmentHash,
		Signature:      rec.Signature,
		Tag:            rec.LinkabilityTag,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	return append(append([]byte(nil), envelopeMagic...), body...), nil
}

// DecodeRecord parses a payload produced by EncodeRecord. It does not
// verify the signature or the hash.
func DecodeRecord(payload []byte) (*models.VoteRecord, error) {
	if !bytes.HasPrefix(payload, envelopeMagic) {
		return nil, fmt.Errorf("%w: missing magic", ErrInvalidEnvelope)
	}

	var env envelope
	if err := rlp.DecodeBytes(payload[len(envelopeMagic):], &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Timestamp > 1<<62 {
		return nil, fmt.Errorf("%w: timestamp out of range", ErrInvalidEnvelope)
	}

	return &models.VoteRecord{
		ElectionID: env.ElectionID,
		Commitment: models.VoteCommitment{
			ElectionID:  env.ElectionID,
			CandidateID: env.CandidateID,
			Timestamp:   int64(env.Timestamp),
		},
		CommitmentHash: env.CommitmentHash,
		Signature:      env.Signature,
		LinkabilityTag: env.Tag,
	}, nil
}
