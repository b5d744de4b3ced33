package models

import (
	"time"

	"voting-core/encryption"
)

// VoterIdentity is the voter-side view of a registration. PrivateKey never
// leaves the voter process.
type VoterIdentity struct {
	Handle     string
	PublicKey  *encryption.PublicKey
	PrivateKey *encryption.PrivateKey
}

// VoterRecord is the persisted, public part of a registration.
type VoterRecord struct {
	Handle       string `json:"handle"`
	PublicKey    []byte `json:"public_key"`
	RegisteredAt int64  `json:"registered_at"`
}

func NewVoterRecord(identity *VoterIdentity, at time.Time) *VoterRecord {
	return &VoterRecord{
		Handle:       identity.Handle,
		PublicKey:    identity.PublicKey.Bytes(),
		RegisteredAt: at.Unix(),
	}
}
