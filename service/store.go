package service

import (
	"voting-core/models"
	"voting-core/storage"
)

// ElectionReader gives read access to election records.
type ElectionReader interface {
	GetElection(id string) (*models.Election, error)
}

// VoterDirectory lists registered voter keys.
type VoterDirectory interface {
	VoterPublicKeys() ([][]byte, error)
	HasVoterKey(publicKey []byte) (bool, error)
}

// TagIndex tracks linkability tags per election with insert-if-absent
// confirmation.
type TagIndex interface {
	GetTag(electionID string, tag []byte) (*storage.TagEntry, error)
	PutPending(electionID string, tag []byte, rec *models.VoteRecord) error
	MarkConfirmed(electionID string, tag []byte, rec *models.VoteRecord) (bool, error)
}

var (
	_ ElectionReader = (*storage.Store)(nil)
	_ VoterDirectory = (*storage.Store)(nil)
	_ TagIndex       = (*storage.Store)(nil)
)
