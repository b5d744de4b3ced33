package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voting-core/encryption"
	"voting-core/models"
	"voting-core/registry"
	"voting-core/storage"
)

// VoterStore persists registrations, enforcing uniqueness.
type VoterStore interface {
	SaveVoter(rec *models.VoterRecord) error
}

var _ VoterStore = (*storage.Store)(nil)

// Registrar turns a verified identity into a voter keypair and a unique
// voter record.
type Registrar struct {
	verifier registry.CredentialVerifier
	keys     *encryption.KeyManager
	voters   VoterStore
	salt     string
	now      func() time.Time
	log      zerolog.Logger
}

func NewRegistrar(verifier registry.CredentialVerifier, keys *encryption.KeyManager, voters VoterStore, salt string, logger zerolog.Logger) *Registrar {
	return &Registrar{
		verifier: verifier,
		keys:     keys,
		voters:   voters,
		salt:     salt,
		now:      time.Now,
		log:      logger.With().Str("component", "registrar").Logger(),
	}
}

// Register verifies (id, code) and issues a fresh keypair. The private key
// is returned to the caller and never stored.
func (r *Registrar) Register(id, code string) (*models.VoterIdentity, error) {
	if !r.verifier.VerifyCredential(id, code) {
		return nil, ErrNotEligible
	}

	pub, priv, err := r.keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	identity := &models.VoterIdentity{
		Handle:     registry.DeriveHandle(id, r.salt),
		PublicKey:  pub,
		PrivateKey: priv,
	}

	if err := r.voters.SaveVoter(models.NewVoterRecord(identity, r.now())); err != nil {
		priv.Zero()
		if errors.Is(err, storage.ErrVoterExists) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyRegistered, err)
		}
		return nil, fmt.Errorf("save voter: %w", err)
	}

	r.log.Info().Str("public_key", pub.Hex()).Msg("voter registered")
	return identity, nil
}
