package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voting-core/anchor"
	"voting-core/encryption"
	"voting-core/models"
	"voting-core/storage"
)

// Signer produces linkable ring signatures and checks records handed back
// for resubmission.
type Signer interface {
	Verifier
	DeriveLinkabilityTag(priv *encryption.PrivateKey, context []byte) (encryption.Tag, error)
	SignRing(message []byte, priv *encryption.PrivateKey, context []byte, ring []*encryption.PublicKey) (*encryption.Signature, encryption.Tag, error)
}

var _ Signer = (*encryption.Engine)(nil)

// Anchor is the part of anchor.Client the caster needs.
type Anchor interface {
	Commit(ctx context.Context, rec *models.VoteRecord) (models.AnchorHandle, error)
	AwaitConfirmation(ctx context.Context, handle models.AnchorHandle, timeout, poll time.Duration) (anchor.Status, error)
}

var _ Anchor = (*anchor.Client)(nil)

type CasterConfig struct {
	CommitTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// RingSize is the anonymity set size including the signer. 1 signs
	// with the voter's key alone.
	RingSize int
	// RequireRegistered refuses keys absent from the voter directory.
	RequireRegistered bool
}

func DefaultCasterConfig() CasterConfig {
	return CasterConfig{
		CommitTimeout:     10 * time.Second,
		ConfirmTimeout:    60 * time.Second,
		PollInterval:      500 * time.Millisecond,
		RingSize:          8,
		RequireRegistered: true,
	}
}

// Caster runs cast attempts: build the commitment, sign it, anchor it and
// wait for confirmation.
type Caster struct {
	cfg       CasterConfig
	elections ElectionReader
	voters    VoterDirectory
	tags      TagIndex
	signer    Signer
	ledger    Anchor
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCaster(cfg CasterConfig, elections ElectionReader, voters VoterDirectory, tags TagIndex, signer Signer, ledger Anchor, logger zerolog.Logger) *Caster {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1
	}
	if cfg.RingSize > encryption.MaxRingSize {
		cfg.RingSize = encryption.MaxRingSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultCasterConfig().PollInterval
	}

	return &Caster{
		cfg:       cfg,
		elections: elections,
		voters:    voters,
		tags:      tags,
		signer:    signer,
		ledger:    ledger,
		now:       time.Now,
		log:       logger.With().Str("component", "caster").Logger(),
		inflight:  make(map[string]struct{}),
	}
}

// WithClock replaces the time source.
func (c *Caster) WithClock(now func() time.Time) *Caster {
	c.now = now
	return c
}

// Cast votes for candidateID in electionID with key. Caller mistakes (no
// such election, closed election, unknown candidate) are returned as
// errors; everything after the commitment is built ends in an outcome.
func (c *Caster) Cast(ctx context.Context, electionID, candidateID string, key *encryption.PrivateKey) (*CastOutcome, error) {
	attempt := uuid.New()
	log := c.log.With().Str("attempt", attempt.String()).Str("election", electionID).Logger()
	log.Debug().Str("state", string(StateBuilding)).Msg("cast started")

	if key == nil {
		return nil, fmt.Errorf("%w: nil key", encryption.ErrInvalidKey)
	}

	election, err := c.elections.GetElection(electionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, electionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load election: %w", err)
	}

	now := c.now()
	if !election.IsOpenAt(now) {
		return nil, fmt.Errorf("%w: %s", ErrElectionClosed, electionID)
	}
	if !election.HasCandidate(candidateID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
	}

	pub := key.Public()
	if c.cfg.RequireRegistered {
		ok, err := c.voters.HasVoterKey(pub.Bytes())
		if err != nil {
			return nil, fmt.Errorf("lookup voter key: %w", err)
		}
		if !ok {
			return nil, ErrNotRegistered
		}
	}

	commitment := models.NewVoteCommitment(electionID, candidateID, now)
	hash, err := commitment.Hash()
	if err != nil {
		return nil, err
	}

	tag, err := c.signer.DeriveLinkabilityTag(key, []byte(electionID))
	if err != nil {
		return nil, err
	}

	release, ok := c.acquire(electionID, tag.Bytes())
	if !ok {
		return &CastOutcome{AttemptID: attempt, State: StateFailed, Err: ErrCastInProgress}, nil
	}
	defer release()

	// Local duplicate check before any signing or anchor traffic.
	entry, err := c.tags.GetTag(electionID, tag.Bytes())
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("lookup tag: %w", err)
	case entry.State == storage.TagConfirmed:
		log.Info().Str("state", string(StateRejected)).Msg("tag already confirmed")
		return &CastOutcome{AttemptID: attempt, State: StateRejected, Err: ErrDuplicateVote}, nil
	default:
		log.Info().Str("state", string(StateFailed)).Msg("earlier attempt still pending")
		return &CastOutcome{AttemptID: attempt, State: StateFailed, Record: entry.Record, Err: ErrVotePending}, nil
	}

	ring, err := c.ring(pub)
	if err != nil {
		return nil, err
	}

	sig, _, err := c.signer.SignRing(hash, key, []byte(electionID), ring)
	if err != nil {
		return nil, err
	}

	rec := &models.VoteRecord{
		ElectionID:     electionID,
		Commitment:     commitment,
		CommitmentHash: hash,
		Signature:      sig.Bytes(),
		LinkabilityTag: tag.Bytes(),
	}
	log.Debug().Str("state", string(StateSigned)).Int("ring", len(ring)).Msg("commitment signed")

	if err := c.tags.PutPending(electionID, rec.LinkabilityTag, rec); err != nil {
		if errors.Is(err, storage.ErrTagConfirmed) {
			return &CastOutcome{AttemptID: attempt, State: StateRejected, Err: ErrDuplicateVote}, nil
		}
		return nil, fmt.Errorf("record pending vote: %w", err)
	}

	return c.submit(ctx, attempt, rec, log), nil
}

// Resubmit sends a previously signed record again, unchanged. The ledger
// and the tally both tolerate the same record appearing twice. A record
// that would not survive the tally is refused with ErrInvalidRecord before
// it touches the tag index or the ledger.
func (c *Caster) Resubmit(ctx context.Context, rec *models.VoteRecord) (*CastOutcome, error) {
	if rec == nil || len(rec.LinkabilityTag) == 0 || rec.ElectionID == "" {
		return nil, ErrInvalidRecord
	}

	election, err := c.elections.GetElection(rec.ElectionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, rec.ElectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load election: %w", err)
	}

	sig, err := checkRecord(rec, election, c.signer)
	if err != nil {
		return nil, err
	}
	if c.cfg.RequireRegistered {
		if err := checkRing(sig, c.voters); err != nil {
			return nil, err
		}
	}

	attempt := uuid.New()
	log := c.log.With().Str("attempt", attempt.String()).Str("election", rec.ElectionID).Logger()

	release, ok := c.acquire(rec.ElectionID, rec.LinkabilityTag)
	if !ok {
		return &CastOutcome{AttemptID: attempt, State: StateFailed, Record: rec, Err: ErrCastInProgress}, nil
	}
	defer release()

	entry, err := c.tags.GetTag(rec.ElectionID, rec.LinkabilityTag)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("lookup tag: %w", err)
	case entry.State == storage.TagConfirmed:
		if sameVote(entry.Record, rec) {
			return &CastOutcome{AttemptID: attempt, State: StateConfirmed, Record: entry.Record}, nil
		}
		return &CastOutcome{AttemptID: attempt, State: StateRejected, Err: ErrDuplicateVote}, nil
	case !sameVote(entry.Record, rec):
		// Another record for this tag may already be on the ledger. Only that
		// one may be retried.
		log.Info().Str("state", string(StateFailed)).Msg("a different record is pending for this tag")
		return &CastOutcome{AttemptID: attempt, State: StateFailed, Record: entry.Record, Err: ErrVotePending}, nil
	}

	copied := *rec
	rec = &copied
	rec.AnchorHandle = nil
	rec.ConfirmedAt = time.Time{}
	if err := c.tags.PutPending(rec.ElectionID, rec.LinkabilityTag, rec); err != nil {
		return nil, fmt.Errorf("record pending vote: %w", err)
	}

	log.Debug().Msg("resubmitting record")
	return c.submit(ctx, attempt, rec, log), nil
}

func (c *Caster) submit(ctx context.Context, attempt uuid.UUID, rec *models.VoteRecord, log zerolog.Logger) *CastOutcome {
	failed := func(err error) *CastOutcome {
		log.Warn().Err(err).Str("state", string(StateFailed)).Msg("cast failed, record kept for resubmission")
		return &CastOutcome{AttemptID: attempt, State: StateFailed, Record: rec, Err: err}
	}

	commitCtx := ctx
	if c.cfg.CommitTimeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(ctx, c.cfg.CommitTimeout)
		defer cancel()
	}

	handle, err := c.ledger.Commit(commitCtx, rec)
	if err != nil {
		return failed(err)
	}
	rec.AnchorHandle = handle
	log.Debug().Str("state", string(StateSubmitted)).Str("handle", handle.String()).Msg("record submitted")

	if err := c.tags.PutPending(rec.ElectionID, rec.LinkabilityTag, rec); err != nil && !errors.Is(err, storage.ErrTagConfirmed) {
		log.Warn().Err(err).Msg("updating pending record failed")
	}

	if _, err := c.ledger.AwaitConfirmation(ctx, handle, c.cfg.ConfirmTimeout, c.cfg.PollInterval); err != nil {
		return failed(err)
	}

	rec.ConfirmedAt = c.now()
	won, err := c.tags.MarkConfirmed(rec.ElectionID, rec.LinkabilityTag, rec)
	if err != nil {
		return failed(fmt.Errorf("record confirmation: %w", err))
	}
	if !won {
		entry, err := c.tags.GetTag(rec.ElectionID, rec.LinkabilityTag)
		if err == nil && sameVote(entry.Record, rec) {
			return &CastOutcome{AttemptID: attempt, State: StateConfirmed, Record: entry.Record}
		}
		log.Info().Str("state", string(StateRejected)).Msg("lost race for linkability tag")
		return &CastOutcome{AttemptID: attempt, State: StateRejected, Record: rec, Err: ErrDuplicateVote}
	}

	log.Info().Str("state", string(StateConfirmed)).Msg("vote confirmed")
	return &CastOutcome{AttemptID: attempt, State: StateConfirmed, Record: rec}
}

// acquire marks (election, tag) as busy. The returned func releases it.
func (c *Caster) acquire(electionID string, tag []byte) (func(), bool) {
	key := electionID + "\x00" + string(tag)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.inflight[key]; busy {
		return nil, false
	}
	c.inflight[key] = struct{}{}

	return func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}, true
}

// ring picks up to RingSize-1 random registered keys to hide pub among.
func (c *Caster) ring(pub *encryption.PublicKey) ([]*encryption.PublicKey, error) {
	ring := []*encryption.PublicKey{pub}
	if c.cfg.RingSize == 1 {
		return ring, nil
	}

	raw, err := c.voters.VoterPublicKeys()
	if err != nil {
		return nil, fmt.Errorf("load voter keys: %w", err)
	}

	candidates := make([]*encryption.PublicKey, 0, len(raw))
	for _, b := range raw {
		if bytes.Equal(b, pub.Bytes()) {
			continue
		}
		pk, err := encryption.ParsePublicKey(b)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping unparsable voter key")
			continue
		}
		candidates = append(candidates, pk)
	}

	// Partial Fisher-Yates: the first picks entries are a uniform sample.
	picks := c.cfg.RingSize - 1
	if picks > len(candidates) {
		picks = len(candidates)
	}
	for i := 0; i < picks; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates)-i)))
		if err != nil {
			return nil, fmt.Errorf("sample ring: %w", err)
		}
		k := i + int(j.Int64())
		candidates[i], candidates[k] = candidates[k], candidates[i]
	}

	return append(ring, candidates[:picks]...), nil
}

func sameVote(a, b *models.VoteRecord) bool {
	return a != nil && b != nil &&
		bytes.Equal(a.CommitmentHash, b.CommitmentHash) &&
		bytes.Equal(a.Signature, b.Signature)
}
