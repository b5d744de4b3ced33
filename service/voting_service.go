package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voting-core/anchor"
	"voting-core/encryption"
	"voting-core/models"
	"voting-core/registry"
	"voting-core/storage"
)

type Options struct {
	Caster     CasterConfig
	Tally      TallyConfig
	HandleSalt string
	Logger     zerolog.Logger
}

// VotingService is the entry point used by the CLI and by any transport
// layered on top.
type VotingService struct {
	store     *storage.Store
	registrar *Registrar
	otp       registry.OTPIssuer
	caster    *Caster
	tallier   *Tallier
	metrics   *MetricsCollector
	log       zerolog.Logger
}

func NewVotingService(store *storage.Store, oracle registry.Oracle, client *anchor.Client, opts Options) *VotingService {
	engine := encryption.NewEngine()

	return &VotingService{
		store:     store,
		registrar: NewRegistrar(oracle, encryption.NewKeyManager(), store, opts.HandleSalt, opts.Logger),
		otp:       oracle,
		caster:    NewCaster(opts.Caster, store, store, store, engine, client, opts.Logger),
		tallier:   NewTallier(opts.Tally, store, store, store, client, engine, opts.Logger),
		metrics:   NewMetricsCollector(),
		log:       opts.Logger.With().Str("component", "voting-service").Logger(),
	}
}

// WithClock replaces the time source of every component.
func (vs *VotingService) WithClock(now func() time.Time) *VotingService {
	vs.caster.WithClock(now)
	vs.registrar.now = now
	return vs
}

// RequestOTP asks the identity oracle to send a one-time code for id. The
// mock oracle hands the code back; a real one would deliver it out of band.
func (vs *VotingService) RequestOTP(id string) (string, error) {
	code, err := vs.otp.GenerateOTP(id)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotEligible, err)
	}
	vs.log.Debug().Msg("one-time code issued")
	return code, nil
}

func (vs *VotingService) RegisterVoter(id, code string) (*models.VoterIdentity, error) {
	started := time.Now()
	identity, err := vs.registrar.Register(id, code)
	vs.metrics.RecordRegistration(started, time.Since(started))
	return identity, err
}

func (vs *VotingService) AddElection(e *models.Election) error {
	return vs.store.SaveElection(e)
}

func (vs *VotingService) ActiveElection() (*models.Election, error) {
	return vs.store.ActiveElection(vs.caster.now())
}

func (vs *VotingService) CastVote(ctx context.Context, electionID, candidateID string, key *encryption.PrivateKey) (*CastOutcome, error) {
	started := time.Now()
	outcome, err := vs.caster.Cast(ctx, electionID, candidateID, key)
	vs.metrics.RecordCast(started, time.Since(started), outcome)
	return outcome, err
}

func (vs *VotingService) ResubmitVote(ctx context.Context, rec *models.VoteRecord) (*CastOutcome, error) {
	started := time.Now()
	outcome, err := vs.caster.Resubmit(ctx, rec)
	vs.metrics.RecordCast(started, time.Since(started), outcome)
	return outcome, err
}

func (vs *VotingService) GetTally(ctx context.Context, electionID string) ([]models.TallyResult, error) {
	report, err := vs.CountVotes(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

func (vs *VotingService) CountVotes(ctx context.Context, electionID string) (*TallyReport, error) {
	started := time.Now()
	report, err := vs.tallier.Count(ctx, electionID)
	vs.metrics.RecordCounting(started, time.Since(started))
	return report, err
}

func (vs *VotingService) Metrics() MetricsResponse {
	return vs.metrics.GetMetrics()
}
