package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"voting-core/anchor"
	"voting-core/encryption"
	"voting-core/models"
	"voting-core/storage"
)

// Verifier checks parsed linkable signatures.
type Verifier interface {
	VerifySignature(message []byte, sig *encryption.Signature) bool
}

var _ Verifier = (*encryption.Engine)(nil)

// RecordSource streams the committed records of one election in
// confirmation order.
type RecordSource interface {
	ScanElection(ctx context.Context, electionID string, fn func(*models.VoteRecord, anchor.Entry) error) error
}

var _ RecordSource = (*anchor.Client)(nil)

type TallyConfig struct {
	// RequireRegisteredRing drops records whose ring contains a key that
	// is not a registered voter.
	RequireRegisteredRing bool
}

// TallyReport is a tally plus the bookkeeping behind it.
type TallyReport struct {
	ElectionID string               `json:"election_id"`
	Results    []models.TallyResult `json:"results"`
	Total      int                  `json:"total"`
	Duplicates int                  `json:"duplicates"`
	Invalid    int                  `json:"invalid"`
}

// Tallier counts confirmed votes, keeping only the first record seen for
// each linkability tag.
type Tallier struct {
	cfg       TallyConfig
	elections ElectionReader
	voters    VoterDirectory
	tags      TagIndex
	records   RecordSource
	verifier  Verifier
	log       zerolog.Logger
}

// NewTallier builds a Tallier. tags may be nil; when set, every counted
// record is written back as confirmed so casters learn about it.
func NewTallier(cfg TallyConfig, elections ElectionReader, voters VoterDirectory, tags TagIndex, records RecordSource, verifier Verifier, logger zerolog.Logger) *Tallier {
	return &Tallier{
		cfg:       cfg,
		elections: elections,
		voters:    voters,
		tags:      tags,
		records:   records,
		verifier:  verifier,
		log:       logger.With().Str("component", "tally").Logger(),
	}
}

// Tally returns one result per candidate, in declared order.
func (t *Tallier) Tally(ctx context.Context, electionID string) ([]models.TallyResult, error) {
	report, err := t.Count(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

func (t *Tallier) Count(ctx context.Context, electionID string) (*TallyReport, error) {
	election, err := t.elections.GetElection(electionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, electionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load election: %w", err)
	}

	counts := make(map[string]int, len(election.Candidates))
	seen := make(map[string]struct{})
	report := &TallyReport{ElectionID: electionID}

	err = t.records.ScanElection(ctx, electionID, func(rec *models.VoteRecord, entry anchor.Entry) error {
		if err := t.validate(rec, election); err != nil {
			if !errors.Is(err, ErrInvalidRecord) {
				return err
			}
			report.Invalid++
			t.log.Debug().Err(err).Str("handle", entry.Handle.String()).Msg("skipping invalid record")
			return nil
		}

		tag := string(rec.LinkabilityTag)
		if _, dup := seen[tag]; dup {
			report.Duplicates++
			return nil
		}
		seen[tag] = struct{}{}
		counts[rec.Commitment.CandidateID]++
		report.Total++

		if t.tags != nil {
			if _, err := t.tags.MarkConfirmed(electionID, rec.LinkabilityTag, rec); err != nil {
				t.log.Warn().Err(err).Msg("feeding tag index failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	report.Results = make([]models.TallyResult, 0, len(election.Candidates))
	for _, c := range election.Candidates {
		result := models.TallyResult{CandidateID: c.ID, Count: counts[c.ID]}
		if report.Total > 0 {
			result.Percentage = float64(result.Count) * 100 / float64(report.Total)
		}
		report.Results = append(report.Results, result)
	}

	t.log.Info().
		Str("election", electionID).
		Int("total", report.Total).
		Int("duplicates", report.Duplicates).
		Int("invalid", report.Invalid).
		Msg("tally complete")
	return report, nil
}

// validate re-derives everything a record claims.
func (t *Tallier) validate(rec *models.VoteRecord, election *models.Election) error {
	if !rec.ConfirmedAt.IsZero() && rec.ConfirmedAt.Before(election.StartTime) {
		return fmt.Errorf("%w: anchored before the election opened", ErrInvalidRecord)
	}

	sig, err := checkRecord(rec, election, t.verifier)
	if err != nil {
		return err
	}
	if t.cfg.RequireRegisteredRing {
		return checkRing(sig, t.voters)
	}
	return nil
}
