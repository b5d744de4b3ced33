package service

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"voting-core/anchor"
	"voting-core/encryption"
	"voting-core/models"
	"voting-core/registry"
	"voting-core/storage"
)

// controlledLedger wraps a real ledger and lets tests break it.
type controlledLedger struct {
	anchor.Ledger

	mu          sync.Mutex
	commitErr   error
	holdConfirm bool
	commits     int
	committed   chan struct{}
}

func newControlledLedger(inner anchor.Ledger) *controlledLedger {
	return &controlledLedger{Ledger: inner, committed: make(chan struct{}, 64)}
}

func (l *controlledLedger) Commit(ctx context.Context, payload []byte) (models.AnchorHandle, error) {
	l.mu.Lock()
	l.commits++
	err := l.commitErr
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}
	h, err := l.Ledger.Commit(ctx, payload)
	if err == nil {
		select {
		case l.committed <- struct{}{}:
		default:
		}
	}
	return h, err
}

func (l *controlledLedger) Confirm(ctx context.Context, h models.AnchorHandle) (anchor.Status, error) {
	l.mu.Lock()
	hold := l.holdConfirm
	l.mu.Unlock()

	if hold {
		return anchor.StatusPending, nil
	}
	return l.Ledger.Confirm(ctx, h)
}

func (l *controlledLedger) set(fn func(l *controlledLedger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *controlledLedger) commitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits
}

// memLedger keeps every commit, duplicates included.
type memLedger struct {
	mu      sync.Mutex
	entries []anchor.Entry
}

func (l *memLedger) Commit(_ context.Context, payload []byte) (models.AnchorHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := append(anchor.Handle(payload), binary.BigEndian.AppendUint32(nil, uint32(len(l.entries)))...)
	l.entries = append(l.entries, anchor.Entry{
		Handle:   h,
		Payload:  append([]byte(nil), payload...),
		Position: uint64(len(l.entries)),
		Time:     time.Now(),
	})
	return h, nil
}

func (l *memLedger) Confirm(context.Context, models.AnchorHandle) (anchor.Status, error) {
	return anchor.StatusCommitted, nil
}

func (l *memLedger) Scan(ctx context.Context, fn func(anchor.Entry) error) error {
	l.mu.Lock()
	entries := append([]anchor.Entry(nil), l.entries...)
	l.mu.Unlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	store   *storage.Store
	ledger  *controlledLedger
	chain   *anchor.ChainLedger
	client  *anchor.Client
	service *VotingService
	oracle  *registry.MockAadhaar
}

func testCasterConfig() CasterConfig {
	return CasterConfig{
		CommitTimeout:     time.Second,
		ConfirmTimeout:    100 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		RingSize:          4,
		RequireRegistered: true,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	chainStore, err := storage.NewChainStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { chainStore.Close() })

	cfg := anchor.DefaultChainConfig()
	cfg.Difficulty = 0
	cfg.BatchSize = 1
	cfg.BlockInterval = 0
	chain, err := anchor.NewChainLedger(cfg, chainStore, zerolog.Nop())
	require.NoError(t, err)

	return newTestEnvWithLedger(t, chain, chain)
}

func newTestEnvWithLedger(t *testing.T, inner anchor.Ledger, chain *anchor.ChainLedger) *testEnv {
	t.Helper()

	oracle, err := registry.NewMockAadhaar(registry.AadhaarConfig{})
	require.NoError(t, err)

	store := storage.NewStore(storage.NewMemKV())
	ledger := newControlledLedger(inner)
	client := anchor.NewClient(ledger, zerolog.Nop())

	svc := NewVotingService(store, oracle, client, Options{
		Caster:     testCasterConfig(),
		Tally:      TallyConfig{RequireRegisteredRing: true},
		HandleSalt: "test",
		Logger:     zerolog.Nop(),
	})

	return &testEnv{
		store:   store,
		ledger:  ledger,
		chain:   chain,
		client:  client,
		service: svc,
		oracle:  oracle,
	}
}

func (e *testEnv) addElection(t *testing.T, id string, candidates ...string) *models.Election {
	t.Helper()

	election := &models.Election{
		ID:        id,
		Title:     "Test " + id,
		StartTime: time.Now().Add(-time.Hour).Truncate(time.Second),
		EndTime:   time.Now().Add(time.Hour),
		Active:    true,
	}
	for _, c := range candidates {
		election.Candidates = append(election.Candidates, models.Candidate{ID: c, Name: "Candidate " + c})
	}
	require.NoError(t, e.service.AddElection(election))
	return election
}

func (e *testEnv) registerVoters(t *testing.T, n int) []*models.VoterIdentity {
	t.Helper()

	voters := make([]*models.VoterIdentity, n)
	for i := range voters {
		aadhaar := fmt.Sprintf("%012d", 100000000000+i)
		code, err := e.service.RequestOTP(aadhaar)
		require.NoError(t, err)
		id, err := e.service.RegisterVoter(aadhaar, code)
		require.NoError(t, err)
		voters[i] = id
	}
	return voters
}

func mustCast(t *testing.T, svc *VotingService, electionID, candidateID string, key *encryption.PrivateKey) *CastOutcome {
	t.Helper()

	outcome, err := svc.CastVote(context.Background(), electionID, candidateID, key)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	return outcome
}
