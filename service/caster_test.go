package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-core/anchor"
	"voting-core/encryption"
	"voting-core/storage"
)

func TestCastConfirmsAndTallies(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 5)

	outcome := mustCast(t, env.service, "e1", "B", voters[0].PrivateKey)
	require.Equal(t, StateConfirmed, outcome.State, "%v", outcome.Err)
	assert.NoError(t, outcome.Err)
	assert.False(t, outcome.Retryable())
	assert.True(t, outcome.Record.Confirmed())
	assert.NotEmpty(t, outcome.Record.AnchorHandle)

	sig, err := encryption.ParseSignature(outcome.Record.Signature)
	require.NoError(t, err)
	assert.Len(t, sig.Ring, 4)
	assert.True(t, encryption.NewEngine().Verify(outcome.Record.CommitmentHash, outcome.Record.Signature, voters[0].PublicKey))

	entry, err := env.store.GetTag("e1", outcome.Record.LinkabilityTag)
	require.NoError(t, err)
	assert.Equal(t, storage.TagConfirmed, entry.State)

	results, err := env.service.GetTally(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Count)
	assert.Equal(t, 1, results[1].Count)
	assert.Equal(t, 100.0, results[1].Percentage)
}

func TestDuplicateVoteRejectedWithoutAnchorContact(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 1)

	first := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	require.Equal(t, StateConfirmed, first.State)
	commits := env.ledger.commitCount()

	second := mustCast(t, env.service, "e1", "B", voters[0].PrivateKey)
	assert.Equal(t, StateRejected, second.State)
	assert.ErrorIs(t, second.Err, ErrDuplicateVote)
	assert.False(t, second.Retryable())
	assert.Equal(t, commits, env.ledger.commitCount())

	results, err := env.service.GetTally(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, results[0].Count)
	assert.Equal(t, 0, results[1].Count)
}

func TestSameVoterSeparateElectionsBothCount(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A")
	env.addElection(t, "e2", "A")
	voters := env.registerVoters(t, 1)

	a := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	b := mustCast(t, env.service, "e2", "A", voters[0].PrivateKey)
	require.Equal(t, StateConfirmed, a.State)
	require.Equal(t, StateConfirmed, b.State)
	assert.NotEqual(t, a.Record.LinkabilityTag, b.Record.LinkabilityTag)
}

func TestCommitUnavailableIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 1)

	env.ledger.set(func(l *controlledLedger) { l.commitErr = errors.New("connection refused") })

	outcome := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	assert.Equal(t, StateFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, anchor.ErrAnchorUnavailable)
	assert.True(t, outcome.Retryable())
	require.NotNil(t, outcome.Record)

	env.ledger.set(func(l *controlledLedger) { l.commitErr = nil })

	resubmitted, err := env.service.ResubmitVote(context.Background(), outcome.Record)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, resubmitted.State)
	assert.Equal(t, outcome.Record.Signature, resubmitted.Record.Signature)
}

func TestConfirmTimeoutThenResubmitCountsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 1)
	ctx := context.Background()

	env.ledger.set(func(l *controlledLedger) { l.holdConfirm = true })

	outcome := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	require.Equal(t, StateFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, anchor.ErrAnchorTimeout)
	assert.True(t, outcome.Retryable())

	// A fresh cast must not produce a second signed vote.
	again := mustCast(t, env.service, "e1", "B", voters[0].PrivateKey)
	assert.Equal(t, StateFailed, again.State)
	assert.ErrorIs(t, again.Err, ErrVotePending)
	require.NotNil(t, again.Record)
	assert.Equal(t, outcome.Record.Signature, again.Record.Signature)

	env.ledger.set(func(l *controlledLedger) { l.holdConfirm = false })

	resubmitted, err := env.service.ResubmitVote(ctx, again.Record)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, resubmitted.State)

	// Resubmitting a confirmed record is a no-op.
	once, err := env.service.ResubmitVote(ctx, outcome.Record)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, once.State)

	report, err := env.service.CountVotes(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Results[0].Count)
	assert.Equal(t, 0, report.Results[1].Count)
}

func TestTallyLearnsAboutTimedOutVote(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 1)
	ctx := context.Background()

	env.ledger.set(func(l *controlledLedger) { l.holdConfirm = true })
	outcome := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	require.Equal(t, StateFailed, outcome.State)

	// The ledger did commit it; a tally run sees that.
	results, err := env.service.GetTally(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, results[0].Count)

	entry, err := env.store.GetTag("e1", outcome.Record.LinkabilityTag)
	require.NoError(t, err)
	assert.Equal(t, storage.TagConfirmed, entry.State)

	again := mustCast(t, env.service, "e1", "B", voters[0].PrivateKey)
	assert.Equal(t, StateRejected, again.State)
	assert.ErrorIs(t, again.Err, ErrDuplicateVote)
}

func TestConcurrentCastForSameVoterIsRefused(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 1)

	cfg := testCasterConfig()
	cfg.ConfirmTimeout = time.Second
	caster := NewCaster(cfg, env.store, env.store, env.store, encryption.NewEngine(), env.client, env.service.log)

	env.ledger.set(func(l *controlledLedger) { l.holdConfirm = true })

	done := make(chan *CastOutcome, 1)
	go func() {
		outcome, _ := caster.Cast(context.Background(), "e1", "A", voters[0].PrivateKey)
		done <- outcome
	}()

	select {
	case <-env.ledger.committed:
	case <-time.After(5 * time.Second):
		t.Fatal("first cast never reached the ledger")
	}

	second, err := caster.Cast(context.Background(), "e1", "B", voters[0].PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, second.State)
	assert.ErrorIs(t, second.Err, ErrCastInProgress)
	assert.True(t, second.Retryable())

	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, StateFailed, first.State)
	assert.ErrorIs(t, first.Err, anchor.ErrAnchorTimeout)
	assert.Equal(t, 1, env.ledger.commitCount())
}

func TestConcurrentCastsForDifferentVotersProceed(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 6)

	outcomes := make(chan *CastOutcome, len(voters))
	for i, v := range voters {
		candidate := "A"
		if i%2 == 1 {
			candidate = "B"
		}
		go func(key *encryption.PrivateKey, candidate string) {
			outcome, _ := env.service.CastVote(context.Background(), "e1", candidate, key)
			outcomes <- outcome
		}(v.PrivateKey, candidate)
	}

	for range voters {
		outcome := <-outcomes
		require.NotNil(t, outcome)
		assert.Equal(t, StateConfirmed, outcome.State, "%v", outcome.Err)
	}

	report, err := env.service.CountVotes(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 3, report.Results[0].Count)
	assert.Equal(t, 3, report.Results[1].Count)
}

func TestCastCallerErrors(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A")
	voters := env.registerVoters(t, 1)
	ctx := context.Background()

	_, err := env.service.CastVote(ctx, "missing", "A", voters[0].PrivateKey)
	assert.ErrorIs(t, err, ErrElectionNotFound)

	_, err = env.service.CastVote(ctx, "e1", "Z", voters[0].PrivateKey)
	assert.ErrorIs(t, err, ErrUnknownCandidate)

	_, err = env.service.CastVote(ctx, "e1", "A", nil)
	assert.ErrorIs(t, err, encryption.ErrInvalidKey)

	_, stranger, err := encryption.NewKeyManager().GenerateKeyPair()
	require.NoError(t, err)
	_, err = env.service.CastVote(ctx, "e1", "A", stranger)
	assert.ErrorIs(t, err, ErrNotRegistered)

	env.service.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = env.service.CastVote(ctx, "e1", "A", voters[0].PrivateKey)
	assert.ErrorIs(t, err, ErrElectionClosed)

	assert.Zero(t, env.ledger.commitCount())
}

func TestResubmitRejectsForeignRecord(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 1)
	ctx := context.Background()

	first := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	require.Equal(t, StateConfirmed, first.State)

	forged := *first.Record
	forged.Signature = append([]byte(nil), forged.Signature...)
	forged.Signature[len(forged.Signature)-1] ^= 1

	_, err := env.service.ResubmitVote(ctx, &forged)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	// A validly signed second vote under the same tag loses to the first.
	second := craft(t, voters[0].PrivateKey, "e1", "B", time.Now(), []*encryption.PublicKey{voters[0].PublicKey})
	outcome, err := env.service.ResubmitVote(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, outcome.State)
	assert.ErrorIs(t, outcome.Err, ErrDuplicateVote)

	_, err = env.service.ResubmitVote(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	missing := *first.Record
	missing.ElectionID = "gone"
	_, err = env.service.ResubmitVote(ctx, &missing)
	assert.ErrorIs(t, err, ErrElectionNotFound)
}

func TestResubmitOfTamperedPendingRecordKeepsGenuineVote(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A", "B")
	voters := env.registerVoters(t, 3)
	ctx := context.Background()

	env.ledger.set(func(l *controlledLedger) { l.holdConfirm = true })
	genuine := mustCast(t, env.service, "e1", "A", voters[0].PrivateKey)
	require.Equal(t, StateFailed, genuine.State)
	require.NotNil(t, genuine.Record)
	env.ledger.set(func(l *controlledLedger) { l.holdConfirm = false })
	commits := env.ledger.commitCount()

	tampered := *genuine.Record
	tampered.Commitment.CandidateID = "B"
	tampered.CommitmentHash, _ = tampered.Commitment.Hash()
	tampered.Signature = append([]byte(nil), tampered.Signature...)
	tampered.Signature[len(tampered.Signature)-1] ^= 1

	_, err := env.service.ResubmitVote(ctx, &tampered)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, commits, env.ledger.commitCount())

	entry, err := env.store.GetTag("e1", genuine.Record.LinkabilityTag)
	require.NoError(t, err)
	assert.Equal(t, storage.TagPending, entry.State)
	assert.Equal(t, genuine.Record.Signature, entry.Record.Signature)

	// A different but valid record cannot displace the pending one.
	rival := craft(t, voters[0].PrivateKey, "e1", "B", time.Now(), []*encryption.PublicKey{voters[0].PublicKey})
	pending, err := env.service.ResubmitVote(ctx, rival)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, pending.State)
	assert.ErrorIs(t, pending.Err, ErrVotePending)
	assert.Equal(t, genuine.Record.Signature, pending.Record.Signature)

	retried, err := env.service.ResubmitVote(ctx, genuine.Record)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, retried.State, "%v", retried.Err)

	report, err := env.service.CountVotes(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Results[0].Count)
	assert.Equal(t, 0, report.Results[1].Count)
	assert.Zero(t, report.Invalid)
}

func TestResubmitRefusesUnregisteredRing(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A")
	voters := env.registerVoters(t, 1)

	outsider, _, err := encryption.NewKeyManager().GenerateKeyPair()
	require.NoError(t, err)
	rec := craft(t, voters[0].PrivateKey, "e1", "A", time.Now(), []*encryption.PublicKey{voters[0].PublicKey, outsider})

	_, err = env.service.ResubmitVote(context.Background(), rec)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Zero(t, env.ledger.commitCount())
}

func TestRingSizeOneSignsAlone(t *testing.T) {
	env := newTestEnv(t)
	env.addElection(t, "e1", "A")
	voters := env.registerVoters(t, 3)

	cfg := testCasterConfig()
	cfg.RingSize = 1
	caster := NewCaster(cfg, env.store, env.store, env.store, encryption.NewEngine(), env.client, env.service.log)

	outcome, err := caster.Cast(context.Background(), "e1", "A", voters[1].PrivateKey)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, outcome.State)

	sig, err := encryption.ParseSignature(outcome.Record.Signature)
	require.NoError(t, err)
	require.Len(t, sig.Ring, 1)
	assert.True(t, sig.Ring[0].Equal(voters[1].PublicKey))
}
