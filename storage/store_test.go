package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-core/models"
)

func testElection(id string, start time.Time) *models.Election {
	return &models.Election{
		ID:         id,
		Title:      "Election " + id,
		Candidates: []models.Candidate{{ID: "A", Name: "Alice"}, {ID: "B", Name: "Bob"}},
		StartTime:  start,
		EndTime:    start.Add(24 * time.Hour),
		Active:     true,
	}
}

func TestSaveVoterUniqueness(t *testing.T) {
	s := NewStore(NewMemKV())

	rec := &models.VoterRecord{Handle: "h1", PublicKey: []byte{0x02, 1, 2, 3}}
	require.NoError(t, s.SaveVoter(rec))

	err := s.SaveVoter(&models.VoterRecord{Handle: "h1", PublicKey: []byte{0x02, 9}})
	assert.ErrorIs(t, err, ErrVoterExists)

	err = s.SaveVoter(&models.VoterRecord{Handle: "h2", PublicKey: []byte{0x02, 1, 2, 3}})
	assert.ErrorIs(t, err, ErrVoterExists)

	got, err := s.GetVoter("h1")
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, got.PublicKey)

	_, err = s.GetVoter("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.HasVoterKey(rec.PublicKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveVoterConcurrentSingleWinner(t *testing.T) {
	s := NewStore(NewMemKV())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveVoter(&models.VoterRecord{Handle: "same", PublicKey: []byte{byte(i + 1)}})
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrVoterExists)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestVoterPublicKeys(t *testing.T) {
	s := NewStore(NewMemKV())
	for i := 3; i > 0; i-- {
		require.NoError(t, s.SaveVoter(&models.VoterRecord{
			Handle:    fmt.Sprintf("h%d", i),
			PublicKey: []byte{0x02, byte(i)},
		}))
	}

	keys, err := s.VoterPublicKeys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x02, 1}, {0x02, 2}, {0x02, 3}}, keys)
}

func TestElections(t *testing.T) {
	s := NewStore(NewMemKV())
	now := time.Now().Truncate(time.Second)

	older := testElection("e1", now.Add(-2*time.Hour))
	newer := testElection("e2", now.Add(-time.Hour))
	closed := testElection("e3", now.Add(-48*time.Hour))

	for _, e := range []*models.Election{older, newer, closed} {
		require.NoError(t, s.SaveElection(e))
	}
	assert.ErrorIs(t, s.SaveElection(older), ErrElectionExists)
	assert.Error(t, s.SaveElection(&models.Election{ID: "bad"}))

	got, err := s.GetElection("e1")
	require.NoError(t, err)
	assert.Equal(t, older.Candidates, got.Candidates)
	assert.True(t, older.StartTime.Equal(got.StartTime))

	active, err := s.ActiveElection(now)
	require.NoError(t, err)
	assert.Equal(t, "e2", active.ID)

	_, err = s.ActiveElection(now.Add(-72 * time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetElection("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTagIndexLifecycle(t *testing.T) {
	s := NewStore(NewMemKV())
	tag := []byte{0x03, 0xaa}
	rec := &models.VoteRecord{ElectionID: "e1", LinkabilityTag: tag}

	_, err := s.GetTag("e1", tag)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutPending("e1", tag, rec))
	entry, err := s.GetTag("e1", tag)
	require.NoError(t, err)
	assert.Equal(t, TagPending, entry.State)

	won, err := s.MarkConfirmed("e1", tag, rec)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.MarkConfirmed("e1", tag, &models.VoteRecord{ElectionID: "e1"})
	require.NoError(t, err)
	assert.False(t, won)

	assert.ErrorIs(t, s.PutPending("e1", tag, rec), ErrTagConfirmed)

	entry, err = s.GetTag("e1", tag)
	require.NoError(t, err)
	assert.Equal(t, TagConfirmed, entry.State)

	// Same tag in another election is independent.
	_, err = s.GetTag("e2", tag)
	assert.ErrorIs(t, err, ErrNotFound)

	pending, confirmed, err := s.CountTags("e1")
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, confirmed)
}

func TestMarkConfirmedConcurrentFirstWins(t *testing.T) {
	s := NewStore(NewMemKV())
	tag := []byte{0x02, 0x01}

	var wg sync.WaitGroup
	wins := make(chan bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkConfirmed("e1", tag, &models.VoteRecord{ElectionID: "e1"})
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for won := range wins {
		if won {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
