package anchor

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-core/storage"
)

func newChainLedger(t *testing.T, dir string, batch, confirmations int) *ChainLedger {
	t.Helper()

	store, err := storage.NewChainStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := DefaultChainConfig()
	cfg.BatchSize = batch
	cfg.Confirmations = confirmations
	cfg.BlockInterval = 0

	l, err := NewChainLedger(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestChainLedgerBatchesAndConfirms(t *testing.T) {
	ctx := context.Background()
	l := newChainLedger(t, t.TempDir(), 3, 1)
	assert.Equal(t, 1, l.Height())

	var handles [][]byte
	for i := 0; i < 2; i++ {
		h, err := l.Commit(ctx, []byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
		handles = append(handles, h)

		status, err := l.Confirm(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)
	}

	h, err := l.Commit(ctx, []byte("payload-2"))
	require.NoError(t, err)
	handles = append(handles, h)

	assert.Equal(t, 2, l.Height())
	assert.Equal(t, 0, l.PendingCount())
	for _, h := range handles {
		status, err := l.Confirm(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, StatusCommitted, status)
	}
	assert.NoError(t, l.Validate())
}

func TestChainLedgerCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newChainLedger(t, t.TempDir(), 10, 1)

	a, err := l.Commit(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := l.Commit(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, l.PendingCount())

	require.NoError(t, l.Seal(ctx))
	c, err := l.Commit(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 0, l.PendingCount())

	var count int
	require.NoError(t, l.Scan(ctx, func(Entry) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestChainLedgerUnknownHandleFails(t *testing.T) {
	l := newChainLedger(t, t.TempDir(), 1, 1)

	status, err := l.Confirm(context.Background(), Handle([]byte("never committed")))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestChainLedgerConfirmationDepth(t *testing.T) {
	ctx := context.Background()
	l := newChainLedger(t, t.TempDir(), 1, 2)

	h, err := l.Commit(ctx, []byte("first"))
	require.NoError(t, err)
	status, err := l.Confirm(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	var scanned int
	require.NoError(t, l.Scan(ctx, func(Entry) error {
		scanned++
		return nil
	}))
	assert.Zero(t, scanned)

	_, err = l.Commit(ctx, []byte("second"))
	require.NoError(t, err)
	status, err = l.Confirm(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, status)
}

func TestChainLedgerReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l := newChainLedger(t, dir, 2, 1)
	var handles [][]byte
	for i := 0; i < 5; i++ {
		h, err := l.Commit(ctx, []byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.NoError(t, l.Close())

	reloaded := newChainLedger(t, dir, 2, 1)
	assert.NoError(t, reloaded.Validate())
	for _, h := range handles {
		status, err := reloaded.Confirm(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, StatusCommitted, status)
	}

	seen := make(map[string]bool)
	require.NoError(t, reloaded.Scan(ctx, func(e Entry) error {
		assert.Equal(t, Handle(e.Payload), e.Handle)
		seen[string(e.Payload)] = true
		return nil
	}))
	assert.Len(t, seen, 5)
}

func TestChainLedgerHonoursContext(t *testing.T) {
	l := newChainLedger(t, t.TempDir(), 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Commit(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShuffleKeepsEntries(t *testing.T) {
	in := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	out, err := shuffle(in)
	require.NoError(t, err)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, []byte("a"), in[0])
}
