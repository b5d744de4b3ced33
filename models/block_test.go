package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mineChain(t *testing.T, n int) []*Block {
	t.Helper()
	var blocks []*Block
	prev := make([]byte, 32)
	for i := 0; i < n; i++ {
		b := NewBlock(uint64(i), [][]byte{[]byte("entry"), {byte(i)}}, prev, 1, int64(1700000000+i))
		require.NoError(t, b.Mine(context.Background()))
		blocks = append(blocks, b)
		prev = b.Hash
	}
	return blocks
}

func TestMineMeetsDifficulty(t *testing.T) {
	blocks := mineChain(t, 1)
	assert.Equal(t, byte(0), blocks[0].Hash[0])
	assert.NoError(t, blocks[0].Validate())
}

func TestValidateChain(t *testing.T) {
	blocks := mineChain(t, 4)
	require.NoError(t, ValidateChain(blocks))
	assert.NoError(t, ValidateChain(nil))

	blocks[2].Entries[0] = []byte("tampered")
	assert.Error(t, ValidateChain(blocks))
}

func TestValidateChainDetectsBrokenLink(t *testing.T) {
	blocks := mineChain(t, 3)
	blocks[1].PrevHash = make([]byte, 32)
	require.NoError(t, blocks[1].Mine(context.Background()))

	assert.Error(t, ValidateChain(blocks))
}

func TestMineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBlock(0, nil, nil, 32, 0)
	assert.ErrorIs(t, b.Mine(ctx), context.Canceled)
}
