package models

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Block is one sealed batch of anchored payloads in the local chain ledger.
type Block struct {
	Index      uint64   `json:"index"`
	Timestamp  int64    `json:"timestamp"`
	Entries    [][]byte `json:"entries"`
	PrevHash   []byte   `json:"prev_hash"`
	Hash       []byte   `json:"hash"`
	Nonce      uint64   `json:"nonce"`
	Difficulty uint8    `json:"difficulty"` // Number of leading zero bytes required
}

func NewBlock(index uint64, entries [][]byte, prevHash []byte, difficulty uint8, timestamp int64) *Block {
	return &Block{
		Index:      index,
		Timestamp:  timestamp,
		Entries:    entries,
		PrevHash:   prevHash,
		Difficulty: difficulty,
	}
}

// Mine searches for a nonce satisfying the difficulty. It stops early when
// ctx is cancelled.
func (b *Block) Mine(ctx context.Context) error {
	target := make([]byte, b.Difficulty)
	root := b.entriesRoot()

	var nonce uint64
	for {
		b.Nonce = nonce
		b.Hash = b.headerHash(root)

		// Check if we have enough leading zeros
		if bytes.HasPrefix(b.Hash, target) {
			return nil
		}

		nonce++
		if nonce%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

func (b *Block) entriesRoot() []byte {
	h := blake3.New()
	var n [4]byte
	for _, e := range b.Entries {
		binary.BigEndian.PutUint32(n[:], uint32(len(e)))
		h.Write(n[:])
		h.Write(e)
	}
	return h.Sum(nil)
}

func (b *Block) headerHash(root []byte) []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.BigEndian, b.Index)
	binary.Write(buffer, binary.BigEndian, b.Timestamp)
	buffer.Write(root)
	buffer.Write(b.PrevHash)
	binary.Write(buffer, binary.BigEndian, b.Nonce)
	binary.Write(buffer, binary.BigEndian, b.Difficulty)

	sum := blake3.Sum256(buffer.Bytes())
	return sum[:]
}

func (b *Block) calculateHash() []byte {
	return b.headerHash(b.entriesRoot())
}

func (b *Block) Validate() error {
	// Verify hash calculation
	if !bytes.Equal(b.calculateHash(), b.Hash) {
		return fmt.Errorf("block %d: hash mismatch", b.Index)
	}

	// Verify difficulty requirement
	if !bytes.HasPrefix(b.Hash, make([]byte, b.Difficulty)) {
		return fmt.Errorf("block %d: difficulty not met", b.Index)
	}
	return nil
}

func (b *Block) Time() time.Time {
	return time.Unix(b.Timestamp, 0)
}

// ValidateChain checks every block and the links between them.
func ValidateChain(blocks []*Block) error {
	for i, block := range blocks {
		if err := block.Validate(); err != nil {
			return err
		}
		if block.Index != uint64(i) {
			return fmt.Errorf("block %d: unexpected index %d", i, block.Index)
		}
		if i == 0 {
			continue
		}

		previous := blocks[i-1]
		if !bytes.Equal(block.PrevHash, previous.Hash) {
			return fmt.Errorf("block %d: broken link to previous block", i)
		}
		if block.Timestamp < previous.Timestamp {
			return fmt.Errorf("block %d: timestamp goes backwards", i)
		}
	}
	return nil
}
