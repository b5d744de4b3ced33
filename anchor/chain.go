package anchor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"voting-core/models"
)

// BlockStore persists the blocks of named chains.
type BlockStore interface {
	AppendBlock(name string, block *models.Block) error
	LoadChain(name string) ([]*models.Block, error)
}

type ChainConfig struct {
	Name          string
	Difficulty    uint8
	BatchSize     int
	BlockInterval time.Duration
	// Confirmations is the number of blocks, counting the one holding the
	// entry, required before an entry reads as committed.
	Confirmations int
}

func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		Name:          "votes",
		Difficulty:    1,
		BatchSize:     10,
		BlockInterval: 5 * time.Second,
		Confirmations: 1,
	}
}

// ChainLedger is a local append-only ledger: a hash-linked proof-of-work
// chain whose blocks hold batches of payloads. Payloads inside a block are
// shuffled so block order does not reveal submission order.
type ChainLedger struct {
	cfg   ChainConfig
	store BlockStore
	log   zerolog.Logger

	mu      sync.RWMutex
	blocks  []*models.Block
	pending [][]byte
	// handle hex -> block index, or -1 while pending
	index map[string]int

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Ledger = (*ChainLedger)(nil)

// NewChainLedger loads and validates the stored chain, creating the genesis
// block on first use.
func NewChainLedger(cfg ChainConfig, store BlockStore, logger zerolog.Logger) (*ChainLedger, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 1
	}

	blocks, err := store.LoadChain(cfg.Name)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateChain(blocks); err != nil {
		return nil, fmt.Errorf("stored chain %s is invalid: %w", cfg.Name, err)
	}

	l := &ChainLedger{
		cfg:    cfg,
		store:  store,
		log:    logger.With().Str("component", "chain-ledger").Str("chain", cfg.Name).Logger(),
		blocks: blocks,
		index:  make(map[string]int),
		stop:   make(chan struct{}),
	}

	for i, b := range blocks {
		for _, e := range b.Entries {
			l.index[handleKey(Handle(e))] = i
		}
	}

	if len(blocks) == 0 {
		genesis := models.NewBlock(0, nil, make([]byte, 32), cfg.Difficulty, time.Now().Unix())
		if err := genesis.Mine(context.Background()); err != nil {
			return nil, err
		}
		if err := store.AppendBlock(cfg.Name, genesis); err != nil {
			return nil, fmt.Errorf("save genesis block: %w", err)
		}
		l.blocks = append(l.blocks, genesis)
	}

	l.log.Info().Int("blocks", len(l.blocks)).Msg("chain loaded")
	return l, nil
}

// Handle is the ledger handle of a payload: its blake3 digest.
func Handle(payload []byte) models.AnchorHandle {
	sum := blake3.Sum256(payload)
	return sum[:]
}

// Commit queues payload for the next block. Committing the same payload
// again returns the existing handle.
func (l *ChainLedger) Commit(ctx context.Context, payload []byte) (models.AnchorHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	handle := Handle(payload)
	key := handleKey(handle)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[key]; ok {
		return handle, nil
	}

	l.pending = append(l.pending, append([]byte(nil), payload...))
	l.index[key] = -1

	if len(l.pending) >= l.cfg.BatchSize {
		// A failed seal leaves the batch pending for the next attempt.
		if err := l.sealLocked(context.Background()); err != nil {
			l.log.Warn().Err(err).Msg("sealing block failed")
		}
	}

	return handle, nil
}

func (l *ChainLedger) Confirm(ctx context.Context, handle models.AnchorHandle) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusPending, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.index[handleKey(handle)]
	switch {
	case !ok:
		return StatusFailed, nil
	case pos < 0:
		return StatusPending, nil
	case l.committedLocked(pos):
		return StatusCommitted, nil
	default:
		return StatusPending, nil
	}
}

// Scan visits entries of sufficiently confirmed blocks, oldest first.
func (l *ChainLedger) Scan(ctx context.Context, fn func(Entry) error) error {
	l.mu.RLock()
	var blocks []*models.Block
	for i, b := range l.blocks {
		if l.committedLocked(i) {
			blocks = append(blocks, b)
		}
	}
	l.mu.RUnlock()

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, payload := range b.Entries {
			entry := Entry{
				Handle:   Handle(payload),
				Payload:  payload,
				Position: b.Index,
				Time:     b.Time(),
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// Seal mines all pending payloads into a new block now.
func (l *ChainLedger) Seal(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sealLocked(ctx)
}

// Start seals pending payloads every BlockInterval until Close.
func (l *ChainLedger) Start() {
	if l.cfg.BlockInterval <= 0 {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.cfg.BlockInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := l.Seal(context.Background()); err != nil {
					l.log.Warn().Err(err).Msg("periodic seal failed")
				}
			case <-l.stop:
				return
			}
		}
	}()
}

// Close stops the sealing loop and seals whatever is still pending.
func (l *ChainLedger) Close() error {
	select {
	case <-l.stop:
		return nil
	default:
		close(l.stop)
	}
	l.wg.Wait()
	return l.Seal(context.Background())
}

// Validate re-checks the whole chain.
func (l *ChainLedger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return models.ValidateChain(l.blocks)
}

func (l *ChainLedger) Height() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.blocks)
}

func (l *ChainLedger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pending)
}

func (l *ChainLedger) sealLocked(ctx context.Context) error {
	if len(l.pending) == 0 {
		return nil
	}

	entries, err := shuffle(l.pending)
	if err != nil {
		return fmt.Errorf("shuffle batch: %w", err)
	}

	last := l.blocks[len(l.blocks)-1]
	timestamp := time.Now().Unix()
	if timestamp < last.Timestamp {
		timestamp = last.Timestamp
	}

	block := models.NewBlock(last.Index+1, entries, last.Hash, l.cfg.Difficulty, timestamp)
	if err := block.Mine(ctx); err != nil {
		return fmt.Errorf("mine block %d: %w", block.Index, err)
	}
	if err := l.store.AppendBlock(l.cfg.Name, block); err != nil {
		return fmt.Errorf("save block %d: %w", block.Index, err)
	}

	pos := len(l.blocks)
	l.blocks = append(l.blocks, block)
	for _, e := range entries {
		l.index[handleKey(Handle(e))] = pos
	}
	l.pending = nil

	l.log.Debug().Uint64("block", block.Index).Int("entries", len(entries)).Msg("block sealed")
	return nil
}

func (l *ChainLedger) committedLocked(pos int) bool {
	return len(l.blocks)-pos >= l.cfg.Confirmations
}

// shuffle returns a Fisher-Yates permutation of entries driven by
// crypto/rand.
func shuffle(entries [][]byte) ([][]byte, error) {
	out := make([][]byte, len(entries))
	copy(out, entries)

	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return out, nil
}

func handleKey(h models.AnchorHandle) string {
	return hex.EncodeToString(h)
}
