package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"voting-core/models"
)

// Chain is a whole hash-linked ledger as persisted on disk.
type Chain struct {
	Blocks []*models.Block `json:"blocks"`
}

// ChainStore persists named chains as zstd-compressed JSON files, one per
// chain, rewritten atomically on every append.
type ChainStore struct {
	basePath string
	mu       sync.RWMutex
	chains   map[string]*Chain

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewChainStore(basePath string) (*ChainStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create chain directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ChainStore{
		basePath: basePath,
		chains:   make(map[string]*Chain),
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

// AppendBlock adds block to the named chain and persists the chain.
func (s *ChainStore) AppendBlock(name string, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := s.chainLocked(name)
	if err != nil {
		return err
	}

	chain.Blocks = append(chain.Blocks, block)
	if err := s.saveChainToFile(name, chain); err != nil {
		chain.Blocks = chain.Blocks[:len(chain.Blocks)-1]
		return err
	}
	return nil
}

// LoadChain returns a copy of the named chain's block list. A chain that
// was never written is empty.
func (s *ChainStore) LoadChain(name string) ([]*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := s.chainLocked(name)
	if err != nil {
		return nil, err
	}

	blocks := make([]*models.Block, len(chain.Blocks))
	copy(blocks, chain.Blocks)
	return blocks, nil
}

func (s *ChainStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *ChainStore) chainLocked(name string) (*Chain, error) {
	if chain, ok := s.chains[name]; ok {
		return chain, nil
	}

	chain, err := s.loadChainFromFile(name)
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", name, err)
	}
	s.chains[name] = chain
	return chain, nil
}

func (s *ChainStore) path(name string) string {
	return filepath.Join(s.basePath, name+"_chain.json.zst")
}

func (s *ChainStore) loadChainFromFile(name string) (*Chain, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return &Chain{Blocks: make([]*models.Block, 0)}, nil
		}
		return nil, err
	}

	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress chain: %w", err)
	}

	var chain Chain
	if err := json.Unmarshal(raw, &chain); err != nil {
		return nil, fmt.Errorf("unmarshal chain: %w", err)
	}
	return &chain, nil
}

func (s *ChainStore) saveChainToFile(name string, chain *Chain) error {
	raw, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("marshal chain: %w", err)
	}
	data := s.encoder.EncodeAll(raw, nil)

	// Write to a temporary file first, then rename over the old one.
	path := s.path(name)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write chain file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("save chain file: %w", err)
	}
	return nil
}
