package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const defaultSyncInterval = 100 * time.Millisecond

// PebbleKV is a KV backed by Pebble. Writes skip fsync and a background
// goroutine syncs the WAL periodically.
type PebbleKV struct {
	db       *pebble.DB
	stopSync chan struct{}
	wg       sync.WaitGroup
}

var _ KV = (*PebbleKV)(nil)

// OpenPebble opens or creates a database at path.
func OpenPebble(path string) (*PebbleKV, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(16 << 20),
		MemTableSize:                8 << 20,
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	s := &PebbleKV{
		db:       db,
		stopSync: make(chan struct{}),
	}
	s.startSyncLoop(defaultSyncInterval)

	return s, nil
}

func (s *PebbleKV) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// value is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (s *PebbleKV) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

func (s *PebbleKV) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// SetBatch writes all pairs atomically.
func (s *PebbleKV) SetBatch(pairs []KeyValue) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.NoSync)
}

func (s *PebbleKV) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Close stops the sync loop, flushes the WAL and closes the database.
func (s *PebbleKV) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *PebbleKV) startSyncLoop(interval time.Duration) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

func (s *PebbleKV) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
