package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"voting-core/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrVoterExists    = errors.New("voter already registered")
	ErrElectionExists = errors.New("election already exists")
	ErrTagConfirmed   = errors.New("linkability tag already confirmed")
)

const (
	prefixVoter    = "voter/"
	prefixVoterKey = "voterkey/"
	prefixElection = "election/"
	prefixTag      = "tag/"
)

// TagState is the lifecycle of a linkability tag inside one election.
type TagState string

const (
	TagPending   TagState = "pending"
	TagConfirmed TagState = "confirmed"
)

// TagEntry is the tag index value.
type TagEntry struct {
	State     TagState           `json:"state"`
	Record    *models.VoteRecord `json:"record"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store layers voter, election and tag-index records over a KV. Uniqueness
// checks and their writes happen under one lock, so they are atomic for
// every caller sharing the Store.
type Store struct {
	kv KV

	voterMu    sync.Mutex
	electionMu sync.Mutex

	tagMu    sync.Mutex
	tagLocks map[string]*sync.Mutex
}

func NewStore(kv KV) *Store {
	return &Store{
		kv:       kv,
		tagLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// SaveVoter registers a voter. Both the handle and the public key must be
// new.
func (s *Store) SaveVoter(rec *models.VoterRecord) error {
	if rec == nil || rec.Handle == "" || len(rec.PublicKey) == 0 {
		return errors.New("voter record needs a handle and a public key")
	}

	s.voterMu.Lock()
	defer s.voterMu.Unlock()

	handleKey := []byte(prefixVoter + rec.Handle)
	keyKey := voterKeyKey(rec.PublicKey)

	existing, err := s.kv.Get(handleKey)
	if err != nil {
		return fmt.Errorf("lookup voter: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: handle %s", ErrVoterExists, rec.Handle)
	}
	existing, err = s.kv.Get(keyKey)
	if err != nil {
		return fmt.Errorf("lookup voter key: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: public key in use", ErrVoterExists)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal voter: %w", err)
	}
	return s.kv.SetBatch([]KeyValue{
		{Key: handleKey, Value: data},
		{Key: keyKey, Value: []byte(rec.Handle)},
	})
}

func (s *Store) GetVoter(handle string) (*models.VoterRecord, error) {
	data, err := s.kv.Get([]byte(prefixVoter + handle))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("voter %s: %w", handle, ErrNotFound)
	}

	var rec models.VoterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal voter: %w", err)
	}
	return &rec, nil
}

func (s *Store) HasVoterKey(publicKey []byte) (bool, error) {
	data, err := s.kv.Get(voterKeyKey(publicKey))
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// VoterPublicKeys returns the keys of every registered voter, ordered by
// key bytes.
func (s *Store) VoterPublicKeys() ([][]byte, error) {
	var keys [][]byte
	err := s.kv.IteratePrefix([]byte(prefixVoterKey), func(key, _ []byte) error {
		raw, err := hex.DecodeString(string(key[len(prefixVoterKey):]))
		if err != nil {
			return fmt.Errorf("corrupt voter key index: %w", err)
		}
		keys = append(keys, raw)
		return nil
	})
	return keys, err
}

func (s *Store) SaveElection(e *models.Election) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.electionMu.Lock()
	defer s.electionMu.Unlock()

	key := []byte(prefixElection + e.ID)
	existing, err := s.kv.Get(key)
	if err != nil {
		return fmt.Errorf("lookup election: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrElectionExists, e.ID)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal election: %w", err)
	}
	return s.kv.Set(key, data)
}

func (s *Store) GetElection(id string) (*models.Election, error) {
	data, err := s.kv.Get([]byte(prefixElection + id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("election %s: %w", id, ErrNotFound)
	}

	var e models.Election
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal election: %w", err)
	}
	return &e, nil
}

func (s *Store) ListElections() ([]*models.Election, error) {
	var out []*models.Election
	err := s.kv.IteratePrefix([]byte(prefixElection), func(_, value []byte) error {
		var e models.Election
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("unmarshal election: %w", err)
		}
		out = append(out, &e)
		return nil
	})
	return out, err
}

// ActiveElection returns the open election with the latest start time.
func (s *Store) ActiveElection(now time.Time) (*models.Election, error) {
	elections, err := s.ListElections()
	if err != nil {
		return nil, err
	}

	var open []*models.Election
	for _, e := range elections {
		if e.IsOpenAt(now) {
			open = append(open, e)
		}
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("active election: %w", ErrNotFound)
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].StartTime.After(open[j].StartTime)
	})
	return open[0], nil
}

// GetTag returns the index entry for tag in electionID, or ErrNotFound.
func (s *Store) GetTag(electionID string, tag []byte) (*TagEntry, error) {
	data, err := s.kv.Get(tagKey(electionID, tag))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}

	var entry TagEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal tag entry: %w", err)
	}
	return &entry, nil
}

// PutPending records a submitted but unconfirmed vote. An existing pending
// entry is replaced; a confirmed one is never touched.
func (s *Store) PutPending(electionID string, tag []byte, rec *models.VoteRecord) error {
	mu := s.electionLock(electionID)
	mu.Lock()
	defer mu.Unlock()

	entry, err := s.GetTag(electionID, tag)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if entry != nil && entry.State == TagConfirmed {
		return ErrTagConfirmed
	}

	return s.putTag(electionID, tag, &TagEntry{State: TagPending, Record: rec, UpdatedAt: time.Now()})
}

// MarkConfirmed stores rec as the counted vote for tag unless another
// record already holds it. It reports whether rec won.
func (s *Store) MarkConfirmed(electionID string, tag []byte, rec *models.VoteRecord) (bool, error) {
	mu := s.electionLock(electionID)
	mu.Lock()
	defer mu.Unlock()

	entry, err := s.GetTag(electionID, tag)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if entry != nil && entry.State == TagConfirmed {
		return false, nil
	}

	if err := s.putTag(electionID, tag, &TagEntry{State: TagConfirmed, Record: rec, UpdatedAt: time.Now()}); err != nil {
		return false, err
	}
	return true, nil
}

// CountTags returns the number of pending and confirmed tags in an election.
func (s *Store) CountTags(electionID string) (pending, confirmed int, err error) {
	prefix := []byte(prefixTag + hex.EncodeToString([]byte(electionID)) + "/")
	err = s.kv.IteratePrefix(prefix, func(_, value []byte) error {
		var entry TagEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("unmarshal tag entry: %w", err)
		}
		switch entry.State {
		case TagPending:
			pending++
		case TagConfirmed:
			confirmed++
		}
		return nil
	})
	return pending, confirmed, err
}

func (s *Store) putTag(electionID string, tag []byte, entry *TagEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal tag entry: %w", err)
	}
	return s.kv.Set(tagKey(electionID, tag), data)
}

func (s *Store) electionLock(electionID string) *sync.Mutex {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	mu, ok := s.tagLocks[electionID]
	if !ok {
		mu = &sync.Mutex{}
		s.tagLocks[electionID] = mu
	}
	return mu
}

func voterKeyKey(publicKey []byte) []byte {
	return []byte(prefixVoterKey + hex.EncodeToString(publicKey))
}

// Election ids are hex encoded so they never contain the separator.
func tagKey(electionID string, tag []byte) []byte {
	return []byte(prefixTag + hex.EncodeToString([]byte(electionID)) + "/" + hex.EncodeToString(tag))
}
