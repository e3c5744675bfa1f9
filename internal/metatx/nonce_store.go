package metatx

import (
	"encoding/binary"
	"sync"

	"github.com/r3e-network/faas-core/internal/store"
)

const noncePrefix = "nonce/"

func nonceKey(blockchain, sender string) []byte {
	return []byte(noncePrefix + blockchain + "/" + sender)
}

// NonceStore persists the highest successfully-submitted nonce per
// (blockchain, sender), serialized per-sender (§4.3: "Concurrent submits
// for the same sender are serialized through a per-sender lock").
type NonceStore struct {
	db *store.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewNonceStore wraps db.
func NewNonceStore(db *store.DB) *NonceStore {
	return &NonceStore{db: db, locks: make(map[string]*sync.Mutex)}
}

func (s *NonceStore) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// Current returns the highest stored nonce for (blockchain, sender), or 0
// if none has been submitted yet.
func (s *NonceStore) Current(blockchain, sender string) (uint64, error) {
	b, err := s.db.Get(nonceKey(blockchain, sender))
	if err == store.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Next returns the nonce a new request from sender must use.
func (s *NonceStore) Next(blockchain, sender string) (uint64, error) {
	key := blockchain + "/" + sender
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.Current(blockchain, sender)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

// Lock serializes a (blockchain, sender)'s submit path; callers must call
// the returned unlock func exactly once.
func (s *NonceStore) Lock(blockchain, sender string) (unlock func()) {
	mu := s.lockFor(blockchain + "/" + sender)
	mu.Lock()
	return mu.Unlock
}

// Advance persists nonce as the new highest successfully-submitted value.
// Callers must hold the Lock for (blockchain, sender).
func (s *NonceStore) Advance(blockchain, sender string, nonce uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, nonce)
	return s.db.Put(nonceKey(blockchain, sender), b)
}
