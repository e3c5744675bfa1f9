package store

import (
	"encoding/json"
	"fmt"
)

const followerPrefix = "follower/"

// FollowerPosition is the persisted (height, hash) the ingestion loop has
// fully processed (§4.1, §6 "follower/{chain}").
type FollowerPosition struct {
	Height uint32
	Hash   string
}

// FollowerStore persists one position per chain identifier.
type FollowerStore struct {
	db *DB
}

// NewFollowerStore wraps db.
func NewFollowerStore(db *DB) *FollowerStore { return &FollowerStore{db: db} }

func followerKey(chain string) []byte { return []byte(followerPrefix + chain) }

// Get returns the stored position, or the zero value if none has been
// committed yet.
func (s *FollowerStore) Get(chain string) (FollowerPosition, error) {
	b, err := s.db.Get(followerKey(chain))
	if err == ErrNotFound {
		return FollowerPosition{}, nil
	}
	if err != nil {
		return FollowerPosition{}, err
	}
	var p FollowerPosition
	if err := json.Unmarshal(b, &p); err != nil {
		return FollowerPosition{}, fmt.Errorf("unmarshal follower position: %w", err)
	}
	return p, nil
}

// Commit advances the stored position. The follower is the single writer
// for a given chain (§5); callers must serialize their own calls.
func (s *FollowerStore) Commit(chain string, pos FollowerPosition) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal follower position: %w", err)
	}
	return s.db.Put(followerKey(chain), b)
}

// BlockHashStore records the committed hash of each processed height so the
// follower can detect reorgs by comparing a new block's parent-hash (§4.1).
type BlockHashStore struct {
	db    *DB
	chain string
}

// NewBlockHashStore scopes hash lookups to one chain.
func NewBlockHashStore(db *DB, chain string) *BlockHashStore {
	return &BlockHashStore{db: db, chain: chain}
}

func (s *BlockHashStore) key(height uint32) []byte {
	return []byte(fmt.Sprintf("%sheights/%s/%012d", followerPrefix, s.chain, height))
}

// Set records the canonical hash for height.
func (s *BlockHashStore) Set(height uint32, hash string) error {
	return s.db.Put(s.key(height), []byte(hash))
}

// Get returns the hash stored for height, or ("", ErrNotFound).
func (s *BlockHashStore) Get(height uint32) (string, error) {
	b, err := s.db.Get(s.key(height))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Delete forgets the hash for height, used when rewinding past it during
// reorg recovery.
func (s *BlockHashStore) Delete(height uint32) error {
	return s.db.Delete(s.key(height))
}

// HeightTaskIndex tracks which task IDs were derived from which block
// height, so a reorg can find and supersede/cancel the tasks it invalidates
// (§4.1 "invalidates tasks from affected blocks that have not yet started
// running").
type HeightTaskIndex struct {
	db    *DB
	chain string
}

// NewHeightTaskIndex scopes the index to one chain.
func NewHeightTaskIndex(db *DB, chain string) *HeightTaskIndex {
	return &HeightTaskIndex{db: db, chain: chain}
}

func (s *HeightTaskIndex) key(height uint32) []byte {
	return []byte(fmt.Sprintf("%stasks/%s/%012d", followerPrefix, s.chain, height))
}

// Record appends taskIDs derived from height.
func (s *HeightTaskIndex) Record(height uint32, taskIDs []string) error {
	existing, _ := s.Get(height)
	existing = append(existing, taskIDs...)
	b, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal height task index: %w", err)
	}
	return s.db.Put(s.key(height), b)
}

// Get returns the task IDs recorded for height.
func (s *HeightTaskIndex) Get(height uint32) ([]string, error) {
	b, err := s.db.Get(s.key(height))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal height task index: %w", err)
	}
	return ids, nil
}

// Delete forgets the index entry for height.
func (s *HeightTaskIndex) Delete(height uint32) error {
	return s.db.Delete(s.key(height))
}
