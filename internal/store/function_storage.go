package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const storagePrefix = "storage/"

// FunctionStorage is the namespaced key/value capability behind the
// sandboxed `storage.*` host calls (§4.2: "namespaced per (owner,
// function-id)"). Key/value size bounds are enforced by the host-API
// bridge before a call reaches here; this layer only persists and expires.
type FunctionStorage struct {
	db *DB
}

// NewFunctionStorage wraps db.
func NewFunctionStorage(db *DB) *FunctionStorage { return &FunctionStorage{db: db} }

type storedValue struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (s storedValue) expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

func storageKey(ownerID, functionID, key string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s", storagePrefix, ownerID, functionID, key))
}

func storageNamespacePrefix(ownerID, functionID, prefix string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s", storagePrefix, ownerID, functionID, prefix))
}

// Get implements sandbox.StoragePort. A missing or TTL-expired key both
// return (nil, nil), matching the "absent" case a script's storage.get
// should see without needing to distinguish the two.
func (s *FunctionStorage) Get(ctx context.Context, ownerID, functionID, key string) ([]byte, error) {
	raw, err := s.db.Get(storageKey(ownerID, functionID, key))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v storedValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal stored value %s/%s/%s: %w", ownerID, functionID, key, err)
	}
	if v.expired() {
		_ = s.db.Delete(storageKey(ownerID, functionID, key))
		return nil, nil
	}
	return v.Value, nil
}

// Set implements sandbox.StoragePort. ttlSeconds <= 0 means no expiry.
func (s *FunctionStorage) Set(ctx context.Context, ownerID, functionID, key string, value []byte, ttlSeconds int64) error {
	v := storedValue{Value: value}
	if ttlSeconds > 0 {
		v.ExpiresAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stored value %s/%s/%s: %w", ownerID, functionID, key, err)
	}
	return s.db.Put(storageKey(ownerID, functionID, key), b)
}

// Delete implements sandbox.StoragePort.
func (s *FunctionStorage) Delete(ctx context.Context, ownerID, functionID, key string) error {
	return s.db.Delete(storageKey(ownerID, functionID, key))
}

// List implements sandbox.StoragePort, returning up to limit keys (with the
// namespace prefix stripped) sharing prefix, in lexicographic order.
// Expired entries are skipped but not proactively deleted (they are
// reclaimed lazily on next Get).
func (s *FunctionStorage) List(ctx context.Context, ownerID, functionID, prefix string, limit int) ([]string, error) {
	nsPrefix := storageNamespacePrefix(ownerID, functionID, prefix)
	it := s.db.IteratePrefix(nsPrefix)
	defer it.Release()

	base := string(storageKey(ownerID, functionID, ""))
	var out []string
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var v storedValue
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			continue
		}
		if v.expired() {
			continue
		}
		out = append(out, strings.TrimPrefix(string(it.Key()), base))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
