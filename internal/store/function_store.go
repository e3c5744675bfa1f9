package store

import (
	"encoding/json"
	"fmt"

	"github.com/r3e-network/faas-core/internal/faas"
)

const functionPrefix = "functions/"

// FunctionStore persists Function versions under functions/{id}/v{n} (§6).
type FunctionStore struct {
	db *DB
}

// NewFunctionStore wraps db.
func NewFunctionStore(db *DB) *FunctionStore { return &FunctionStore{db: db} }

func functionKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s/v%d", functionPrefix, id, version))
}

func functionPrefixKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s/", functionPrefix, id))
}

// Put stores a specific version.
func (s *FunctionStore) Put(f *faas.Function) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal function %s v%d: %w", f.ID, f.Version, err)
	}
	return s.db.Put(functionKey(f.ID, f.Version), b)
}

// Get loads a specific version.
func (s *FunctionStore) Get(id string, version int) (*faas.Function, error) {
	b, err := s.db.Get(functionKey(id, version))
	if err != nil {
		return nil, err
	}
	var f faas.Function
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal function %s v%d: %w", id, version, err)
	}
	return &f, nil
}

// Latest returns the highest-versioned record for id, regardless of
// lifecycle state.
func (s *FunctionStore) Latest(id string) (*faas.Function, error) {
	it := s.db.IteratePrefix(functionPrefixKey(id))
	defer it.Release()

	var latest *faas.Function
	for it.Next() {
		var f faas.Function
		if err := json.Unmarshal(it.Value(), &f); err != nil {
			continue
		}
		if latest == nil || f.Version > latest.Version {
			fCopy := f
			latest = &fCopy
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// List returns every function ID that has at least one version, each
// resolved to its Latest record.
func (s *FunctionStore) List() ([]*faas.Function, error) {
	it := s.db.IteratePrefix([]byte(functionPrefix))
	defer it.Release()

	byID := map[string]*faas.Function{}
	for it.Next() {
		var f faas.Function
		if err := json.Unmarshal(it.Value(), &f); err != nil {
			continue
		}
		if cur, ok := byID[f.ID]; !ok || f.Version > cur.Version {
			fCopy := f
			byID[f.ID] = &fCopy
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	out := make([]*faas.Function, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	return out, nil
}
