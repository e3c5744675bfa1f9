package metatx

import (
	"encoding/json"
	"fmt"

	"github.com/r3e-network/faas-core/internal/store"
)

const recordPrefix = "metatx/records/"

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

// RecordStore persists meta-tx Records keyed by request ID.
type RecordStore struct {
	db *store.DB
}

// NewRecordStore wraps db.
func NewRecordStore(db *store.DB) *RecordStore { return &RecordStore{db: db} }

// Put inserts or overwrites a record.
func (s *RecordStore) Put(r *Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal metatx record %s: %w", r.Request.ID, err)
	}
	return s.db.Put(recordKey(r.Request.ID), b)
}

// Get loads a record by request ID.
func (s *RecordStore) Get(id string) (*Record, error) {
	b, err := s.db.Get(recordKey(id))
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("unmarshal metatx record %s: %w", id, err)
	}
	return &r, nil
}

// ListPending returns every record still awaiting reconciliation, for use
// by a restart-recovery scan that resumes polling.
func (s *RecordStore) ListPending() ([]*Record, error) {
	it := s.db.IteratePrefix([]byte(recordPrefix))
	defer it.Release()

	var out []*Record
	for it.Next() {
		var r Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			continue
		}
		if r.State == StateOnChain || r.State == StatePending {
			rCopy := r
			out = append(out, &rCopy)
		}
	}
	return out, it.Error()
}
