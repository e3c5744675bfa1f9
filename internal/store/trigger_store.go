package store

import (
	"encoding/json"
	"fmt"

	"github.com/r3e-network/faas-core/internal/faas"
	"github.com/r3e-network/faas-core/internal/faaserr"
)

const triggerPrefix = "triggers/"

// TriggerStore persists TriggerSubscriptions under triggers/{id} (§6) and
// enforces the (function-id, kind, filter-hash) uniqueness constraint.
type TriggerStore struct {
	db *DB
}

// NewTriggerStore wraps db.
func NewTriggerStore(db *DB) *TriggerStore { return &TriggerStore{db: db} }

func triggerKey(id string) []byte { return []byte(triggerPrefix + id) }

// Register inserts sub, rejecting a duplicate (function-id, kind,
// filter-hash) tuple with InvalidRequest.
func (s *TriggerStore) Register(sub faas.TriggerSubscription) error {
	existing, err := s.List()
	if err != nil {
		return err
	}
	want := sub.Key()
	for _, e := range existing {
		if e.Key() == want {
			return faaserr.New(faaserr.InvalidRequest, "duplicate trigger subscription for function=%s kind=%s", sub.FunctionID, sub.Spec.Kind)
		}
	}
	b, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal trigger %s: %w", sub.ID, err)
	}
	return s.db.Put(triggerKey(sub.ID), b)
}

// Remove deletes a subscription by ID.
func (s *TriggerStore) Remove(id string) error {
	return s.db.Delete(triggerKey(id))
}

// RemoveByFunction deletes every subscription owned by functionID (§3:
// "destroyed with it").
func (s *TriggerStore) RemoveByFunction(functionID string) error {
	subs, err := s.List()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	for _, sub := range subs {
		if sub.FunctionID == functionID {
			batch.Delete(triggerKey(sub.ID))
		}
	}
	return s.db.Commit(batch)
}

// List returns every registered subscription.
func (s *TriggerStore) List() ([]faas.TriggerSubscription, error) {
	it := s.db.IteratePrefix([]byte(triggerPrefix))
	defer it.Release()

	var out []faas.TriggerSubscription
	for it.Next() {
		var sub faas.TriggerSubscription
		if err := json.Unmarshal(it.Value(), &sub); err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, it.Error()
}

// ByKind returns every subscription of the given kind, for fast matching
// during ingestion.
func (s *TriggerStore) ByKind(kind faas.TriggerKindTag) ([]faas.TriggerSubscription, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []faas.TriggerSubscription
	for _, sub := range all {
		if sub.Spec.Kind == kind {
			out = append(out, sub)
		}
	}
	return out, nil
}
