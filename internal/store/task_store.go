package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/r3e-network/faas-core/internal/faas"
	"github.com/r3e-network/faas-core/internal/faaserr"
)

const taskPrefix = "tasks/"

// TaskStore persists Task records with optimistic-concurrency transitions
// (§5: "a state transition that finds an unexpected prior state aborts and
// re-reads").
type TaskStore struct {
	db *DB
	mu sync.Mutex // serializes CompareAndTransition's read-check-write
}

// NewTaskStore wraps db.
func NewTaskStore(db *DB) *TaskStore { return &TaskStore{db: db} }

func taskKey(id string) []byte { return []byte(taskPrefix + id) }

// Put inserts or overwrites a task record unconditionally. Used only for the
// initial Queued insert; all subsequent transitions go through CAS.
func (s *TaskStore) Put(t *faas.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return s.db.Put(taskKey(t.ID), b)
}

// Get loads a task by ID.
func (s *TaskStore) Get(id string) (*faas.Task, error) {
	b, err := s.db.Get(taskKey(id))
	if err != nil {
		return nil, err
	}
	var t faas.Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &t, nil
}

// ErrStalePrecondition signals the CAS found an unexpected prior status; the
// caller must re-read and retry (§5).
var ErrStalePrecondition = faaserr.New(faaserr.Internal, "task transition precondition failed")

// CompareAndTransition atomically mutates a task's status iff its current
// persisted status equals expectFrom, applying mutate to the loaded record
// before writing it back. Returns ErrStalePrecondition on mismatch.
//
// This is the mechanism behind idempotent completion markers: a crash
// between "mark Running" and "apply side effects" is safe because a
// duplicate BeginRunning on the same task-id finds status != Queued and is
// rejected rather than running the same task-id twice (§1 Non-goals, §8).
func (s *TaskStore) CompareAndTransition(id string, expectFrom faas.TaskStatus, mutate func(*faas.Task)) (*faas.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status != expectFrom {
		return nil, ErrStalePrecondition
	}
	mutate(t)
	if err := s.Put(t); err != nil {
		return nil, err
	}
	return t, nil
}

// BeginRunning transitions Queued -> Running. Returns ErrStalePrecondition if
// the task is not currently Queued (e.g. a duplicate at-least-once redelivery
// racing an in-flight attempt).
func (s *TaskStore) BeginRunning(id string) (*faas.Task, error) {
	return s.CompareAndTransition(id, faas.TaskQueued, func(t *faas.Task) {
		t.Status = faas.TaskRunning
		t.AttemptCount++
	})
}

// Complete transitions Running -> Completed, persisting the result payload.
func (s *TaskStore) Complete(id string, result []byte, logTail []byte) (*faas.Task, error) {
	return s.CompareAndTransition(id, faas.TaskRunning, func(t *faas.Task) {
		t.Status = faas.TaskCompleted
		t.Result = result
		t.LogTail = logTail
	})
}

// Fail transitions Running -> (Queued | DeadLetter) depending on remaining
// attempt budget, recording the failure kind and log tail.
func (s *TaskStore) Fail(id string, kind faaserr.Kind, logTail []byte) (*faas.Task, error) {
	return s.CompareAndTransition(id, faas.TaskRunning, func(t *faas.Task) {
		t.FailureKind = string(kind)
		t.LogTail = logTail
		if faaserr.Retryable(kind) {
			t.Status = t.NextOnFailure()
		} else {
			t.Status = faas.TaskDeadLetter
		}
	})
}

// Supersede marks a still-Queued task as cancelled by a reorg (§4.1). A
// Running task is left alone to complete; its result is marked Superseded
// by MarkResultSuperseded instead.
func (s *TaskStore) Supersede(id string) (*faas.Task, error) {
	return s.CompareAndTransition(id, faas.TaskQueued, func(t *faas.Task) {
		t.Status = faas.TaskDeadLetter
		t.Superseded = true
		t.FailureKind = string(faaserr.Cancelled)
	})
}

// MarkResultSuperseded flags a task whose source block was reorged out
// while it was already Running; it is allowed to finish, but its Completed
// result is annotated (§4.1).
func (s *TaskStore) MarkResultSuperseded(id string) error {
	t, err := s.Get(id)
	if err != nil {
		return err
	}
	t.Superseded = true
	return s.Put(t)
}

// ListByStatus scans all tasks with the given status. Intended for recovery
// on restart (requeueing Running tasks left over from a crash) and for
// DeadLetter visibility via logs.
func (s *TaskStore) ListByStatus(status faas.TaskStatus) ([]*faas.Task, error) {
	it := s.db.IteratePrefix([]byte(taskPrefix))
	defer it.Release()

	var out []*faas.Task
	for it.Next() {
		var t faas.Task
		if err := json.Unmarshal(it.Value(), &t); err != nil {
			continue
		}
		if t.Status == status {
			tCopy := t
			out = append(out, &tCopy)
		}
	}
	return out, it.Error()
}
