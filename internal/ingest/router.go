package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/faas-core/internal/faas"
	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/r3e-network/faas-core/internal/store"
)

// TaskSink receives tasks the router produces. The scheduler's admission
// queue implements this; ingest never imports the scheduler package
// (DESIGN NOTES §9 breaks the cyclic Gas Bank <-> Meta-Tx <-> Function
// coupling with narrow interfaces — the same pattern applies here between
// ingestion and scheduling).
type TaskSink interface {
	Enqueue(t *faas.Task) error
}

// FunctionLookup resolves a function's active version for resource-limit
// and wall-time purposes when building a Task.
type FunctionLookup interface {
	Latest(functionID string) (*faas.Function, error)
}

// Router registers/removes TriggerSubscriptions (§4.1 operations
// register_subscription, remove_subscription) and turns events into Tasks;
// the tick operation itself is Follower.Tick.
type Router struct {
	triggers  *store.TriggerStore
	funcs     FunctionLookup
	sink      TaskSink
	Publisher Publisher
}

// NewRouter builds a Router over the given stores and sink.
func NewRouter(triggers *store.TriggerStore, funcs FunctionLookup, sink TaskSink) *Router {
	return &Router{triggers: triggers, funcs: funcs, sink: sink}
}

// RegisterSubscription persists sub with a freshly minted ID, enforcing the
// (function-id, kind, filter-hash) uniqueness constraint.
func (r *Router) RegisterSubscription(functionID string, spec faas.TriggerSpec) (string, error) {
	id := uuid.NewString()
	sub := faas.TriggerSubscription{ID: id, FunctionID: functionID, Spec: spec}
	if err := r.triggers.Register(sub); err != nil {
		return "", err
	}
	return id, nil
}

// RemoveSubscription deletes a subscription by ID.
func (r *Router) RemoveSubscription(id string) error {
	return r.triggers.Remove(id)
}

// Invoke builds and enqueues a Task directly for an Http-triggered or
// direct invocation (§6 control-plane "invoke(function-id, payload) ->
// task-id"), bypassing chain-event matching entirely.
func (r *Router) Invoke(functionID string, payload map[string]interface{}) (string, error) {
	fn, err := r.funcs.Latest(functionID)
	if err != nil {
		return "", faaserr.New(faaserr.InvalidRequest, "unknown function %s", functionID)
	}
	if fn.Lifecycle != faas.LifecycleActive {
		return "", faaserr.New(faaserr.InvalidRequest, "function %s is not active", functionID)
	}
	wallTime := time.Duration(fn.Limits.WallTimeMS) * time.Millisecond
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Kind: faas.KindHTTP, Fields: payload}, wallTime)
	if err != nil {
		return "", faaserr.Wrap(faaserr.Internal, err, "mint direct-invoke task")
	}
	if err := r.sink.Enqueue(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// dispatch matches ev against every subscription of ev.Kind and enqueues one
// Task per match, returning the minted task IDs (used by the follower to
// populate the height->task index for reorg handling).
func (r *Router) dispatch(ev Event) ([]string, error) {
	r.Publisher.publish(ev)

	subs, err := r.triggers.ByKind(ev.Kind)
	if err != nil {
		return nil, err
	}
	fields := ev.Fields()
	var taskIDs []string
	for _, sub := range subs {
		if !sub.Matches(ev.Kind, fields) {
			continue
		}
		fn, err := r.funcs.Latest(sub.FunctionID)
		if err != nil {
			continue // function retired/deleted after subscription created; skip silently
		}
		if fn.Lifecycle != faas.LifecycleActive {
			continue
		}
		wallTime := time.Duration(fn.Limits.WallTimeMS) * time.Millisecond
		task, err := faas.NewTask(fn.ID, faas.TriggerInstance{
			SubscriptionID: sub.ID,
			Kind:           ev.Kind,
			Fields:         fields,
		}, wallTime)
		if err != nil {
			return taskIDs, faaserr.Wrap(faaserr.Internal, err, "mint task for subscription %s", sub.ID)
		}
		if err := r.sink.Enqueue(task); err != nil {
			return taskIDs, err
		}
		taskIDs = append(taskIDs, task.ID)
	}
	return taskIDs, nil
}
