// Package scheduler dispatches Tasks to a worker pool of JS sandbox workers,
// enforcing per-function and global concurrency caps (§4.2, §5).
package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/faas-core/internal/faas"
)

// DefaultPerFunctionConcurrency is the default cap on simultaneously
// Running tasks for one function (§4.2).
const DefaultPerFunctionConcurrency = 8

// ConcurrencyLookup resolves a function's configured per-function
// concurrency cap (0 means "use the default", a stricter serialization is
// opt-in per §5).
type ConcurrencyLookup interface {
	ConcurrencyCap(functionID string) int
}

// Queue is the global admission-controlled task queue: one FIFO list per
// function, visited round-robin, so a busy function cannot starve others
// (§4.2 "Back-pressure"). It is the sole implementation of ingest.TaskSink.
type Queue struct {
	mu sync.Mutex
	// perFunction holds each function's pending (not yet admitted) tasks in
	// FIFO order.
	perFunction map[string][]*faas.Task
	// order is the round-robin visiting order of function IDs that
	// currently have at least one pending task.
	order []string
	// cursor is the next index into order to examine.
	cursor int

	running       map[string]int
	globalRunning int

	globalCap      int
	defaultPerFnCap int
	highWatermark  int

	notify chan struct{}

	concurrency ConcurrencyLookup

	depth prometheus.Gauge
}

// NewQueue builds a Queue with the given global cap and high-watermark.
func NewQueue(globalCap, highWatermark int, concurrency ConcurrencyLookup) *Queue {
	return &Queue{
		perFunction:     make(map[string][]*faas.Task),
		running:         make(map[string]int),
		globalCap:       globalCap,
		defaultPerFnCap: DefaultPerFunctionConcurrency,
		highWatermark:   highWatermark,
		notify:          make(chan struct{}, 1),
		concurrency:     concurrency,
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faas_scheduler_queue_depth",
			Help: "Number of tasks waiting in the global admission queue.",
		}),
	}
}

// Collector exposes the queue depth gauge for registration with a
// prometheus.Registry.
func (q *Queue) Collector() prometheus.Collector { return q.depth }

// Enqueue implements ingest.TaskSink: it appends t to its function's FIFO
// list and wakes any waiting dequeuer.
func (q *Queue) Enqueue(t *faas.Task) error {
	q.mu.Lock()
	if _, ok := q.perFunction[t.FunctionID]; !ok || len(q.perFunction[t.FunctionID]) == 0 {
		q.order = append(q.order, t.FunctionID)
	}
	q.perFunction[t.FunctionID] = append(q.perFunction[t.FunctionID], t)
	depth := q.totalPendingLocked()
	q.mu.Unlock()

	q.depth.Set(float64(depth))
	q.wake()
	return nil
}

func (q *Queue) totalPendingLocked() int {
	n := 0
	for _, ts := range q.perFunction {
		n += len(ts)
	}
	return n
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) perFnCap(functionID string) int {
	if q.concurrency == nil {
		return q.defaultPerFnCap
	}
	if c := q.concurrency.ConcurrencyCap(functionID); c > 0 {
		return c
	}
	return q.defaultPerFnCap
}

// NotifyC exposes the wake channel so a worker's select loop can block on
// it alongside ctx.Done().
func (q *Queue) NotifyC() <-chan struct{} { return q.notify }

// TryDequeue performs one round-robin admission pass: it advances the
// cursor through q.order looking for a function with a pending task whose
// per-function and global caps both have headroom. Returns ok=false if no
// task is currently admissible.
func (q *Queue) TryDequeue() (t *faas.Task, release func(), ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.globalRunning >= q.globalCap {
		return nil, nil, false
	}

	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		fn := q.order[idx]
		pending := q.perFunction[fn]
		if len(pending) == 0 {
			continue
		}
		if q.running[fn] >= q.perFnCap(fn) {
			continue
		}
		task := pending[0]
		q.perFunction[fn] = pending[1:]
		q.running[fn]++
		q.globalRunning++
		q.cursor = (idx + 1) % n
		q.compactOrderLocked()
		q.depth.Set(float64(q.totalPendingLocked()))

		var once sync.Once
		release = func() {
			once.Do(func() {
				q.mu.Lock()
				q.running[fn]--
				q.globalRunning--
				q.mu.Unlock()
				q.wake()
			})
		}
		return task, release, true
	}
	return nil, nil, false
}

// compactOrderLocked drops function IDs from q.order that have no pending
// tasks, keeping the round-robin scan cheap. Must be called with q.mu held.
func (q *Queue) compactOrderLocked() {
	filtered := q.order[:0]
	for _, fn := range q.order {
		if len(q.perFunction[fn]) > 0 {
			filtered = append(filtered, fn)
		}
	}
	q.order = filtered
	if len(q.order) == 0 {
		q.cursor = 0
	} else {
		q.cursor %= len(q.order)
	}
}

// Backpressured reports whether the queue exceeds QUEUE_HIGH_WATERMARK,
// the only back-pressure signal the ingestion loop observes (§4.2).
func (q *Queue) Backpressured() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalPendingLocked() > q.highWatermark
}

// Depth returns the current number of pending (not yet admitted) tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalPendingLocked()
}
