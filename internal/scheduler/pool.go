package scheduler

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/r3e-network/faas-core/internal/faas"
	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/r3e-network/faas-core/internal/store"
)

// Executor runs one task to completion inside a worker's owned isolate
// (§4.2 execution steps 1-4). Implemented by sandbox.Worker.
type Executor interface {
	Execute(ctx context.Context, task *faas.Task, fn *faas.Function) (result []byte, logTail []byte, err error)
}

// FunctionResolver resolves the active Function definition a task targets.
type FunctionResolver interface {
	Latest(functionID string) (*faas.Function, error)
}

const (
	retryBackoffBase   = 1 * time.Second
	retryBackoffCap    = 60 * time.Second
	retryBackoffJitter = 0.20
)

// Pool is the work-stealing-flavored worker pool: N goroutines each pull
// admissible tasks from the shared Queue and run them on their own
// Executor (one isolate pool per worker, per §4.2 "Each worker owns a pool
// of pre-warmed JS isolates").
type Pool struct {
	queue     *Queue
	tasks     *store.TaskStore
	functions FunctionResolver
	executors []Executor

	log log.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool builds a Pool. newExecutor is invoked once per worker so each
// gets its own isolate pool; workerCount <= 0 defaults to logical CPUs.
func NewPool(queue *Queue, tasks *store.TaskStore, functions FunctionResolver, workerCount int, newExecutor func(workerID int) Executor) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	executors := make([]Executor, workerCount)
	for i := range executors {
		executors[i] = newExecutor(i)
	}
	return &Pool{
		queue:     queue,
		tasks:     tasks,
		functions: functions,
		executors: executors,
		log:       log.New("component", "scheduler"),
	}
}

// Start launches one goroutine per worker.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i, ex := range p.executors {
		p.wg.Add(1)
		go p.runWorker(ctx, i, ex)
	}
}

// Stop cancels every worker and waits for in-flight tasks to unwind.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int, ex Executor) {
	defer p.wg.Done()
	for {
		task, release, ok := p.queue.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.queue.NotifyC():
				continue
			case <-time.After(250 * time.Millisecond):
				continue // poll periodically in case admission headroom opened without a new enqueue
			}
		}
		p.handle(ctx, id, ex, task)
		release()
	}
}

func (p *Pool) handle(ctx context.Context, workerID int, ex Executor, task *faas.Task) {
	running, err := p.tasks.BeginRunning(task.ID)
	if err != nil {
		if err == store.ErrStalePrecondition {
			p.log.Warn("duplicate dispatch of already-running task, dropping", "task", task.ID)
			return
		}
		p.log.Error("failed to persist Running transition", "task", task.ID, "err", err)
		return
	}

	fn, err := p.functions.Latest(running.FunctionID)
	if err != nil {
		p.failTerminal(task.ID, faaserr.InvalidRequest, []byte("function not found"))
		return
	}

	deadline := running.EnqueueTime.Add(time.Duration(fn.Limits.WallTimeMS) * time.Millisecond)
	execCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result, logTail, execErr := ex.Execute(execCtx, running, fn)
	if execErr != nil {
		kind := faaserr.KindOf(execErr)
		p.log.Debug("task execution failed", "worker", workerID, "task", task.ID, "kind", kind, "err", execErr)
		t, err := p.tasks.Fail(task.ID, kind, logTail)
		if err != nil {
			p.log.Error("failed to persist Failed transition", "task", task.ID, "err", err)
			return
		}
		if t.Status == faas.TaskQueued {
			p.scheduleRetry(t)
		}
		return
	}

	if _, err := p.tasks.Complete(task.ID, result, logTail); err != nil {
		p.log.Error("failed to persist Completed transition", "task", task.ID, "err", err)
	}
}

func (p *Pool) failTerminal(taskID string, kind faaserr.Kind, logTail []byte) {
	if _, err := p.tasks.Fail(taskID, kind, logTail); err != nil {
		p.log.Error("failed to persist terminal failure", "task", taskID, "err", err)
	}
}

// scheduleRetry re-enqueues t after an exponential backoff with jitter
// (§7: "base 1 s, cap 60 s, jitter ±20 %").
func (p *Pool) scheduleRetry(t *faas.Task) {
	delay := retryBackoffBase * time.Duration(1<<uint(t.AttemptCount-1))
	if delay > retryBackoffCap {
		delay = retryBackoffCap
	}
	delta := float64(delay) * retryBackoffJitter
	delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*delta)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C
		if err := p.queue.Enqueue(t); err != nil {
			p.log.Error("failed to requeue task after backoff", "task", t.ID, "err", err)
		}
	}()
}
