package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/process"

	"github.com/r3e-network/faas-core/internal/faas"
	"github.com/r3e-network/faas-core/internal/faaserr"
)

// MaxResultBytes bounds a task's serialized return value (§4.2: "result,
// JSON, max 4 MiB").
const MaxResultBytes = 4 << 20

// interruptGrace is how long a worker waits for goja to unwind after an
// Interrupt before concluding the isolate is wedged and discarding it
// instead of returning it to the pool (§4.2 execution steps).
const interruptGrace = 100 * time.Millisecond

// cpuSamplePeriod is how often the worker polls process CPU time while an
// invocation runs, to catch a CPU-bound script even before its wall-time
// deadline (§4.2 resource limits: cpu_millis_per_invoke).
const cpuSamplePeriod = 10 * time.Millisecond

// Worker owns a pool of pre-warmed JS isolates exclusively for the
// lifetime of the Pool worker goroutine that holds it (§4.2, §5: "Each
// worker owns a pool of pre-warmed JS isolates; JS isolates: exclusively
// owned by a single worker for an invocation's lifetime").
//
// Host calls made from script run synchronously on the owning worker
// goroutine: goja has no native event loop, so a blocking Go call is
// indistinguishable from the isolate's own perspective from a cooperative
// suspend-resume. This trades the ability to interleave host I/O within a
// single isolate for simplicity; concurrency across invocations still
// comes from running N workers, each with its own isolate pool.
type Worker struct {
	id   int
	caps Capabilities
	log  log.Logger

	mu   sync.Mutex
	free []*isolate
}

// NewWorker builds a Worker bound to the shared capability ports. caps is
// shared across every Worker in the Pool; isolates are not.
func NewWorker(id int, caps Capabilities) *Worker {
	return &Worker{
		id:   id,
		caps: caps,
		log:  log.New("component", "sandbox", "worker", id),
	}
}

func (w *Worker) acquire() *isolate {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.free); n > 0 {
		iso := w.free[n-1]
		w.free = w.free[:n-1]
		return iso
	}
	return newIsolate()
}

// release returns iso to the pool unless it is exhausted or wedged, in
// which case it is dropped so a fresh isolate replaces it on next acquire.
func (w *Worker) release(iso *isolate, discard bool) {
	if discard || iso.exhausted() {
		return
	}
	iso.reset()
	w.mu.Lock()
	w.free = append(w.free, iso)
	w.mu.Unlock()
}

// Execute implements scheduler.Executor: runs task's function source to
// completion inside an owned isolate, enforcing the resource limits and
// capturing the log tail for either outcome.
func (w *Worker) Execute(ctx context.Context, task *faas.Task, fn *faas.Function) ([]byte, []byte, error) {
	iso := w.acquire()
	iso.useCount++
	ring := newLogRing()

	quota := NewQuota(fn.Limits.MaxHostCallsByKind)
	ictx := InvocationContext{
		OwnerID:    fn.OwnerID,
		FunctionID: fn.ID,
		Perms:      fn.Perms,
		Quota:      quota,
	}
	b := &bridge{rt: iso.rt, ctx: ctx, ictx: ictx, caps: w.caps, ring: ring}
	invocationContext := b.buildContext()

	wedged := false
	result, err := w.run(ctx, iso, fn, task, invocationContext, &wedged)

	w.release(iso, wedged)
	return result, ring.Bytes(), err
}

// run compiles fn.Source as a CommonJS-style module and invokes its default
// export with (event, context) (§4.2 step 2: "the function's source is
// compiled to a module; its `default` export is invoked with `(event,
// context)`"). goja has no native ES module loader, so the module
// convention is the one goja can actually execute unmodified: the source
// runs inside a function scope seeded with `module`/`exports` bindings,
// exactly what a bundler emits for `export default`, and the handler is
// read back from `module.exports` (or its `.default` property) once the
// source has run. Host capabilities are never global; they arrive solely
// as the invocationContext argument built by bridge.buildContext.
func (w *Worker) run(ctx context.Context, iso *isolate, fn *faas.Function, task *faas.Task, invocationContext goja.Value, wedged *bool) ([]byte, error) {
	event, err := triggerFieldsValue(iso.rt, task)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.InvalidRequest, err, "encode trigger fields")
	}

	done := make(chan struct{})
	var resultVal goja.Value
	var runErr error

	go w.governCPU(ctx, iso, done, fn.Limits.CPUMillisPerInvoke)

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = classifyPanic(r)
			}
		}()
		handle, err := loadDefaultExport(iso.rt, fn.Source)
		if err != nil {
			runErr = err
			return
		}
		v, callErr := handle(goja.Undefined(), event, invocationContext)
		if callErr != nil {
			runErr = classifyPanic(callErr)
			return
		}
		resultVal = v
	}()

	select {
	case <-done:
	case <-ctx.Done():
		iso.rt.Interrupt("wall time exceeded")
		select {
		case <-done:
		case <-time.After(interruptGrace):
			*wedged = true
			w.log.Warn("isolate did not unwind within interrupt grace period, discarding", "task", task.ID)
			return nil, faaserr.New(faaserr.Timeout, "invocation exceeded wall time limit")
		}
	}

	if runErr != nil {
		return nil, runErr
	}
	if resultVal == nil || goja.IsUndefined(resultVal) {
		return nil, nil
	}
	out, err := json.Marshal(resultVal.Export())
	if err != nil {
		return nil, faaserr.Wrap(faaserr.Internal, err, "serialize handler result")
	}
	if len(out) > MaxResultBytes {
		return nil, faaserr.New(faaserr.InvalidRequest, "handler result exceeds %d bytes", MaxResultBytes)
	}
	return out, nil
}

// governCPU samples the worker process's CPU time at cpuSamplePeriod and
// interrupts the isolate once the invocation's own share would plausibly
// exceed cpuMillis. gopsutil reports whole-process CPU time, not
// per-goroutine, so this is a coarse, best-effort bound rather than an
// exact per-invocation cap: precise accounting would need a native
// cgroup or OS-thread-level counter that goja does not expose.
func (w *Worker) governCPU(ctx context.Context, iso *isolate, done <-chan struct{}, cpuMillis int64) {
	if cpuMillis <= 0 {
		return
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	start, err := proc.Times()
	if err != nil {
		return
	}
	startCPU := start.Total()

	ticker := time.NewTicker(cpuSamplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			times, err := proc.Times()
			if err != nil {
				continue
			}
			if (times.Total()-startCPU)*1000 > float64(cpuMillis) {
				iso.rt.Interrupt("cpu time exceeded")
				return
			}
		}
	}
}

// loadDefaultExport runs source inside a fresh `module`/`exports` scope
// (the CommonJS shape a bundler emits for `export default`) and returns the
// resulting default export as a callable. It accepts either
// `module.exports = fn` or `module.exports.default = fn` / `exports.default
// = fn`, the latter matching transpiled-ESM interop conventions.
func loadDefaultExport(rt *goja.Runtime, source string) (goja.Callable, error) {
	moduleObj := rt.NewObject()
	exportsObj := rt.NewObject()
	if err := moduleObj.Set("exports", exportsObj); err != nil {
		return nil, faaserr.Wrap(faaserr.Internal, err, "seed module.exports")
	}
	if err := rt.Set("module", moduleObj); err != nil {
		return nil, faaserr.Wrap(faaserr.Internal, err, "bind module global")
	}
	if err := rt.Set("exports", exportsObj); err != nil {
		return nil, faaserr.Wrap(faaserr.Internal, err, "bind exports global")
	}

	if _, err := rt.RunString(source); err != nil {
		return nil, faaserr.Wrap(faaserr.Reverted, err, "function source raised during load")
	}

	exported := moduleObj.Get("exports")
	if handle, ok := goja.AssertFunction(exported); ok {
		return handle, nil
	}
	if obj, ok := exported.(*goja.Object); ok {
		if handle, ok := goja.AssertFunction(obj.Get("default")); ok {
			return handle, nil
		}
	}
	return nil, faaserr.New(faaserr.InvalidRequest, "function source does not export a default function via module.exports")
}

func classifyPanic(r interface{}) error {
	if ex, ok := r.(*goja.Exception); ok {
		return faaserr.Wrap(faaserr.Reverted, ex, "function threw")
	}
	if err, ok := r.(error); ok {
		return faaserr.Wrap(faaserr.Internal, err, "function panicked")
	}
	return faaserr.New(faaserr.Internal, "function panicked: %v", r)
}

func triggerFieldsValue(rt *goja.Runtime, task *faas.Task) (goja.Value, error) {
	raw, err := json.Marshal(task.TriggerInstance.Fields)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return rt.ToValue(decoded), nil
}
