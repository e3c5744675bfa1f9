// Package sandbox implements the JavaScript execution pool and host-API
// bridge of §4.2: one goja.Runtime per "isolate", pre-warmed and recycled
// across invocations, with a statically-typed table of host operations
// (DESIGN NOTES §9: "expose the bridge as a generated, statically-typed
// table of op descriptors").
package sandbox

import (
	"github.com/dop251/goja"
)

// IsolateMaxReuse bounds how many invocations may share one isolate before
// it is discarded and replaced, per §4.2.
const IsolateMaxReuse = 1000

// isolate wraps one goja.Runtime plus its reuse accounting. It is never
// shared across worker threads for the lifetime of an invocation (§5
// "JS isolates: exclusively owned by a single worker for an invocation's
// lifetime").
type isolate struct {
	rt       *goja.Runtime
	useCount int
}

func newIsolate() *isolate {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &isolate{rt: rt}
}

// reset clears the isolate's global scope between invocations. goja has no
// cheaper "clear globals" primitive than rebuilding the Runtime, so this is
// the boundary at which ISOLATE_MAX_REUSE actually saves work: below the
// limit we still pay this cost today, but a future goja upgrade exposing a
// real reset hook only needs to change this one function.
func (i *isolate) reset() {
	i.rt.ClearInterrupt()
	fresh := goja.New()
	fresh.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	i.rt = fresh
}

// exhausted reports whether the isolate has served ISOLATE_MAX_REUSE
// invocations and must be discarded rather than reset.
func (i *isolate) exhausted() bool {
	return i.useCount >= IsolateMaxReuse
}
