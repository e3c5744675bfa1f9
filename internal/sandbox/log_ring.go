package sandbox

import "sync"

// LogRingCapacity is the last-N-bytes bound on a task's captured log tail
// (§4.2 host API surface: "captured into the task's log tail (ring buffer,
// last 256 KiB)").
const LogRingCapacity = 256 << 10

// logRing is an append-only byte ring that keeps only the most recent
// LogRingCapacity bytes written to it.
type logRing struct {
	mu  sync.Mutex
	buf []byte
}

func newLogRing() *logRing { return &logRing{} }

func (r *logRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > LogRingCapacity {
		r.buf = r.buf[len(r.buf)-LogRingCapacity:]
	}
	return len(p), nil
}

func (r *logRing) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

func (r *logRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}
