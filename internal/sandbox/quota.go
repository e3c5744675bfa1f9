package sandbox

import (
	"sync"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// Quota tracks per-invocation host-call counters against
// max-host-calls-per-kind (§3, §4.2). Exhaustion fails only the offending
// call; the handler may catch the resulting QuotaExceeded and continue.
type Quota struct {
	mu     sync.Mutex
	limits map[string]int
	used   map[string]int
}

// NewQuota builds a Quota from the function's configured limits.
func NewQuota(limits map[string]int) *Quota {
	return &Quota{limits: limits, used: make(map[string]int)}
}

// Charge increments the counter for kind, returning QuotaExceeded if doing
// so would exceed the configured limit. A kind with no configured limit is
// unbounded.
func (q *Quota) Charge(kind string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit, bounded := q.limits[kind]
	if !bounded {
		q.used[kind]++
		return nil
	}
	if q.used[kind] >= limit {
		return faaserr.New(faaserr.QuotaExceeded, "host call quota exhausted for %s (limit=%d)", kind, limit)
	}
	q.used[kind]++
	return nil
}

// Used returns how many calls of kind have been charged so far.
func (q *Quota) Used(kind string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[kind]
}
