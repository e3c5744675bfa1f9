package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/faas"
)

type fakeConcurrencyLookup map[string]int

func (f fakeConcurrencyLookup) ConcurrencyCap(functionID string) int { return f[functionID] }

func newTestTask(t *testing.T, functionID string) *faas.Task {
	t.Helper()
	task, err := faas.NewTask(functionID, faas.TriggerInstance{}, time.Second)
	require.NoError(t, err)
	return task
}

func TestQueuePerFunctionConcurrencyCapBlocksAdmission(t *testing.T) {
	q := NewQueue(10, 100, fakeConcurrencyLookup{"fn-1": 1})

	require.NoError(t, q.Enqueue(newTestTask(t, "fn-1")))
	require.NoError(t, q.Enqueue(newTestTask(t, "fn-1")))

	_, release, ok := q.TryDequeue()
	require.True(t, ok)

	_, _, ok = q.TryDequeue()
	require.False(t, ok, "second task for fn-1 must not be admitted while its cap-1 slot is occupied")

	release()

	_, _, ok = q.TryDequeue()
	require.True(t, ok, "releasing the first slot must admit the queued second task")
}

func TestQueueDefaultConcurrencyCapWhenUnconfigured(t *testing.T) {
	q := NewQueue(10, 100, fakeConcurrencyLookup{})

	for i := 0; i < DefaultPerFunctionConcurrency; i++ {
		require.NoError(t, q.Enqueue(newTestTask(t, "fn-1")))
	}
	require.NoError(t, q.Enqueue(newTestTask(t, "fn-1")))

	admitted := 0
	for i := 0; i < DefaultPerFunctionConcurrency; i++ {
		if _, _, ok := q.TryDequeue(); ok {
			admitted++
		}
	}
	require.Equal(t, DefaultPerFunctionConcurrency, admitted)

	_, _, ok := q.TryDequeue()
	require.False(t, ok, "the (cap+1)th task must wait for a running slot to free up")
}

func TestQueueBackpressured(t *testing.T) {
	q := NewQueue(10, 2, nil)

	require.False(t, q.Backpressured())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(newTestTask(t, "fn-1")))
	}

	require.True(t, q.Backpressured(), "pending depth exceeding the high watermark must report back-pressure")
}

func TestStoreConcurrencyLookupFallsBackOnError(t *testing.T) {
	lookup := StoreConcurrencyLookup{Functions: fakeLatestFetcher{err: errors.New("not found")}}
	require.Equal(t, 0, lookup.ConcurrencyCap("missing"))

	fn := &faas.Function{Limits: faas.ResourceLimits{ConcurrencyCap: 3}}
	lookup = StoreConcurrencyLookup{Functions: fakeLatestFetcher{fn: fn}}
	require.Equal(t, 3, lookup.ConcurrencyCap("fn-1"))
}

type fakeLatestFetcher struct {
	fn  *faas.Function
	err error
}

func (f fakeLatestFetcher) Latest(id string) (*faas.Function, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fn, nil
}
