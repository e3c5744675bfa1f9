package oracle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

type fakeFetcher struct {
	price   float64
	err     error
	calls   int32
	delayMs int
}

func (f *fakeFetcher) FetchPrice(ctx context.Context, asset, currency string) (float64, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delayMs > 0 {
		select {
		case <-time.After(time.Duration(f.delayMs) * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.price, f.err
}

func upstreamsOf(fetchers ...*fakeFetcher) []Upstream {
	ups := make([]Upstream, len(fetchers))
	for i, f := range fetchers {
		ups[i] = Upstream{Name: "u" + string(rune('0'+i)), Client: f, Weight: 1}
	}
	return ups
}

func TestAggregatorPriceWeightedMedian(t *testing.T) {
	ups := upstreamsOf(
		&fakeFetcher{price: 10},
		&fakeFetcher{price: 11},
		&fakeFetcher{price: 12},
	)
	agg, err := NewAggregator(ups, time.Minute, 0)
	require.NoError(t, err)

	quote, err := agg.Price(context.Background(), "NEO", "USD")
	require.NoError(t, err)
	require.Equal(t, 11.0, quote.Price)
	require.Len(t, quote.Sources, 3)
}

func TestAggregatorRejectsOutliers(t *testing.T) {
	ups := upstreamsOf(
		&fakeFetcher{price: 10},
		&fakeFetcher{price: 10.5},
		&fakeFetcher{price: 11},
		&fakeFetcher{price: 1000}, // gross outlier
	)
	agg, err := NewAggregator(ups, time.Minute, 0)
	require.NoError(t, err)

	quote, err := agg.Price(context.Background(), "NEO", "USD")
	require.NoError(t, err)
	require.Less(t, quote.Price, 20.0)
	require.Len(t, quote.Sources, 3)
}

func TestAggregatorInsufficientSources(t *testing.T) {
	ups := upstreamsOf(
		&fakeFetcher{price: 10},
		&fakeFetcher{err: faaserr.New(faaserr.Upstream, "down")},
	)
	agg, err := NewAggregator(ups, time.Minute, 0)
	require.NoError(t, err)

	_, err = agg.Price(context.Background(), "NEO", "USD")
	require.Error(t, err)
	require.Equal(t, faaserr.InsufficientSources, faaserr.KindOf(err))
}

func TestAggregatorCachesWithinTTL(t *testing.T) {
	f1 := &fakeFetcher{price: 10}
	f2 := &fakeFetcher{price: 10.2}
	f3 := &fakeFetcher{price: 9.9}
	agg, err := NewAggregator(upstreamsOf(f1, f2, f3), time.Minute, 0)
	require.NoError(t, err)

	_, err = agg.Price(context.Background(), "NEO", "USD")
	require.NoError(t, err)
	_, err = agg.Price(context.Background(), "NEO", "USD")
	require.NoError(t, err)

	require.EqualValues(t, 1, atomic.LoadInt32(&f1.calls))
}

// TestAggregatorEvenSurvivorCountAveragesMedianTie exercises spec.md's
// worked example: 300.0 is IQR-trimmed, leaving the four equal-weight
// survivors [99.8, 100.0, 100.2, 101.5] whose cumulative weight lands
// exactly on the midpoint; the documented expected result is 100.1, the
// average of the two central prices, not 100.0 (the lower one).
func TestAggregatorEvenSurvivorCountAveragesMedianTie(t *testing.T) {
	ups := upstreamsOf(
		&fakeFetcher{price: 100.0},
		&fakeFetcher{price: 101.5},
		&fakeFetcher{price: 99.8},
		&fakeFetcher{price: 300.0},
		&fakeFetcher{price: 100.2},
	)
	agg, err := NewAggregator(ups, time.Minute, 0)
	require.NoError(t, err)

	quote, err := agg.Price(context.Background(), "NEO", "USD")
	require.NoError(t, err)
	require.Len(t, quote.Sources, 4)
	require.InDelta(t, 100.1, quote.Price, 1e-9)
}

func TestAggregatorSingleflightCollapsesConcurrentCalls(t *testing.T) {
	f1 := &fakeFetcher{price: 10, delayMs: 50}
	f2 := &fakeFetcher{price: 10.1, delayMs: 50}
	f3 := &fakeFetcher{price: 9.9, delayMs: 50}
	agg, err := NewAggregator(upstreamsOf(f1, f2, f3), time.Minute, 0)
	require.NoError(t, err)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := agg.Price(context.Background(), "NEO", "USD")
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&f1.calls))
}
