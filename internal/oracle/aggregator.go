package oracle

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// cacheSize is the bounded LRU named in §4.4 ("a bounded LRU with 10000
// entries").
const cacheSize = 10_000

// defaultTTL is the quote freshness window of §4.4 step 1.
const defaultTTL = 30 * time.Second

// nMin is N_min of §4.4: the minimum number of upstreams that must answer
// (and then survive outlier rejection) for a quote to be trustworthy.
const nMin = 3

// perUpstreamTimeout is §4.4 step 2's 2 s cap.
const perUpstreamTimeout = 2 * time.Second

// Aggregator is the Oracle Aggregator of §4.4.
type Aggregator struct {
	upstreamsMu sync.RWMutex
	upstreams   []Upstream

	ttl        time.Duration
	minSources int

	cache *lru.Cache
	group singleflight.Group
}

type cacheEntry struct {
	quote Quote
}

// NewAggregator builds an Aggregator over the configured upstream set.
// ttl <= 0 uses defaultTTL; minSources <= 0 uses nMin.
func NewAggregator(upstreams []Upstream, ttl time.Duration, minSources int) (*Aggregator, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if minSources <= 0 {
		minSources = nMin
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.Internal, err, "construct oracle cache")
	}
	return &Aggregator{upstreams: upstreams, ttl: ttl, minSources: minSources, cache: cache}, nil
}

func cacheKey(asset, currency string) string { return asset + "/" + currency }

// SetUpstreams swaps the live upstream set, letting ORACLE_UPSTREAMS be
// reconfigured without a restart (§10 AMBIENT STACK: config.Watch pushes a
// freshly parsed list here on every file change).
func (a *Aggregator) SetUpstreams(upstreams []Upstream) {
	a.upstreamsMu.Lock()
	a.upstreams = upstreams
	a.upstreamsMu.Unlock()
}

func (a *Aggregator) upstreamSnapshot() []Upstream {
	a.upstreamsMu.RLock()
	defer a.upstreamsMu.RUnlock()
	return a.upstreams
}

// Price implements §4.4's five-step price algorithm, with single-flight
// collapsing of concurrent callers for the same (asset, currency) key
// (§4.4: "single-flight semantics guarantee that concurrent calls for the
// same key produce exactly one upstream fetch").
func (a *Aggregator) Price(ctx context.Context, asset, currency string) (*Quote, error) {
	key := cacheKey(asset, currency)

	if v, ok := a.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.quote.Timestamp) < a.ttl {
			return &entry.quote, nil
		}
	}

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		return a.fetch(ctx, asset, currency)
	})
	if err != nil {
		return nil, err
	}
	quote := v.(*Quote)
	a.cache.Add(key, cacheEntry{quote: *quote})
	return quote, nil
}

type sample struct {
	price  float64
	weight int64
	source string
}

// fetch fans out one FetchPrice call per upstream concurrently, each capped
// at perUpstreamTimeout independently of the others; a slow or failing
// upstream never blocks or cancels its siblings (errgroup here is used as a
// bounded WaitGroup, not for its cancel-on-first-error behavior, since one
// upstream's failure must not abort the rest of the fan-out).
func (a *Aggregator) fetch(ctx context.Context, asset, currency string) (*Quote, error) {
	var mu sync.Mutex
	var samples []sample

	var g errgroup.Group
	for _, up := range a.upstreamSnapshot() {
		up := up
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, perUpstreamTimeout)
			defer cancel()
			price, err := up.Client.FetchPrice(fetchCtx, asset, currency)
			if err != nil || price <= 0 {
				return nil
			}
			mu.Lock()
			samples = append(samples, sample{price: price, weight: up.Weight, source: up.Name})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(samples) < a.minSources {
		return nil, faaserr.New(faaserr.InsufficientSources, "only %d/%d upstreams returned a valid price for %s/%s", len(samples), a.minSources, asset, currency)
	}

	survivors, stddev := rejectOutliers(samples)
	if len(survivors) < a.minSources {
		return nil, faaserr.New(faaserr.InsufficientSources, "only %d/%d upstreams survived outlier rejection for %s/%s", len(survivors), a.minSources, asset, currency)
	}

	median := weightedMedian(survivors)
	confidence := 1 - stddev/median
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	sources := make([]string, len(survivors))
	for i, s := range survivors {
		sources[i] = s.source
	}

	return &Quote{
		Asset:      asset,
		Currency:   currency,
		Price:      median,
		Timestamp:  time.Now(),
		Confidence: confidence,
		Sources:    sources,
	}, nil
}

// rejectOutliers sorts samples by price, computes Q1/Q3 by linear
// interpolation, and drops anything outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR]
// (§4.4 step 4). It also returns the standard deviation of the surviving
// prices, used for the confidence calculation in step 5.
func rejectOutliers(samples []sample) ([]sample, float64) {
	sorted := make([]sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	prices := make([]float64, len(sorted))
	for i, s := range sorted {
		prices[i] = s.price
	}
	q1 := percentile(prices, 0.25)
	q3 := percentile(prices, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	var survivors []sample
	var sum float64
	for _, s := range sorted {
		if s.price >= lower && s.price <= upper {
			survivors = append(survivors, s)
			sum += s.price
		}
	}
	if len(survivors) == 0 {
		return survivors, 0
	}
	mean := sum / float64(len(survivors))
	var variance float64
	for _, s := range survivors {
		d := s.price - mean
		variance += d * d
	}
	variance /= float64(len(survivors))
	return survivors, math.Sqrt(variance)
}

// percentile computes the p-th percentile (0<=p<=1) of sorted values by
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func sampleWeight(s sample) int64 {
	if s.weight <= 0 {
		return 1
	}
	return s.weight
}

// weightedMedian returns the weighted median of survivors' prices,
// expanding each sample's influence by its configured upstream weight
// (§4.4 step 5). When the cumulative weight lands exactly on the midpoint
// (an even total, e.g. 4 equal-weight survivors), the two boundary
// samples' prices are averaged rather than taking the lower one, matching
// the even-count tie-breaking an unweighted median would use.
func weightedMedian(survivors []sample) float64 {
	sorted := make([]sample, len(survivors))
	copy(sorted, survivors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	var total int64
	for _, s := range sorted {
		total += sampleWeight(s)
	}

	var cum int64
	for i, s := range sorted {
		cum += sampleWeight(s)
		if 2*cum == total && i+1 < len(sorted) {
			return (s.price + sorted[i+1].price) / 2
		}
		if 2*cum >= total {
			return s.price
		}
	}
	return sorted[len(sorted)-1].price
}
