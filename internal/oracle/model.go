// Package oracle implements the Oracle Aggregator of §4.4: a manipulation-
// resistant price feed backed by parallel upstream fetches, outlier
// rejection, and a weighted median, plus an auditable multi-source random
// beacon.
package oracle

import (
	"context"
	"time"
)

// Quote is the OracleQuote of §3: immutable once produced, cached until
// its TTL expires.
type Quote struct {
	Asset      string
	Currency   string
	Price      float64
	Timestamp  time.Time
	Confidence float64
	Sources    []string
}

// Upstream is one configured price source (§4.4 step 2).
type Upstream struct {
	Name   string
	Client PriceFetcher
	Weight int64
}

// PriceFetcher is the narrow capability an Upstream exposes: fetch one
// (asset, currency) price. HTTP-backed upstreams, mocked upstreams for
// tests, and any other transport all implement just this.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, asset, currency string) (float64, error)
}
