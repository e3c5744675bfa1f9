package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// httpFetchTimeout caps one upstream request (§4.4 step 2: "Cap
// per-upstream latency at 2 s; drop slow ones").
const httpFetchTimeout = 2_000 // milliseconds; not referenced: the aggregator applies its own perUpstreamTimeout through the fetch context

// HTTPUpstream fetches a price quote from a REST endpoint of the form
// `{base-url}?asset=...&currency=...`, expecting a JSON body
// `{"price": <number>}`. No example repo or ecosystem library in the pack
// provides a generic typed REST client (go-ethereum/rpc is JSON-RPC
// specific and does not fit an arbitrary price-feed REST API); net/http is
// the justified stdlib exception here.
type HTTPUpstream struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPUpstream builds an HTTPUpstream with a default http.Client. The
// client sets no timeout of its own; a request is bounded only by the
// deadline of the ctx passed to FetchPrice.
func NewHTTPUpstream(baseURL string) *HTTPUpstream {
	return &HTTPUpstream{BaseURL: baseURL, Client: &http.Client{}}
}

// FetchPrice implements PriceFetcher.
func (u *HTTPUpstream) FetchPrice(ctx context.Context, asset, currency string) (float64, error) {
	q := url.Values{}
	q.Set("asset", asset)
	q.Set("currency", currency)
	reqURL := fmt.Sprintf("%s?%s", u.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, faaserr.Wrap(faaserr.Internal, err, "build oracle upstream request")
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		return 0, faaserr.Wrap(faaserr.Upstream, err, "fetch price from %s", u.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, faaserr.New(faaserr.Upstream, "oracle upstream %s returned status %d", u.BaseURL, resp.StatusCode)
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, faaserr.Wrap(faaserr.Upstream, err, "decode oracle upstream response from %s", u.BaseURL)
	}
	if body.Price <= 0 {
		return 0, faaserr.New(faaserr.Upstream, "oracle upstream %s returned non-positive price", u.BaseURL)
	}
	return body.Price, nil
}
