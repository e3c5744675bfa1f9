package chain

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// Client wraps a go-ethereum/rpc.Client pointed at a Neo N3 JSON-RPC 2.0
// endpoint. go-ethereum/rpc is a generic JSON-RPC transport: it does not
// assume an "eth_"-namespaced method set, so it is a faithful fit for Neo's
// differently-named methods (getblockcount, getblock, ...).
type Client struct {
	rpc     *ethrpc.Client
	log     log.Logger
	limiter *rate.Limiter
}

// Retry policy (§4.1 "RPC failures are retried with exponential backoff").
const (
	backoffBase   = 250 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffJitter = 0.20
	rpcTimeout    = 10 * time.Second

	// defaultRPCRate paces outbound calls independent of the retry backoff
	// above: the backoff only slows a single flaky call down, while this
	// leaky bucket bounds the node's steady-state call rate regardless of
	// how many components (follower, relayer, oracle) are issuing calls.
	defaultRPCRate  = 50 // requests/second
	defaultRPCBurst = 100
)

// Dial connects to endpoint (http(s):// or ws(s)://).
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	c, err := ethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.Upstream, err, "dial chain rpc %s", endpoint)
	}
	return &Client{
		rpc:     c,
		log:     log.New("component", "chain"),
		limiter: rate.NewLimiter(rate.Limit(defaultRPCRate), defaultRPCBurst),
	}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() { c.rpc.Close() }

// call performs one JSON-RPC request with exponential backoff retry,
// classifying failures as Upstream (retryable by the caller's own policy —
// the backoff here only covers transient per-call flakiness, not the
// ingestion loop's own retry of an entire tick).
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return faaserr.Wrap(faaserr.Cancelled, err, "chain rpc %s rate limiter wait cancelled", method)
	}

	delay := backoffBase
	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		err := c.rpc.CallContext(callCtx, result, method, args...)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return faaserr.Wrap(faaserr.Cancelled, ctx.Err(), "chain rpc %s cancelled", method)
		}
		if attempt >= 8 {
			break
		}
		jittered := withJitter(delay, backoffJitter)
		c.log.Warn("chain rpc call failed, retrying", "method", method, "attempt", attempt, "delay", jittered, "err", err)
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return faaserr.Wrap(faaserr.Cancelled, ctx.Err(), "chain rpc %s cancelled", method)
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return faaserr.Wrap(faaserr.Upstream, lastErr, "chain rpc %s failed after retries", method)
}

func withJitter(d time.Duration, pct float64) time.Duration {
	delta := float64(d) * pct
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

// GetBlockCount returns the chain head height (one past the highest block).
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.call(ctx, &height, "getblockcount"); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBlock fetches a verbose block by height.
func (c *Client) GetBlock(ctx context.Context, height uint32) (*Block, error) {
	var b Block
	if err := c.call(ctx, &b, "getblock", height, 1); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBlockByHash fetches a verbose block by hash, used when walking back
// during reorg detection.
func (c *Client) GetBlockByHash(ctx context.Context, hash string) (*Block, error) {
	var b Block
	if err := c.call(ctx, &b, "getblock", hash, 1); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetRawTransaction fetches a verbose transaction by hash.
func (c *Client) GetRawTransaction(ctx context.Context, hash string) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, &tx, "getrawtransaction", hash, 1); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetApplicationLog fetches the execution/notification log for a transaction.
func (c *Client) GetApplicationLog(ctx context.Context, hash string) (*ApplicationLog, error) {
	var l ApplicationLog
	if err := c.call(ctx, &l, "getapplicationlog", hash); err != nil {
		return nil, err
	}
	return &l, nil
}

// InvokeFunction performs a read-only contract invocation (does not submit
// a transaction).
func (c *Client) InvokeFunction(ctx context.Context, contract, method string, args []interface{}) (*InvokeResult, error) {
	var r InvokeResult
	if err := c.call(ctx, &r, "invokefunction", contract, method, args); err != nil {
		return nil, err
	}
	if r.State != "HALT" {
		return &r, faaserr.New(faaserr.Upstream, "invokefunction %s.%s faulted: %s", contract, method, r.Exception)
	}
	return &r, nil
}

// SendRawTransaction submits a signed transaction, returning its hash.
func (c *Client) SendRawTransaction(ctx context.Context, hex string) (string, error) {
	var resp struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, &resp, "sendrawtransaction", hex); err != nil {
		return "", err
	}
	return resp.Hash, nil
}

// GetContractState fetches a deployed contract's manifest by script hash.
func (c *Client) GetContractState(ctx context.Context, hash string) (*ContractState, error) {
	var s ContractState
	if err := c.call(ctx, &s, "getcontractstate", hash); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetVersion confirms node identity/network at startup.
func (c *Client) GetVersion(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.call(ctx, &v, "getversion"); err != nil {
		return nil, err
	}
	return &v, nil
}

// EstimateFee estimates the network fee for a transaction via invokefunction
// gas consumption, used by the meta-tx relayer's fee model (§4.3 step 3).
func (c *Client) EstimateFee(ctx context.Context, contract, method string, args []interface{}) (uint64, error) {
	r, err := c.InvokeFunction(ctx, contract, method, args)
	if err != nil {
		return 0, err
	}
	var gas uint64
	if _, err := fmt.Sscanf(r.GasConsumed, "%d", &gas); err != nil {
		return 0, faaserr.Wrap(faaserr.Upstream, err, "parse gasconsumed %q", r.GasConsumed)
	}
	return gas, nil
}
