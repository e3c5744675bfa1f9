package chain

import (
	"context"
	"strconv"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// Port adapts Client to sandbox.ChainPort: the read-only, interface{}-typed
// surface a sandboxed function's chain.* host calls run against.
type Port struct {
	client *Client
}

// NewPort wraps client.
func NewPort(client *Client) *Port { return &Port{client: client} }

// GetBlock accepts either a decimal height or a block hash.
func (p *Port) GetBlock(ctx context.Context, heightOrHash string) (interface{}, error) {
	if height, err := strconv.ParseUint(heightOrHash, 10, 32); err == nil {
		return p.client.GetBlock(ctx, uint32(height))
	}
	return p.client.GetBlockByHash(ctx, heightOrHash)
}

// GetTransaction fetches a verbose transaction by hash.
func (p *Port) GetTransaction(ctx context.Context, hash string) (interface{}, error) {
	return p.client.GetRawTransaction(ctx, hash)
}

// GetContract fetches a deployed contract's manifest by script hash.
func (p *Port) GetContract(ctx context.Context, hash string) (interface{}, error) {
	return p.client.GetContractState(ctx, hash)
}

// CallReadonly performs a read-only invokefunction call.
func (p *Port) CallReadonly(ctx context.Context, contract, method string, args []interface{}) (interface{}, error) {
	r, err := p.client.InvokeFunction(ctx, contract, method, args)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.KindOf(err), err, "call_readonly %s.%s", contract, method)
	}
	return r, nil
}
