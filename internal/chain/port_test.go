package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     interface{}   `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
}

// fakeNode serves canned JSON-RPC 2.0 responses keyed by method, enough to
// exercise Port's dispatch without a real Neo N3 node.
func fakeNode(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}))
	}))
}

func dialPort(t *testing.T, results map[string]interface{}) *Port {
	t.Helper()
	srv := fakeNode(t, results)
	t.Cleanup(srv.Close)
	client, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return NewPort(client)
}

func TestPortGetBlockByHeight(t *testing.T) {
	port := dialPort(t, map[string]interface{}{
		"getblock": Block{Hash: "0xabc", Height: 42},
	})
	b, err := port.GetBlock(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, &Block{Hash: "0xabc", Height: 42}, b)
}

func TestPortGetBlockByHash(t *testing.T) {
	port := dialPort(t, map[string]interface{}{
		"getblock": Block{Hash: "0xdef", Height: 7},
	})
	b, err := port.GetBlock(context.Background(), "0xdef")
	require.NoError(t, err)
	require.Equal(t, &Block{Hash: "0xdef", Height: 7}, b)
}

func TestPortGetTransaction(t *testing.T) {
	port := dialPort(t, map[string]interface{}{
		"getrawtransaction": Transaction{Hash: "0x1", Sender: "Nxyz"},
	})
	tx, err := port.GetTransaction(context.Background(), "0x1")
	require.NoError(t, err)
	require.Equal(t, &Transaction{Hash: "0x1", Sender: "Nxyz"}, tx)
}

func TestPortGetContract(t *testing.T) {
	state := ContractState{Hash: "0x2", ID: 9}
	state.Manifest.Name = "MyToken"
	port := dialPort(t, map[string]interface{}{
		"getcontractstate": state,
	})
	c, err := port.GetContract(context.Background(), "0x2")
	require.NoError(t, err)
	require.Equal(t, &state, c)
}

func TestPortCallReadonly(t *testing.T) {
	port := dialPort(t, map[string]interface{}{
		"invokefunction": InvokeResult{State: "HALT", GasConsumed: "123"},
	})
	r, err := port.CallReadonly(context.Background(), "0xcontract", "balanceOf", []interface{}{"Nabc"})
	require.NoError(t, err)
	require.Equal(t, &InvokeResult{State: "HALT", GasConsumed: "123"}, r)
}
