package sandbox

import (
	"context"

	"github.com/r3e-network/faas-core/internal/faas"
)

// ChainPort is the read-only chain-query capability gated by chain.read.
type ChainPort interface {
	GetBlock(ctx context.Context, heightOrHash string) (interface{}, error)
	GetTransaction(ctx context.Context, hash string) (interface{}, error)
	GetContract(ctx context.Context, hash string) (interface{}, error)
	CallReadonly(ctx context.Context, contract, method string, args []interface{}) (interface{}, error)
}

// OraclePort is gated by oracle.read.
type OraclePort interface {
	Price(ctx context.Context, asset, currency string) (interface{}, error)
	Random(ctx context.Context, min, max int64, count int) ([]byte, error)
}

// StoragePort is the per-(owner,function) namespaced key/value capability
// gated by storage.read / storage.write.
type StoragePort interface {
	Get(ctx context.Context, ownerID, functionID, key string) ([]byte, error)
	Set(ctx context.Context, ownerID, functionID, key string, value []byte, ttlSeconds int64) error
	Delete(ctx context.Context, ownerID, functionID, key string) error
	List(ctx context.Context, ownerID, functionID, prefix string, limit int) ([]string, error)
}

// MetaTxPort is gated by metatx.submit.
type MetaTxPort interface {
	Submit(ctx context.Context, request interface{}) (interface{}, error)
}

// GasBankPort is gated by gasbank.pay.
type GasBankPort interface {
	Pay(ctx context.Context, tx interface{}) (interface{}, error)
}

// AttestStore is the opaque TEE sealed-execution port (DESIGN NOTES §9:
// "The sandbox never holds private keys directly... delegated to
// AttestStore through an opaque handle"). Implemented out-of-process in
// production; this core only depends on the interface.
type AttestStore interface {
	Execute(ctx context.Context, code string, inputs interface{}) (interface{}, error)
}

// ProofBackend is the opaque ZK circuit port.
type ProofBackend interface {
	Prove(ctx context.Context, circuitID string, pub, priv interface{}) (interface{}, error)
	Verify(ctx context.Context, proof, vk, pub interface{}) (bool, error)
}

// Capabilities bundles every port a worker may inject into an invocation's
// context, scoped to the task's lifetime (DESIGN NOTES §9: "explicit
// capability handles injected into each invocation's context; lifetimes
// scoped to the task").
type Capabilities struct {
	Chain   ChainPort
	Oracle  OraclePort
	Storage StoragePort
	MetaTx  MetaTxPort
	GasBank GasBankPort
	Attest  AttestStore
	ZK      ProofBackend
}

// InvocationContext is the (owner, function, permission, quota) scope one
// Execute call runs under.
type InvocationContext struct {
	OwnerID    string
	FunctionID string
	Perms      faas.PermissionSet
	Quota      *Quota
}
