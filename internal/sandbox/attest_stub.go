package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// DeterministicAttestStore is the in-process AttestStore used when no real
// TEE enclave is wired in. The attestation service itself is out of scope
// as a system (§12 SUPPLEMENTED FEATURES); this stub exists so the
// secure.execute host call and its port compile, are exercised by tests,
// and can be swapped for a production implementation without touching the
// bridge.
//
// It "executes" by hashing code+inputs into a deterministic digest rather
// than running code in any isolated enclave; callers must not treat its
// output as a genuine attestation.
type DeterministicAttestStore struct{}

// NewDeterministicAttestStore builds the stub AttestStore.
func NewDeterministicAttestStore() *DeterministicAttestStore {
	return &DeterministicAttestStore{}
}

// Execute returns a digest binding code and inputs together, standing in
// for a sealed-execution result and report.
func (s *DeterministicAttestStore) Execute(_ context.Context, code string, inputs interface{}) (interface{}, error) {
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.InvalidRequest, err, "encode secure.execute inputs")
	}
	h := sha256.New()
	h.Write([]byte(code))
	h.Write(payload)
	return map[string]interface{}{
		"digest":      hex.EncodeToString(h.Sum(nil)),
		"attestation": "stub",
	}, nil
}
