package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// DeterministicProofBackend is the in-process ProofBackend used when no
// real proving system is wired in. The ZK circuit compiler/prover is out
// of scope as a system (§12 SUPPLEMENTED FEATURES); this stub gives the
// zk.prove/zk.verify host calls and their port something deterministic and
// testable to run against.
//
// The "proof" it produces is a commitment hash, not a zero-knowledge
// proof; Verify only checks that a (proof, vk, pub) triple is internally
// consistent with what Prove would have produced, never a real circuit.
type DeterministicProofBackend struct{}

// NewDeterministicProofBackend builds the stub ProofBackend.
func NewDeterministicProofBackend() *DeterministicProofBackend {
	return &DeterministicProofBackend{}
}

func (s *DeterministicProofBackend) Prove(_ context.Context, circuitID string, pub, priv interface{}) (interface{}, error) {
	digest, err := commitmentDigest(circuitID, pub, priv)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"circuit_id": circuitID,
		"proof":      digest,
	}, nil
}

func (s *DeterministicProofBackend) Verify(_ context.Context, proof, vk, pub interface{}) (bool, error) {
	proofMap, ok := proof.(map[string]interface{})
	if !ok {
		return false, faaserr.New(faaserr.InvalidRequest, "zk.verify: proof must be the object returned by zk.prove")
	}
	circuitID, _ := proofMap["circuit_id"].(string)
	want, _ := proofMap["proof"].(string)

	vkMap, _ := vk.(map[string]interface{})
	priv := vkMap["witness"]

	got, err := commitmentDigest(circuitID, pub, priv)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

func commitmentDigest(circuitID string, pub, priv interface{}) (string, error) {
	pubBytes, err := json.Marshal(pub)
	if err != nil {
		return "", faaserr.Wrap(faaserr.InvalidRequest, err, "encode zk public inputs")
	}
	privBytes, err := json.Marshal(priv)
	if err != nil {
		return "", faaserr.Wrap(faaserr.InvalidRequest, err, "encode zk private witness")
	}
	h := sha256.New()
	h.Write([]byte(circuitID))
	h.Write(pubBytes)
	h.Write(privBytes)
	return hex.EncodeToString(h.Sum(nil)), nil
}
