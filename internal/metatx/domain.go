package metatx

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// requestTypeHash is the EIP-712 struct type hash for MetaTxRequest's fixed
// schema: keccak256("MetaTxRequest(string blockchain,string sender,string
// targetContract,bytes calldata,uint256 nonce,uint256 deadline)").
var requestTypeHash = crypto.Keccak256Hash([]byte(
	"MetaTxRequest(string blockchain,string sender,string targetContract,bytes calldata,uint256 nonce,uint256 deadline)",
))

// domainSeparator binds a digest to this relayer and the request's target
// blockchain, preventing cross-chain signature replay (EIP-712 domain
// separation, generalized from a single verifying contract to "blockchain
// name" since a Neo N3 meta-tx has no EVM contract address of its own).
func domainSeparator(blockchain string) common.Hash {
	domainTypeHash := crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,string blockchain)"))
	nameHash := crypto.Keccak256Hash([]byte("faas-core-metatx"))
	versionHash := crypto.Keccak256Hash([]byte("1"))
	chainHash := crypto.Keccak256Hash([]byte(blockchain))
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		nameHash.Bytes(),
		versionHash.Bytes(),
		chainHash.Bytes(),
	)
}

// structHash hashes the request's fields per requestTypeHash's schema.
func structHash(r Request) common.Hash {
	calldataHash := crypto.Keccak256Hash(r.Calldata)
	return crypto.Keccak256Hash(
		requestTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(r.Blockchain)).Bytes(),
		crypto.Keccak256Hash([]byte(r.Sender)).Bytes(),
		crypto.Keccak256Hash([]byte(r.TargetContract)).Bytes(),
		calldataHash.Bytes(),
		common.LeftPadBytes(new(big.Int).SetUint64(r.Nonce).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(r.Deadline.Unix()).Bytes(), 32),
	)
}

// typedDataDigest computes the secp256k1 signing digest of §4.3 step 1:
// keccak256("\x19\x01" ‖ domainSeparator ‖ structHash(request)).
func typedDataDigest(r Request) common.Hash {
	return crypto.Keccak256Hash(
		[]byte("\x19\x01"),
		domainSeparator(r.Blockchain).Bytes(),
		structHash(r).Bytes(),
	)
}

// canonicalDigest computes the secp256r1 signing digest of §4.3 step 1:
// sha256(canonical-JSON(request-without-signature)).
func canonicalDigest(r Request) ([32]byte, error) {
	r.Signature = nil
	b, err := canonicalJSON(r)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// canonicalJSON re-marshals v through a map so Go's encoding/json sorts
// object keys, giving a stable byte representation across processes
// (encoding/json sorts map keys but not struct fields in declaration
// order, so the round-trip through map[string]interface{} is what makes
// this canonical).
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
