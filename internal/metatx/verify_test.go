package metatx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

func TestVerifySignatureSecp256k1(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	req := Request{
		Blockchain:     "neo3",
		Sender:         sender,
		TargetContract: "0xcontract",
		Calldata:       []byte("cmd"),
		Nonce:          1,
		Deadline:       time.Now().Add(time.Hour),
		SignatureCurve: CurveSecp256k1,
	}
	digest := typedDataDigest(req)
	sig, err := crypto.Sign(digest.Bytes(), priv)
	require.NoError(t, err)
	req.Signature = sig

	require.NoError(t, VerifySignature(req))
}

func TestVerifySignatureSecp256k1WrongSender(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	req := Request{
		Blockchain:     "neo3",
		Sender:         crypto.PubkeyToAddress(other.PublicKey).Hex(),
		TargetContract: "0xcontract",
		Nonce:          1,
		Deadline:       time.Now().Add(time.Hour),
		SignatureCurve: CurveSecp256k1,
	}
	digest := typedDataDigest(req)
	sig, err := crypto.Sign(digest.Bytes(), priv)
	require.NoError(t, err)
	req.Signature = sig

	err = VerifySignature(req)
	require.Error(t, err)
	require.Equal(t, faaserr.SignatureInvalid, faaserr.KindOf(err))
}

func TestVerifySignatureSecp256r1(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubBytes := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)

	req := Request{
		Blockchain:     "neo3",
		Sender:         "0x" + hex.EncodeToString(pubBytes),
		TargetContract: "0xcontract",
		Nonce:          1,
		Deadline:       time.Now().Add(time.Hour),
		SignatureCurve: CurveSecp256r1,
	}
	digest, err := canonicalDigest(req)
	require.NoError(t, err)
	sigR, sigS, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	req.Signature = append(leftPad32(sigR.Bytes()), leftPad32(sigS.Bytes())...)

	require.NoError(t, VerifySignature(req))
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
