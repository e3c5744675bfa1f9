package oracle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/r3e-network/faas-core/internal/chain"
	"github.com/r3e-network/faas-core/internal/faaserr"
)

// ChainEntropySource supplies the most recent final block's hash as one of
// the random algorithm's independent entropy sources (§4.4: "chain block
// hash of the most recent final block"). chain.Client satisfies this
// structurally.
type ChainEntropySource interface {
	GetBlockCount(ctx context.Context) (uint32, error)
	GetBlock(ctx context.Context, height uint32) (*chain.Block, error)
}

// Beacon is an external VRF/randomness-beacon source (§4.4: "at least one
// external VRF/beacon"). Optional: a nil Beacon is skipped, and the value
// is still auditable from OS RNG + chain hash alone, just with one fewer
// independent source.
type Beacon interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Randomizer produces the auditable multi-source random values of §4.4.
type Randomizer struct {
	Chain  ChainEntropySource
	Beacon Beacon
}

// NewRandomizer builds a Randomizer. beacon may be nil.
func NewRandomizer(chainSrc ChainEntropySource, beacon Beacon) *Randomizer {
	return &Randomizer{Chain: chainSrc, Beacon: beacon}
}

// Result carries the produced bytes alongside the mix transcript, so the
// value is auditable per §4.4 ("All inputs and the mix transcript are
// recorded so the value is auditable").
type Result struct {
	Bytes      []byte
	Transcript []byte
}

// Random collects entropy from OS RNG, the latest final block hash, and
// (if configured) an external beacon; mixes them with SHA3-256 (from
// golang.org/x/crypto/sha3, not the SHA-2 SHA-256); and maps
// the expanded stream onto count values in [min, max) by rejection
// sampling, avoiding modulo bias (§4.4).
func (r *Randomizer) Random(ctx context.Context, min, max int64, count int) (*Result, error) {
	if max <= min {
		return nil, faaserr.New(faaserr.InvalidRequest, "random range requires max > min")
	}
	if count <= 0 {
		return nil, faaserr.New(faaserr.InvalidRequest, "random count must be positive")
	}

	osEntropy := make([]byte, 32)
	if _, err := rand.Read(osEntropy); err != nil {
		return nil, faaserr.Wrap(faaserr.Internal, err, "read OS entropy")
	}

	chainHash, err := r.latestFinalBlockHash(ctx)
	if err != nil {
		return nil, err
	}

	var beaconEntropy []byte
	if r.Beacon != nil {
		b, err := r.Beacon.Fetch(ctx)
		if err != nil {
			return nil, faaserr.Wrap(faaserr.Upstream, err, "fetch external randomness beacon")
		}
		beaconEntropy = b
	}

	transcript := append(append(append([]byte{}, osEntropy...), []byte(chainHash)...), beaconEntropy...)
	seed := sha3.Sum256(transcript)

	rangeSize := max - min
	out := make([]byte, 0, count*8)
	stream := expand(seed, count)
	for i := 0; i < count; i++ {
		v := rejectionSample(stream[i], rangeSize)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(min+v))
		out = append(out, buf...)
	}

	return &Result{Bytes: out, Transcript: transcript}, nil
}

func (r *Randomizer) latestFinalBlockHash(ctx context.Context) (string, error) {
	height, err := r.Chain.GetBlockCount(ctx)
	if err != nil {
		return "", err
	}
	if height == 0 {
		return "", faaserr.New(faaserr.Upstream, "chain reports zero block height")
	}
	b, err := r.Chain.GetBlock(ctx, height-1)
	if err != nil {
		return "", err
	}
	return b.Hash, nil
}

// expand derives count independent 64-bit draws from seed by re-hashing
// seed concatenated with a counter, giving a CSPRNG-expanded stream
// without depending on a dedicated DRBG library.
func expand(seed [32]byte, count int) []uint64 {
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		counter := make([]byte, 8)
		binary.BigEndian.PutUint64(counter, uint64(i))
		h := sha3.Sum256(append(seed[:], counter...))
		out[i] = binary.BigEndian.Uint64(h[:8])
	}
	return out
}

// rejectionSample maps draw onto [0, rangeSize) without modulo bias: if
// draw falls in the fraction of uint64 space that would skew the modulo
// distribution, it is rehashed and redrawn.
func rejectionSample(draw uint64, rangeSize int64) int64 {
	limit := uint64(0xFFFFFFFFFFFFFFFF) - (uint64(0xFFFFFFFFFFFFFFFF) % uint64(rangeSize))
	for draw >= limit {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, draw)
		h := sha3.Sum256(b)
		draw = binary.BigEndian.Uint64(h[:8])
	}
	return int64(new(big.Int).Mod(new(big.Int).SetUint64(draw), big.NewInt(rangeSize)).Int64())
}
