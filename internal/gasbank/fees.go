package gasbank

import (
	"math"

	"github.com/holiman/uint256"
)

// surgeFloor and surgeCeil bound the Dynamic fee model's surge factor
// (§4.3 step 3: "bounded in [1.0, 3.0]").
const (
	surgeFloor = 1.0
	surgeCeil  = 3.0
)

// Chargeable computes the amount to reserve against estimate, an upstream
// chain-fee estimate, per the account's configured FeeModel (§4.3 step 3).
func Chargeable(model FeeModel, estimate int64, load float64) int64 {
	switch model.Kind {
	case FeeFixed:
		return model.Param
	case FeePercentage:
		// estimate*param can overflow int64 well before either operand
		// approaches the smallest-unit range some chains express balances
		// in; uint256 carries the intermediate product exactly.
		product := new(uint256.Int).Mul(uint256.NewInt(uint64(estimate)), uint256.NewInt(uint64(model.Param)))
		result := product.Div(product, uint256.NewInt(10_000))
		return int64(result.Uint64())
	case FeeDynamic:
		return int64(math.Round(float64(estimate) * surgeFactor(load)))
	case FeeFree:
		return 0
	default:
		return estimate
	}
}

// surgeFactor is a monotonic function of load (expected in [0,1], but not
// required to be) clamped to [surgeFloor, surgeCeil]. Load scales linearly
// from 1.0x at no load to 3.0x at full load; this is the simplest
// monotonic mapping that satisfies the bound named in §4.3 without
// inventing an unspecified curve.
func surgeFactor(load float64) float64 {
	f := surgeFloor + load*(surgeCeil-surgeFloor)
	if f < surgeFloor {
		return surgeFloor
	}
	if f > surgeCeil {
		return surgeCeil
	}
	return f
}
