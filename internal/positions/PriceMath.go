/*

This file contains the price decoding shared by the protocol adapters.

Concentrated-liquidity protocols store prices as integer exponents of a fixed
base: Orca and Raydium use ticks of 1.0001, Meteora uses bins of
(1 + binStep/10000). On-chain prices relate raw token units; UI prices are
normalized by the tokens' decimal difference.

*/

package positions

import (
	"errors"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"github.com/windrose-labs/plm/internal/types"
)

// MIN_TICK_INDEX and MAX_TICK_INDEX bound the tick index domain. Bin indexes
// share the same envelope.
const (
	MIN_TICK_INDEX = -443636
	MAX_TICK_INDEX = 443636
)

// q64 is 2^64 as a big.Float, the denominator of Q64.64 fixed-point values.
var q64 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))

// decimalFactor is 10^(decimalsA-decimalsB), the raw-to-UI price scale.
func decimalFactor(decimalsA, decimalsB uint8) float64 {
	return math.Pow(10, float64(decimalsA)-float64(decimalsB))
}

// tickToPrice converts a tick index to a UI price (token B per token A).
func tickToPrice(tick int32, decimalsA, decimalsB uint8) float64 {
	return math.Pow(1.0001, float64(tick)) * decimalFactor(decimalsA, decimalsB)
}

// binToPrice converts a DLMM bin index to a UI price.
func binToPrice(binID int32, binStep uint16, decimalsA, decimalsB uint8) float64 {
	base := 1 + float64(binStep)/float64(types.BasisPointMax)
	return math.Pow(base, float64(binID)) * decimalFactor(decimalsA, decimalsB)
}

// sqrtPriceX64ToPrice decodes a Q64.64 square-root price into a UI price.
// The square root of a pool price spans the full u128 range, so the division
// runs in big.Float before dropping to float64.
func sqrtPriceX64ToPrice(sqrtPrice sdkmath.Int, decimalsA, decimalsB uint8) (float64, error) {
	if sqrtPrice.IsNil() || !sqrtPrice.IsPositive() {
		return 0, errors.Join(ErrInvalidPayload, errors.New("sqrt price must be positive"))
	}

	ratio := new(big.Float).SetInt(sqrtPrice.BigInt())
	ratio.Quo(ratio, q64)

	sqrtUI, _ := ratio.Float64()
	if math.IsNaN(sqrtUI) || math.IsInf(sqrtUI, 0) || sqrtUI <= 0 {
		return 0, errors.Join(ErrInvalidPayload, errors.New("sqrt price is out of float range"))
	}

	price := sqrtUI * sqrtUI * decimalFactor(decimalsA, decimalsB)
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, errors.Join(ErrInvalidPayload, errors.New("decoded price is not finite"))
	}
	return price, nil
}

// validIndex reports whether a tick or bin index is inside the protocol
// domain.
func validIndex(index int32) bool {
	return index >= MIN_TICK_INDEX && index <= MAX_TICK_INDEX
}
