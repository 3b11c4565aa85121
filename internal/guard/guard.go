/*

This file contains the safety guard, the last gate before a rebalance plan
may reach the submission engine. The guard is mandatory and unconditional:
the controller never submits a plan the guard did not approve in the same
cycle.

Rejections are ordinary results, not errors. The error return fires only on
malformed inputs, so a rejection can never be mistaken for a system fault.

*/

package guard

import (
	"errors"
	"fmt"
	"math"

	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidSnapshot = errors.New("snapshot contains invalid data")
	ErrInvalidLimits   = errors.New("safety limits contain invalid data")
)

var guardLogger = logger.GetForComponent("safety_guard")

// Result is the outcome of a safety check.
type Result struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons,omitempty"` // one entry per violated limit
}

// Check validates a proposed rebalance of the position against the static
// safety limits. Every limit is evaluated so a rejection reports the full
// set of violations, not just the first.
func Check(snapshot types.PositionSnapshot, limits types.SafetyLimits) (Result, error) {
	if err := validateLimits(limits); err != nil {
		return Result{}, err
	}
	if err := validateSnapshot(snapshot); err != nil {
		return Result{}, err
	}

	var reasons []string

	value := snapshot.ValueUSD
	pool := snapshot.Pool

	if value < limits.MinPositionSizeUSD {
		reasons = append(reasons, fmt.Sprintf(
			"position value $%.2f below minimum $%.2f", value, limits.MinPositionSizeUSD))
	}
	if value > limits.MaxPositionSizeUSD {
		reasons = append(reasons, fmt.Sprintf(
			"position value $%.2f above maximum $%.2f", value, limits.MaxPositionSizeUSD))
	}
	if pool.TvlUSD < limits.MinTvlUSD {
		reasons = append(reasons, fmt.Sprintf(
			"pool TVL $%.2f below minimum $%.2f", pool.TvlUSD, limits.MinTvlUSD))
	}
	if pool.Volume24hUSD < limits.MinVolume24hUSD {
		reasons = append(reasons, fmt.Sprintf(
			"pool 24h volume $%.2f below minimum $%.2f", pool.Volume24hUSD, limits.MinVolume24hUSD))
	}
	if impact := estimatePriceImpactBps(value, pool.TvlUSD); impact > limits.MaxPriceImpactBps {
		reasons = append(reasons, fmt.Sprintf(
			"estimated price impact %.1f bps above maximum %.1f bps", impact, limits.MaxPriceImpactBps))
	}

	result := Result{Approved: len(reasons) == 0, Reasons: reasons}

	if result.Approved {
		guardLogger.Debug().
			Str("position", snapshot.PositionID.String()).
			Float64("valueUSD", value).
			Msg("Check: Rebalance approved")
	} else {
		guardLogger.Info().
			Str("position", snapshot.PositionID.String()).
			Strs("reasons", reasons).
			Msg("Check: Rebalance rejected by safety limits")
	}

	return result, nil
}

// estimatePriceImpactBps approximates the price impact of pushing the
// position's value through its own pool, as value over depth in basis
// points. It is a coarse constant-product proxy, deliberately pessimistic
// for concentrated liquidity.
func estimatePriceImpactBps(positionValueUSD, tvlUSD float64) float64 {
	if tvlUSD <= 0 {
		return types.BasisPointMax
	}
	return positionValueUSD / tvlUSD * types.BasisPointMax
}

// validateLimits performs comprehensive validation of the safety limits.
func validateLimits(limits types.SafetyLimits) error {
	for _, v := range []struct {
		value float64
		name  string
	}{
		{limits.MinPositionSizeUSD, "min position size"},
		{limits.MaxPositionSizeUSD, "max position size"},
		{limits.MaxSlippageBps, "max slippage"},
		{limits.MinTvlUSD, "min TVL"},
		{limits.MinVolume24hUSD, "min 24h volume"},
		{limits.MaxPriceImpactBps, "max price impact"},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return errors.Join(ErrInvalidLimits, fmt.Errorf("%s is not finite: %f", v.name, v.value))
		}
		if v.value < 0 {
			return errors.Join(ErrInvalidLimits, fmt.Errorf("%s cannot be negative: %f", v.name, v.value))
		}
	}
	if limits.MaxPositionSizeUSD == 0 {
		return errors.Join(ErrInvalidLimits, errors.New("max position size cannot be zero"))
	}
	if limits.MinPositionSizeUSD > limits.MaxPositionSizeUSD {
		return errors.Join(ErrInvalidLimits, fmt.Errorf(
			"min position size %f exceeds max position size %f",
			limits.MinPositionSizeUSD, limits.MaxPositionSizeUSD))
	}
	return nil
}

// validateSnapshot checks the snapshot fields the guard decides on.
func validateSnapshot(snapshot types.PositionSnapshot) error {
	for _, v := range []struct {
		value float64
		name  string
	}{
		{snapshot.ValueUSD, "position value"},
		{snapshot.Pool.TvlUSD, "pool TVL"},
		{snapshot.Pool.Volume24hUSD, "pool 24h volume"},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return errors.Join(ErrInvalidSnapshot, fmt.Errorf("%s is not finite: %f", v.name, v.value))
		}
		if v.value < 0 {
			return errors.Join(ErrInvalidSnapshot, fmt.Errorf("%s cannot be negative: %f", v.name, v.value))
		}
	}
	return nil
}
