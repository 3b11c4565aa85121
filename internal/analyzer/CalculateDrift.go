package analyzer

import (
	"errors"
	"fmt"
	"math"

	"github.com/windrose-labs/plm/internal/types"
)

// ErrInvalidPrice indicates the snapshot's prices cannot support a drift
// calculation (non-finite, negative, or a non-positive current price).
var ErrInvalidPrice = errors.New("snapshot prices are invalid for drift evaluation")

// ErrInvalidThreshold indicates the configured rebalance threshold is unusable.
var ErrInvalidThreshold = errors.New("rebalance threshold is invalid")

// MAX_DRIFT_BPS is the saturation value reported for degenerate ranges where
// a relative distance from center has no meaning (lower == upper).
const MAX_DRIFT_BPS = 1000000

// CalculateDrift measures how far the current price has moved from the
// center of the position's range and decides whether the position needs to
// be recentered. It is a pure function of the snapshot and the configured
// threshold.
func CalculateDrift(snapshot types.PositionSnapshot, cfg types.RebalanceConfig) (types.DriftMetrics, error) {
	// --- Input Validation ---
	if math.IsNaN(cfg.ThresholdBps) || math.IsInf(cfg.ThresholdBps, 0) || cfg.ThresholdBps < 0 {
		return types.DriftMetrics{}, errors.Join(ErrInvalidThreshold,
			fmt.Errorf("threshold %f must be finite and non-negative", cfg.ThresholdBps))
	}

	lower := snapshot.LowerPrice
	upper := snapshot.UpperPrice
	current := snapshot.CurrentPrice

	for _, p := range []struct {
		value float64
		name  string
	}{
		{lower, "lower price"},
		{upper, "upper price"},
		{current, "current price"},
	} {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return types.DriftMetrics{}, errors.Join(ErrInvalidPrice,
				fmt.Errorf("%s is not finite: %f", p.name, p.value))
		}
		if p.value < 0 {
			return types.DriftMetrics{}, errors.Join(ErrInvalidPrice,
				fmt.Errorf("%s cannot be negative: %f", p.name, p.value))
		}
	}
	if lower > upper {
		return types.DriftMetrics{}, errors.Join(ErrInvalidPrice,
			fmt.Errorf("lower price %f exceeds upper price %f", lower, upper))
	}
	if current == 0 {
		// Distance from center is relative to the current price; a zero
		// price has no meaningful drift.
		return types.DriftMetrics{}, errors.Join(ErrInvalidPrice,
			errors.New("current price is zero"))
	}

	// --- Degenerate Range ---
	// A zero-width range cannot hold the price by definition. Saturate the
	// distance instead of dividing by a zero center.
	if lower == upper {
		return types.DriftMetrics{
			DistanceFromCenterBps: MAX_DRIFT_BPS,
			PositionWidthBps:      0,
			NeedsRebalance:        true,
		}, nil
	}

	// --- Distance and Width ---
	center := (lower + upper) / 2

	distanceBps := math.Abs(current-center) / current * types.BasisPointMax
	widthBps := (upper - lower) / center * types.BasisPointMax

	// --- Decision ---
	// Strictly greater: a position sitting exactly at the threshold holds.
	needsRebalance := distanceBps > cfg.ThresholdBps || !snapshot.InRange

	return types.DriftMetrics{
		DistanceFromCenterBps: distanceBps,
		PositionWidthBps:      widthBps,
		NeedsRebalance:        needsRebalance,
	}, nil
}
