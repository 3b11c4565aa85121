/*

This file contains the drift evaluation output and the configuration the
controller is constructed with. Both config types are loaded once at startup
and never mutated afterwards.

*/

package types

import "time"

// BasisPointMax is the number of basis points in 100%.
const BasisPointMax = 10000

// DriftMetrics is the health evaluation of one position snapshot.
type DriftMetrics struct {
	DistanceFromCenterBps float64 `json:"distance_from_center_bps"` // |current - center| / current, in basis points; never negative
	PositionWidthBps      float64 `json:"position_width_bps"`       // Full range width relative to the range center, in basis points (not halved)
	NeedsRebalance        bool    `json:"needs_rebalance"`          // Distance above threshold, or price out of range
}

// GasPriority selects how aggressively the submission engine bids
// prioritization fees.
type GasPriority string

const (
	GasPriorityLow    GasPriority = "low"    // 50th percentile of recent fees
	GasPriorityMedium GasPriority = "medium" // 75th percentile
	GasPriorityHigh   GasPriority = "high"   // 95th percentile
	GasPriorityTurbo  GasPriority = "turbo"  // 99th percentile
)

// RebalanceConfig holds the drift thresholds and timing gates for the
// controller loop.
type RebalanceConfig struct {
	ThresholdBps         float64       `json:"threshold_bps"`          // Rebalance when distance from center exceeds this (strictly greater)
	TargetWidthBps       float64       `json:"target_width_bps"`       // Desired full width of a freshly centered range
	MinRebalanceInterval time.Duration `json:"min_rebalance_interval"` // Cooldown between confirmed rebalances of one position
	GasPriority          GasPriority   `json:"gas_priority"`
}

// SafetyLimits are the static risk bounds every corrective action is checked
// against before it may reach the submission engine.
type SafetyLimits struct {
	MinPositionSizeUSD float64 `json:"min_position_size_usd"` // Positions below this are not worth the transaction costs
	MaxPositionSizeUSD float64 `json:"max_position_size_usd"` // Positions above this need human sign-off
	MaxSlippageBps     float64 `json:"max_slippage_bps"`      // Handed to plan construction, which owns swap slippage bounds
	MinTvlUSD          float64 `json:"min_tvl_usd"`           // Pools thinner than this are too risky to trade
	MinVolume24hUSD    float64 `json:"min_volume_24h_usd"`    // Stale pools make drift numbers unreliable
	MaxPriceImpactBps  float64 `json:"max_price_impact_bps"`  // Estimated impact of the corrective trade
}
