/*

This file contains the default control parameters for the PLM.

These parameters are designed for unattended operation against real positions.
Each value has been chosen to balance responsiveness with transaction cost and
on-chain risk.

*/

package config

import (
	"time"

	"github.com/windrose-labs/plm/internal/types"
)

// DefaultRebalanceConfig provides the baseline rebalance policy.
// These values are used if no active parameters are found in the database
// during initialization.
var DefaultRebalanceConfig = types.RebalanceConfig{
	ThresholdBps: 300, // Recenter once price has drifted 3% from the range center.
	// Rationale: tighter thresholds recenter constantly and burn the position's
	// fee income on transaction costs; looser ones leave the position earning
	// nothing near the range edge. 3% is a workable middle for ranges in the
	// 10-30% width band.

	TargetWidthBps: 2000, // Rebuild ranges 20% wide (full width, edge to edge).
	// Rationale: width controls the concentration/maintenance trade-off. 20%
	// keeps fee capture meaningful on majors without demanding daily attention.

	MinRebalanceInterval: 1 * time.Hour, // At most one recenter per position per hour.
	// Rationale: a confirmed rebalance already moved the range onto the price.
	// If price immediately drifts again, chasing it every cycle compounds fees
	// and realizes IL. One hour forces the controller to let ranges breathe.

	GasPriority: types.GasPriorityHigh, // Pay the 95th percentile priority fee.
	// Rationale: a rebalance that lands two minutes late can land outside the
	// very range it just computed. Fee percentile is the main lever for
	// inclusion speed, and "high" is the default posture for value-bearing
	// transactions.
}

// DefaultSafetyLimits provides the baseline pre-submission safety checks.
var DefaultSafetyLimits = types.SafetyLimits{
	MinPositionSizeUSD: 100, // Ignore positions under $100.
	// Rationale: below this the rent and priority fees of a rebalance are a
	// material fraction of the position itself.

	MaxPositionSizeUSD: 250000, // Refuse to touch positions over $250k.
	// Rationale: an upper bound caps the blast radius of a bad decision. Larger
	// positions deserve a human, not an unattended loop.

	MaxSlippageBps: 100, // Allow up to 1% slippage in plan construction.
	// Rationale: recentering swaps the token imbalance back to the target
	// ratio. 1% is generous for liquid pairs and a hard stop for thin ones.

	MinTvlUSD: 100000, // Require at least $100k pool TVL.
	// Rationale: thin pools cannot absorb a withdraw-and-redeposit without the
	// position itself moving the price it is trying to track.

	MinVolume24hUSD: 50000, // Require at least $50k daily volume.
	// Rationale: volume is the best proxy for whether a range will actually
	// earn fees. Recentering a position in a dead pool is pure cost.

	MaxPriceImpactBps: 50, // Cap estimated price impact at 0.5%.
	// Rationale: estimated impact scales with position size over pool depth.
	// Past this bound the rebalance itself degrades the entry price.
}

// Submission engine constants. The submission algorithm is fixed; these are
// its tuning points.
const (
	// DefaultComputeUnitEstimate is the fallback CU estimate when simulation fails.
	// 200k covers a withdraw/redeposit pair on all three supported protocols.
	DefaultComputeUnitEstimate uint64 = 200000

	// ComputeUnitLimitMultiplier pads the simulated estimate. Simulation runs
	// against a slightly stale bank, so real execution can consume more.
	ComputeUnitLimitMultiplier float64 = 1.3

	// ComputeUnitSafetyMargin is the absolute padding floor in compute units.
	// For small transactions the multiplier alone is not enough headroom.
	ComputeUnitSafetyMargin uint64 = 100000

	// MinPriorityFeeMicroLamports is the fee floor used when the RPC node
	// returns no recent prioritization fee samples.
	MinPriorityFeeMicroLamports uint64 = 1

	// ConfirmationPollInterval is the cadence for signature status polling.
	ConfirmationPollInterval = 1 * time.Second

	// ConfirmationTimeout bounds the confirmation wait. After this the
	// transaction outcome is ambiguous: it is reported as a timeout and is
	// never resent.
	ConfirmationTimeout = 90 * time.Second
)
