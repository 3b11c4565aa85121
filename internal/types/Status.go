/*

This file contains the status surface the controller exposes to its host
through the web layer: the latest snapshot, metrics, and outcome per position.

*/

package types

import "time"

// TickOutcome is what happened to one position during one cycle.
type TickOutcome string

const (
	OutcomeNoAction        TickOutcome = "NO_ACTION"        // Drift within tolerance
	OutcomeCooldownActive  TickOutcome = "COOLDOWN_ACTIVE"  // Drift exceeded but the cooldown has not elapsed
	OutcomeSafetyRejected  TickOutcome = "SAFETY_REJECTED"  // Blocked by the safety limits; expected, not an error
	OutcomePlannerMissing  TickOutcome = "PLANNER_MISSING"  // No plan builder registered for the protocol
	OutcomePlanFailed      TickOutcome = "PLAN_FAILED"      // Plan construction returned an error
	OutcomeConfirmed       TickOutcome = "CONFIRMED"        // Corrective transaction confirmed on chain
	OutcomeFailed          TickOutcome = "FAILED"           // Submission failed (revert or confirmation timeout)
	OutcomeEvaluationError TickOutcome = "EVALUATION_ERROR" // Snapshot failed evaluation; position skipped this tick
)

// PositionStatus is the most recent per-position view.
type PositionStatus struct {
	Snapshot PositionSnapshot `json:"snapshot"`
	Metrics  DriftMetrics     `json:"metrics"`

	Outcome TickOutcome `json:"outcome"`
	Reasons []string    `json:"reasons,omitempty"` // Rejection reasons or error detail

	LastResult      *TransactionResult `json:"last_result,omitempty"`
	LastRebalanceAt time.Time          `json:"last_rebalance_at,omitempty"` // Zero until the first confirmed rebalance
	CooldownUntil   time.Time          `json:"cooldown_until,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ControllerStatus is the full status accessor payload: one entry per known
// position plus cycle-level bookkeeping.
type ControllerStatus struct {
	Owner       string    `json:"owner"`
	CycleID     string    `json:"cycle_id"`     // uuid of the most recent cycle
	CycleNumber int64     `json:"cycle_number"` // Persistent global tick counter
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Positions []PositionStatus `json:"positions"`

	// FetchErrors carries per-protocol fetch failures from the last cycle so
	// a blind adapter is visible without grepping logs.
	FetchErrors map[ProtocolID]string `json:"fetch_errors,omitempty"`
}
