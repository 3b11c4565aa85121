/*

This file contains the journal row the scheduler writes after every
corrective submission attempt, successful or not.

*/

package types

import "time"

// RebalanceReceipt records one submission attempt together with the drift
// that triggered it, so the journal answers both "what happened" and "why".
type RebalanceReceipt struct {
	ReceiptID   int64      `json:"receipt_id,omitempty"` // Assigned by the database
	CycleID     string     `json:"cycle_id"`
	CycleNumber int64      `json:"cycle_number"`
	Protocol    ProtocolID `json:"protocol"`
	PositionID  string     `json:"position_id"`
	PoolID      string     `json:"pool_id"`

	// Decision context captured when the plan was built.
	DriftBps      float64 `json:"drift_bps"`
	ThresholdBps  float64 `json:"threshold_bps"`
	OldLowerPrice float64 `json:"old_lower_price"`
	OldUpperPrice float64 `json:"old_upper_price"`
	NewLowerPrice float64 `json:"new_lower_price"`
	NewUpperPrice float64 `json:"new_upper_price"`

	// Submission outcome.
	Signature    string    `json:"signature,omitempty"`
	Confirmed    bool      `json:"confirmed"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Slot         uint64    `json:"slot,omitempty"`

	ComputeUnitLimit              uint32 `json:"compute_unit_limit"`
	ComputeUnitPriceMicroLamports uint64 `json:"compute_unit_price_micro_lamports"`

	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at"`
	CreatedAt   time.Time `json:"created_at,omitempty"` // Set by the database on insert
}
