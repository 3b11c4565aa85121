/*

This file contains the transaction plan and result types exchanged between
plan construction, the scheduler, and the submission engine.

*/

package types

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// TransactionPlan is one corrective action ready for submission. Instructions
// are opaque to the engine; it only decorates them with compute-budget
// instructions, signs, and broadcasts. Built fresh per attempt and treated as
// immutable once signed.
type TransactionPlan struct {
	Description string `json:"description"` // e.g., "recenter orca position 7xKX..."

	Instructions []solana.Instruction `json:"-"` // Ordered; budget instructions are prepended by the engine

	ComputeUnitLimit              uint32 `json:"compute_unit_limit,omitempty"`                // Filled by the engine from simulation
	ComputeUnitPriceMicroLamports uint64 `json:"compute_unit_price_micro_lamports,omitempty"` // Filled by the engine from recent fees

	Payer solana.PublicKey `json:"payer"`
}

// ErrorKind classifies terminal submission failures.
type ErrorKind string

const (
	ErrorKindNone ErrorKind = ""
	// ErrorKindOnChainRevert means the transaction landed and failed on
	// chain. Retrying the identical plan would fail the same way.
	ErrorKindOnChainRevert ErrorKind = "ON_CHAIN_REVERT"
	// ErrorKindConfirmationTimeout means the confirmation window elapsed
	// without a status. The transaction may still confirm later, so it must
	// never be treated as success nor blindly re-broadcast.
	ErrorKindConfirmationTimeout ErrorKind = "CONFIRMATION_TIMEOUT"
)

// TransactionResult is the terminal value a submission produces, returned to
// the scheduler for logging and cooldown bookkeeping.
type TransactionResult struct {
	Signature string    `json:"signature"`
	Confirmed bool      `json:"confirmed"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"` // On-chain error detail when ErrorKind is ON_CHAIN_REVERT
	Slot      uint64    `json:"slot,omitempty"`  // Slot the status was observed at

	ComputeUnitLimit              uint32 `json:"compute_unit_limit"`
	ComputeUnitPriceMicroLamports uint64 `json:"compute_unit_price_micro_lamports"`

	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
