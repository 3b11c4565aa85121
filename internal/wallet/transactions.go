/*

This file contains the transaction submission engine. It owns the full
lifecycle of a rebalance transaction: compute budget sizing, priority fee
selection, signing, the single broadcast, and confirmation polling.

The engine never retries a broadcast. A transaction either confirms, reverts
on chain, or times out as ambiguous; resending after a timeout could execute
the rebalance twice.

*/

package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/windrose-labs/plm/internal/chain"
	"github.com/windrose-labs/plm/internal/config"
	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPlan         = errors.New("transaction plan contains invalid data")
	ErrInvalidGasPriority  = errors.New("gas priority is invalid")
	ErrBlockhashFailed     = errors.New("blockhash retrieval failed")
	ErrBroadcastFailed     = errors.New("transaction broadcast failed")
	ErrOnChainRevert       = errors.New("transaction reverted on chain")
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

var txLogger = logger.GetForComponent("submission_engine")

// feePercentiles maps a gas priority to the percentile of recent priority
// fees the engine pays.
var feePercentiles = map[types.GasPriority]float64{
	types.GasPriorityLow:    0.50,
	types.GasPriorityMedium: 0.75,
	types.GasPriorityHigh:   0.95,
	types.GasPriorityTurbo:  0.99,
}

// Submitter executes a fully built transaction plan and reports the terminal
// outcome. SubmissionEngine is the production implementation.
type Submitter interface {
	SubmitAndConfirm(ctx context.Context, plan types.TransactionPlan) (types.TransactionResult, error)
}

// SubmissionEngine submits transaction plans and drives them to a terminal
// outcome. All submissions share the engine's signing wallet as fee payer and
// are serialized: concurrent plans from the same payer would race on the
// account's fee balance and blockhash validity window.
type SubmissionEngine struct {
	client   chain.Client
	signer   Signer
	priority types.GasPriority

	payerMu sync.Mutex

	pollInterval   time.Duration
	confirmTimeout time.Duration
}

// NewSubmissionEngine creates a submission engine.
func NewSubmissionEngine(client chain.Client, signer Signer, priority types.GasPriority) (*SubmissionEngine, error) {
	if client == nil {
		return nil, errors.New("NewSubmissionEngine: chain client is nil")
	}
	if signer == nil {
		return nil, errors.New("NewSubmissionEngine: signer is nil")
	}
	if _, ok := feePercentiles[priority]; !ok {
		return nil, errors.Join(ErrInvalidGasPriority,
			fmt.Errorf("unknown gas priority: %s", priority))
	}

	return &SubmissionEngine{
		client:         client,
		signer:         signer,
		priority:       priority,
		pollInterval:   config.ConfirmationPollInterval,
		confirmTimeout: config.ConfirmationTimeout,
	}, nil
}

var _ Submitter = (*SubmissionEngine)(nil)

// SubmitAndConfirm executes the plan: fetch a blockhash, size the compute
// budget by simulation, attach a percentile priority fee, sign, broadcast
// once, and poll until the transaction confirms, reverts, or the confirmation
// window closes. The returned result is populated as far as the pipeline got;
// ErrOnChainRevert and ErrConfirmationTimeout are distinguishable with
// errors.Is.
func (e *SubmissionEngine) SubmitAndConfirm(ctx context.Context, plan types.TransactionPlan) (types.TransactionResult, error) {
	if err := validatePlan(plan, e.signer.PublicKey()); err != nil {
		return types.TransactionResult{}, err
	}

	e.payerMu.Lock()
	defer e.payerMu.Unlock()

	result := types.TransactionResult{SubmittedAt: time.Now()}

	txLogger.Info().
		Str("description", plan.Description).
		Int("instructionCount", len(plan.Instructions)).
		Str("payer", plan.Payer.String()).
		Msg("SubmitAndConfirm: Starting transaction submission")

	// Step 1: recent blockhash.
	blockhash, err := e.client.LatestBlockhash(ctx)
	if err != nil {
		result.FinishedAt = time.Now()
		result.Error = err.Error()
		return result, errors.Join(ErrBlockhashFailed, err)
	}

	// Step 2: compute unit estimate via simulation. Simulation failure is
	// recovered locally with the default estimate.
	estimate := e.estimateComputeUnits(ctx, plan, blockhash)

	// Step 3: pad the estimate into the final limit.
	computeUnitLimit := paddedComputeUnitLimit(estimate)
	result.ComputeUnitLimit = computeUnitLimit

	// Step 4: priority fee from recent cluster samples.
	priceMicroLamports := e.selectPriorityFee(ctx)
	result.ComputeUnitPriceMicroLamports = priceMicroLamports

	txLogger.Info().
		Uint64("estimatedUnits", estimate).
		Uint32("computeUnitLimit", computeUnitLimit).
		Uint64("priceMicroLamports", priceMicroLamports).
		Str("priority", string(e.priority)).
		Msg("SubmitAndConfirm: Compute budget sized")

	// Step 5: assemble the final transaction with the budget instructions
	// ahead of the plan's own.
	instructions := make([]solana.Instruction, 0, len(plan.Instructions)+2)
	instructions = append(instructions,
		computebudget.NewSetComputeUnitLimitInstruction(computeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(priceMicroLamports).Build(),
	)
	instructions = append(instructions, plan.Instructions...)

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(plan.Payer))
	if err != nil {
		result.FinishedAt = time.Now()
		result.Error = err.Error()
		return result, errors.Join(ErrInvalidPlan, fmt.Errorf("failed to assemble transaction: %w", err))
	}

	// Step 6: sign.
	if err := e.signer.SignTransaction(tx); err != nil {
		result.FinishedAt = time.Now()
		result.Error = err.Error()
		return result, err
	}

	// From here on the submission must run to a terminal outcome even if the
	// caller's context is cancelled; abandoning a broadcast transaction
	// mid-flight would leave its effect unknown.
	sendCtx := context.WithoutCancel(ctx)

	// Step 7: broadcast exactly once.
	sig, err := e.client.SendTransaction(sendCtx, tx)
	if err != nil {
		result.FinishedAt = time.Now()
		result.Error = err.Error()
		return result, errors.Join(ErrBroadcastFailed, err)
	}
	result.Signature = sig.String()

	txLogger.Info().
		Str("signature", result.Signature).
		Msg("SubmitAndConfirm: Transaction broadcast, awaiting confirmation")

	// Step 8: poll for confirmation.
	return e.awaitConfirmation(sendCtx, sig, result)
}

// estimateComputeUnits simulates the plan's instructions and returns the
// consumed compute units, or the default estimate when simulation is not
// usable.
func (e *SubmissionEngine) estimateComputeUnits(ctx context.Context, plan types.TransactionPlan, blockhash solana.Hash) uint64 {
	trialTx, err := solana.NewTransaction(plan.Instructions, blockhash, solana.TransactionPayer(plan.Payer))
	if err != nil {
		txLogger.Warn().Err(err).
			Uint64("defaultEstimate", config.DefaultComputeUnitEstimate).
			Msg("estimateComputeUnits: Failed to build trial transaction, using default estimate")
		return config.DefaultComputeUnitEstimate
	}

	// The RPC node rejects unsigned transaction payloads even with signature
	// verification disabled, so the trial transaction is signed too.
	if err := e.signer.SignTransaction(trialTx); err != nil {
		txLogger.Warn().Err(err).
			Uint64("defaultEstimate", config.DefaultComputeUnitEstimate).
			Msg("estimateComputeUnits: Failed to sign trial transaction, using default estimate")
		return config.DefaultComputeUnitEstimate
	}

	units, err := e.client.SimulateTransaction(ctx, trialTx)
	if err != nil {
		txLogger.Warn().Err(err).
			Uint64("defaultEstimate", config.DefaultComputeUnitEstimate).
			Msg("estimateComputeUnits: Simulation failed, using default estimate")
		return config.DefaultComputeUnitEstimate
	}

	txLogger.Debug().
		Uint64("unitsConsumed", units).
		Msg("estimateComputeUnits: Simulation completed")
	return units
}

// selectPriorityFee fetches recent prioritization fees and picks the value at
// the engine's configured percentile. RPC failure and an empty sample set both
// fall back to the configured floor.
func (e *SubmissionEngine) selectPriorityFee(ctx context.Context) uint64 {
	fees, err := e.client.RecentPrioritizationFees(ctx)
	if err != nil {
		txLogger.Warn().Err(err).
			Uint64("floorMicroLamports", config.MinPriorityFeeMicroLamports).
			Msg("selectPriorityFee: Fee lookup failed, using floor")
		return config.MinPriorityFeeMicroLamports
	}
	return percentileFee(fees, feePercentiles[e.priority])
}

// percentileFee returns the fee at the given percentile of the samples,
// using the ceiling index convention on the ascending-sorted values.
func percentileFee(fees []chain.PrioritizationFee, percentile float64) uint64 {
	if len(fees) == 0 {
		return config.MinPriorityFeeMicroLamports
	}

	values := make([]uint64, 0, len(fees))
	for _, f := range fees {
		values = append(values, f.MicroLamports)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	idx := int(math.Ceil(percentile*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// paddedComputeUnitLimit converts a simulated estimate into the limit set on
// the transaction: the larger of the multiplied estimate and the absolute
// safety margin, rounded up.
func paddedComputeUnitLimit(estimate uint64) uint32 {
	padded := math.Ceil(math.Max(
		float64(estimate)*config.ComputeUnitLimitMultiplier,
		float64(estimate+config.ComputeUnitSafetyMargin),
	))
	if padded > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(padded)
}

// awaitConfirmation polls the signature status until the transaction reaches
// a terminal state or the confirmation window closes. The poll deadline is
// the engine's own; the caller's cancellation was already stripped.
func (e *SubmissionEngine) awaitConfirmation(ctx context.Context, sig solana.Signature, result types.TransactionResult) (types.TransactionResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			result.FinishedAt = time.Now()
			result.ErrorKind = types.ErrorKindConfirmationTimeout
			result.Error = fmt.Sprintf("no confirmation within %s", e.confirmTimeout)
			txLogger.Error().
				Str("signature", sig.String()).
				Dur("timeout", e.confirmTimeout).
				Msg("awaitConfirmation: Confirmation window closed, outcome ambiguous")
			return result, errors.Join(ErrConfirmationTimeout,
				fmt.Errorf("transaction %s unconfirmed after %s", sig, e.confirmTimeout))

		case <-ticker.C:
			status, err := e.client.SignatureStatus(pollCtx, sig)
			if err != nil {
				// Transient lookup failures do not end the wait; the
				// deadline does.
				txLogger.Warn().Err(err).
					Str("signature", sig.String()).
					Msg("awaitConfirmation: Status lookup failed, continuing to poll")
				continue
			}
			if status == nil || !status.Confirmed {
				continue
			}

			result.Slot = status.Slot
			result.FinishedAt = time.Now()

			if status.ExecutionErr != nil {
				result.ErrorKind = types.ErrorKindOnChainRevert
				result.Error = fmt.Sprintf("%v", status.ExecutionErr)
				txLogger.Error().
					Str("signature", sig.String()).
					Uint64("slot", status.Slot).
					Str("executionError", result.Error).
					Msg("awaitConfirmation: Transaction reverted on chain")
				return result, errors.Join(ErrOnChainRevert,
					fmt.Errorf("transaction %s reverted: %v", sig, status.ExecutionErr))
			}

			result.Confirmed = true
			txLogger.Info().
				Str("signature", sig.String()).
				Uint64("slot", status.Slot).
				Msg("awaitConfirmation: Transaction confirmed")
			return result, nil
		}
	}
}

// validatePlan performs comprehensive validation of a transaction plan.
func validatePlan(plan types.TransactionPlan, payer solana.PublicKey) error {
	if len(plan.Instructions) == 0 {
		return errors.Join(ErrInvalidPlan, errors.New("plan has no instructions"))
	}
	for i, ix := range plan.Instructions {
		if ix == nil {
			return errors.Join(ErrInvalidPlan, fmt.Errorf("instruction %d is nil", i))
		}
	}
	if plan.Payer.IsZero() {
		return errors.Join(ErrInvalidPlan, errors.New("plan payer is not set"))
	}
	if !plan.Payer.Equals(payer) {
		return errors.Join(ErrInvalidPlan,
			fmt.Errorf("plan payer %s does not match signing wallet %s", plan.Payer, payer))
	}
	return nil
}
