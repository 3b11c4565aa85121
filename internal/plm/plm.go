package plm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windrose-labs/plm/internal/analyzer"
	"github.com/windrose-labs/plm/internal/guard"
	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/planner"
	"github.com/windrose-labs/plm/internal/positions"
	"github.com/windrose-labs/plm/internal/state"
	"github.com/windrose-labs/plm/internal/types"
	"github.com/windrose-labs/plm/internal/wallet"
)

const (
	// Export constants for use in main.go
	DEFAULT_CONTROL_CONFIG_NAME    = "default_plm_strategy"
	DEFAULT_CONTROL_CONFIG_VERSION = 1
)

// PLM is the Position Liquidity Manager: the control loop that keeps every
// tracked position centered on its pool price.
type PLM struct {
	// Core dependencies
	logger   zerolog.Logger
	provider *positions.MultiProvider
	registry *planner.Registry
	engine   wallet.Submitter

	// Control parameters
	rebalance types.RebalanceConfig
	limits    types.SafetyLimits
	owner     solana.PublicKey

	// Configuration
	configName    string
	configVersion int

	// Runtime state
	cycleCount int

	// cooldowns maps position pubkey to the time of its last confirmed
	// rebalance. Written only by the cycle goroutine, and only on
	// confirmation; failures leave it untouched so the next cycle retries.
	cooldowns map[solana.PublicKey]time.Time

	statusMu sync.RWMutex
	status   types.ControllerStatus
}

// Config holds the configuration for creating a new PLM instance
type Config struct {
	Provider  *positions.MultiProvider
	Registry  *planner.Registry
	Engine    wallet.Submitter
	Rebalance types.RebalanceConfig
	Limits    types.SafetyLimits
	Owner     solana.PublicKey

	ConfigName    string
	ConfigVersion int
}

// NewPLM creates a new PLM instance with dependency injection
func NewPLM(cfg Config) (*PLM, error) {
	if err := validatePLMConfig(cfg); err != nil {
		return nil, fmt.Errorf("PLM configuration validation failed: %w", err)
	}

	p := &PLM{
		logger:        logger.GetForComponent("plm_core"),
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		rebalance:     cfg.Rebalance,
		limits:        cfg.Limits,
		owner:         cfg.Owner,
		configName:    cfg.ConfigName,
		configVersion: cfg.ConfigVersion,
		cycleCount:    0,
		cooldowns:     make(map[solana.PublicKey]time.Time),
	}

	p.logger.Info().
		Str("owner", p.owner.String()).
		Str("configName", p.configName).
		Int("configVersion", p.configVersion).
		Float64("thresholdBps", p.rebalance.ThresholdBps).
		Dur("minRebalanceInterval", p.rebalance.MinRebalanceInterval).
		Msg("PLM instance created successfully with dependency injection")

	return p, nil
}

// validatePLMConfig validates the PLM configuration
func validatePLMConfig(cfg Config) error {
	if cfg.Provider == nil {
		return fmt.Errorf("snapshot provider cannot be nil")
	}
	if cfg.Registry == nil {
		return fmt.Errorf("plan builder registry cannot be nil")
	}
	if cfg.Engine == nil {
		return fmt.Errorf("submission engine cannot be nil")
	}
	if cfg.Owner.IsZero() {
		return fmt.Errorf("owner wallet cannot be zero")
	}
	if cfg.Rebalance.ThresholdBps < 0 {
		return fmt.Errorf("rebalance threshold cannot be negative")
	}
	if cfg.Rebalance.MinRebalanceInterval < 0 {
		return fmt.Errorf("rebalance interval cannot be negative")
	}
	if cfg.ConfigName == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	if cfg.ConfigVersion <= 0 {
		return fmt.Errorf("config version must be positive")
	}
	return nil
}

// RunLoop starts the main PLM loop with the specified interval. Cancellation
// is honored between cycles only; an in-flight cycle always runs to the end
// so a started submission is driven to a terminal outcome.
func (p *PLM) RunLoop(ctx context.Context, interval time.Duration) {
	p.logger.Info().
		Dur("interval", interval).
		Msg("Starting PLM main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	p.cycleCount++
	p.logger.Info().Int("cycle", p.cycleCount).Msg("Initiating PLM cycle")
	p.RunCycle(ctx)
	p.logger.Info().Int("cycle", p.cycleCount).Msg("PLM cycle completed")

	// Continue with ticker
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("PLM loop stopped due to context cancellation")
			return
		case <-ticker.C:
			p.cycleCount++
			p.logger.Info().Int("cycle", p.cycleCount).Msg("Initiating PLM cycle")
			p.RunCycle(ctx)
			p.logger.Info().Int("cycle", p.cycleCount).Msg("PLM cycle completed")
		}
	}
}

// RunCycle executes one complete poll/evaluate/act pass over every position.
func (p *PLM) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := p.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting PLM Cycle ---")

	cycleNumber := p.getCycleNumber()

	status := types.ControllerStatus{
		Owner:       p.owner.String(),
		CycleID:     cycleID,
		CycleNumber: cycleNumber,
		StartedAt:   cycleStartTime,
		Positions:   make([]types.PositionStatus, 0),
	}

	// --- Step 1: Snapshot Fetching ---
	cycleLogger.Info().Msg("Step 1: Fetching position snapshots...")
	snapshots, fetchErrors := p.provider.FetchAll(ctx, p.owner)
	if len(fetchErrors) > 0 {
		status.FetchErrors = make(map[types.ProtocolID]string, len(fetchErrors))
		for protocol, fetchErr := range fetchErrors {
			status.FetchErrors[protocol] = fetchErr.Error()
			cycleLogger.Error().
				Err(fetchErr).
				Str("protocol", string(protocol)).
				Msg("Protocol fetch failed; its positions are skipped until the next cycle")
		}
	}
	cycleLogger.Info().
		Int("positions", len(snapshots)).
		Int("failedProtocols", len(fetchErrors)).
		Msg("Step 1: Snapshot fetching complete.")

	if len(snapshots) == 0 {
		cycleLogger.Info().Msg("No positions to manage this cycle.")
		status.FinishedAt = time.Now()
		p.publishStatus(status)
		p.logEndOfCycleState(cycleStartTime, status, cycleLogger)
		return
	}

	// --- Step 2: Per-Position Pipeline ---
	cycleLogger.Info().Msg("Step 2: Running per-position pipeline...")
	for _, snapshot := range snapshots {
		positionStatus := p.processPosition(ctx, snapshot, cycleID, cycleNumber, cycleLogger)
		status.Positions = append(status.Positions, positionStatus)
	}

	status.FinishedAt = time.Now()
	p.publishStatus(status)
	p.logEndOfCycleState(cycleStartTime, status, cycleLogger)
}

// processPosition runs the evaluate/guard/plan/submit pipeline for one
// position. Errors are recorded on the returned status, never propagated: one
// bad position must not stall the rest of the cycle.
func (p *PLM) processPosition(ctx context.Context, snapshot types.PositionSnapshot, cycleID string, cycleNumber int64, cycleLogger zerolog.Logger) types.PositionStatus {
	positionLogger := cycleLogger.With().
		Str("protocol", string(snapshot.Protocol)).
		Str("position", snapshot.PositionID.String()).
		Logger()

	positionStatus := types.PositionStatus{
		Snapshot:  snapshot,
		UpdatedAt: time.Now(),
	}
	if last, ok := p.cooldowns[snapshot.PositionID]; ok {
		positionStatus.LastRebalanceAt = last
		positionStatus.CooldownUntil = last.Add(p.rebalance.MinRebalanceInterval)
	}

	// --- Drift Evaluation ---
	metrics, err := analyzer.CalculateDrift(snapshot, p.rebalance)
	if err != nil {
		positionLogger.Error().Err(err).Msg("Drift evaluation failed; position skipped this cycle")
		positionStatus.Outcome = types.OutcomeEvaluationError
		positionStatus.Reasons = []string{err.Error()}
		return positionStatus
	}
	positionStatus.Metrics = metrics

	if !metrics.NeedsRebalance {
		positionLogger.Debug().
			Float64("distanceBps", metrics.DistanceFromCenterBps).
			Msg("Position healthy, no action needed")
		positionStatus.Outcome = types.OutcomeNoAction
		return positionStatus
	}

	positionLogger.Info().
		Float64("distanceBps", metrics.DistanceFromCenterBps).
		Float64("thresholdBps", p.rebalance.ThresholdBps).
		Bool("inRange", snapshot.InRange).
		Msg("Position needs rebalancing")

	// --- Cooldown Gate ---
	if last, ok := p.cooldowns[snapshot.PositionID]; ok {
		if time.Since(last) < p.rebalance.MinRebalanceInterval {
			positionLogger.Info().
				Time("cooldownUntil", last.Add(p.rebalance.MinRebalanceInterval)).
				Msg("Cooldown active, rebalance deferred")
			positionStatus.Outcome = types.OutcomeCooldownActive
			return positionStatus
		}
	}

	// --- Safety Guard ---
	verdict, err := guard.Check(snapshot, p.limits)
	if err != nil {
		positionLogger.Error().Err(err).Msg("Safety check failed; position skipped this cycle")
		positionStatus.Outcome = types.OutcomeEvaluationError
		positionStatus.Reasons = []string{err.Error()}
		return positionStatus
	}
	if !verdict.Approved {
		positionLogger.Warn().
			Strs("reasons", verdict.Reasons).
			Msg("Rebalance blocked by safety limits")
		positionStatus.Outcome = types.OutcomeSafetyRejected
		positionStatus.Reasons = verdict.Reasons
		return positionStatus
	}

	// --- Plan Construction ---
	builder, err := p.registry.For(snapshot.Protocol)
	if err != nil {
		positionLogger.Warn().Err(err).Msg("No plan builder registered for protocol; position skipped")
		positionStatus.Outcome = types.OutcomePlannerMissing
		positionStatus.Reasons = []string{err.Error()}
		return positionStatus
	}

	target, err := planner.NewTargetRange(snapshot, p.rebalance, p.limits)
	if err != nil {
		positionLogger.Error().Err(err).Msg("Target range construction failed")
		positionStatus.Outcome = types.OutcomePlanFailed
		positionStatus.Reasons = []string{err.Error()}
		return positionStatus
	}

	plan, err := builder.BuildRebalancePlan(ctx, snapshot, target)
	if err != nil {
		positionLogger.Error().Err(err).Msg("Plan construction failed")
		positionStatus.Outcome = types.OutcomePlanFailed
		positionStatus.Reasons = []string{err.Error()}
		return positionStatus
	}

	// --- Submission ---
	positionLogger.Info().Str("description", plan.Description).Msg("Submitting corrective transaction...")
	result, err := p.engine.SubmitAndConfirm(ctx, plan)
	positionStatus.LastResult = &result

	receipt := buildReceipt(cycleID, cycleNumber, snapshot, metrics, p.rebalance, target, result)
	p.saveReceipt(receipt, positionLogger)

	if err != nil || !result.Confirmed {
		positionLogger.Error().
			Err(err).
			Str("errorKind", string(result.ErrorKind)).
			Str("signature", result.Signature).
			Msg("Submission failed; cooldown left untouched so the next cycle may retry")
		positionStatus.Outcome = types.OutcomeFailed
		if err != nil {
			positionStatus.Reasons = []string{err.Error()}
		}
		return positionStatus
	}

	now := time.Now()
	p.cooldowns[snapshot.PositionID] = now
	positionStatus.Outcome = types.OutcomeConfirmed
	positionStatus.LastRebalanceAt = now
	positionStatus.CooldownUntil = now.Add(p.rebalance.MinRebalanceInterval)

	positionLogger.Info().
		Str("signature", result.Signature).
		Uint64("slot", result.Slot).
		Float64("newLower", target.LowerPrice).
		Float64("newUpper", target.UpperPrice).
		Msg("Rebalance confirmed on chain")
	return positionStatus
}

// Status returns the outcome of the most recent cycle for the web layer.
func (p *PLM) Status() types.ControllerStatus {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

func (p *PLM) publishStatus(status types.ControllerStatus) {
	p.statusMu.Lock()
	p.status = status
	p.statusMu.Unlock()
}

// getCycleNumber increments and returns the persistent tick counter from database
func (p *PLM) getCycleNumber() int64 {
	tick, err := state.IncrementTick()
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to increment tick counter, using fallback")
		// Fallback to a simple counter if database fails
		return time.Now().Unix() % 1000000 // Use timestamp as fallback
	}
	return tick
}

// buildReceipt assembles the journal row for one submission attempt.
func buildReceipt(cycleID string, cycleNumber int64, snapshot types.PositionSnapshot, metrics types.DriftMetrics, cfg types.RebalanceConfig, target planner.TargetRange, result types.TransactionResult) types.RebalanceReceipt {
	return types.RebalanceReceipt{
		CycleID:     cycleID,
		CycleNumber: cycleNumber,
		Protocol:    snapshot.Protocol,
		PositionID:  snapshot.PositionID.String(),
		PoolID:      snapshot.PoolID.String(),

		DriftBps:      metrics.DistanceFromCenterBps,
		ThresholdBps:  cfg.ThresholdBps,
		OldLowerPrice: snapshot.LowerPrice,
		OldUpperPrice: snapshot.UpperPrice,
		NewLowerPrice: target.LowerPrice,
		NewUpperPrice: target.UpperPrice,

		Signature:    result.Signature,
		Confirmed:    result.Confirmed,
		ErrorKind:    result.ErrorKind,
		ErrorMessage: result.Error,
		Slot:         result.Slot,

		ComputeUnitLimit:              result.ComputeUnitLimit,
		ComputeUnitPriceMicroLamports: result.ComputeUnitPriceMicroLamports,

		SubmittedAt: result.SubmittedAt,
		FinishedAt:  result.FinishedAt,
	}
}

// saveReceipt saves the rebalance receipt to database
func (p *PLM) saveReceipt(receipt types.RebalanceReceipt, positionLogger zerolog.Logger) {
	receiptID, err := state.SaveRebalanceReceipt(receipt)
	if err != nil {
		positionLogger.Error().Err(err).Msg("Failed to save rebalance receipt to database")
		return
	}
	positionLogger.Info().Int64("receipt_id", receiptID).Msg("Rebalance receipt saved successfully")
}

// logEndOfCycleState summarizes the cycle's outcomes
func (p *PLM) logEndOfCycleState(cycleStartTime time.Time, status types.ControllerStatus, cycleLogger zerolog.Logger) {
	outcomes := make(map[types.TickOutcome]int)
	for _, positionStatus := range status.Positions {
		outcomes[positionStatus.Outcome]++
	}

	cycleLogger.Info().
		Int("positions", len(status.Positions)).
		Int("noAction", outcomes[types.OutcomeNoAction]).
		Int("confirmed", outcomes[types.OutcomeConfirmed]).
		Int("failed", outcomes[types.OutcomeFailed]).
		Int("safetyRejected", outcomes[types.OutcomeSafetyRejected]).
		Int("cooldownActive", outcomes[types.OutcomeCooldownActive]).
		Int("failedProtocols", len(status.FetchErrors)).
		Msg("End of Cycle State")

	cycleEndTime := time.Now()
	cycleLogger.Info().Str("cycleDuration", cycleEndTime.Sub(cycleStartTime).String()).Msg("PLM Cycle Duration")

	cycleLogger.Info().Msg("--- PLM Cycle Completed ---")
}
