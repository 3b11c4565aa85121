package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidSnapshot = errors.New("snapshot contains invalid data")
	ErrInvalidTarget   = errors.New("target range is invalid")
	ErrInvalidWidth    = errors.New("target width is invalid")
	ErrNoBuilder       = errors.New("no plan builder registered for protocol")
	ErrInvalidPlan     = errors.New("plan contains invalid data")
	ErrDuplicate       = errors.New("builder already registered for protocol")
)

// TargetRange describes the freshly centered range a rebalance should
// produce, in UI prices.
type TargetRange struct {
	LowerPrice     float64 `json:"lower_price"`      // e.g. 135.00
	UpperPrice     float64 `json:"upper_price"`      // e.g. 165.00
	CenterPrice    float64 `json:"center_price"`     // current pool price at planning time
	WidthBps       float64 `json:"width_bps"`        // full width, edge to edge
	MaxSlippageBps float64 `json:"max_slippage_bps"` // bound for the builder's swaps
}

// Builder constructs an executable transaction plan that moves a position
// onto the target range. Implementations own the protocol's instruction
// layouts; the controller treats the returned instructions as opaque.
type Builder interface {
	// Protocol identifies which protocol family this builder serves.
	Protocol() types.ProtocolID

	// BuildRebalancePlan builds the withdraw/recenter/redeposit plan for the
	// position. The plan must be complete except for compute budget fields,
	// which the submission engine owns.
	BuildRebalancePlan(ctx context.Context, snapshot types.PositionSnapshot, target TargetRange) (types.TransactionPlan, error)
}

// Registry resolves the plan builder for a protocol. Protocols without a
// registered builder are skipped by the controller, not failed.
type Registry struct {
	builders map[types.ProtocolID]Builder
}

// NewRegistry creates an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[types.ProtocolID]Builder)}
}

// Register adds a builder. Registering two builders for the same protocol is
// a wiring bug and is rejected.
func (r *Registry) Register(b Builder) error {
	registryLogger := logger.GetForComponent("plan_registry")

	if b == nil {
		return errors.New("Register: builder is nil")
	}
	protocol := b.Protocol()
	if protocol == "" {
		return errors.New("Register: builder reports an empty protocol")
	}
	if _, exists := r.builders[protocol]; exists {
		return errors.Join(ErrDuplicate, fmt.Errorf("protocol %s", protocol))
	}

	r.builders[protocol] = b
	registryLogger.Info().
		Str("protocol", string(protocol)).
		Msg("Register: Plan builder registered")
	return nil
}

// For returns the builder registered for the protocol.
func (r *Registry) For(protocol types.ProtocolID) (Builder, error) {
	b, ok := r.builders[protocol]
	if !ok {
		return nil, errors.Join(ErrNoBuilder, fmt.Errorf("protocol %s", protocol))
	}
	return b, nil
}

// Protocols lists the protocols with a registered builder.
func (r *Registry) Protocols() []types.ProtocolID {
	protocols := make([]types.ProtocolID, 0, len(r.builders))
	for p := range r.builders {
		protocols = append(protocols, p)
	}
	return protocols
}

// NewTargetRange computes the recentered range for a position: the configured
// full width, centered on the pool price observed in the snapshot.
func NewTargetRange(snapshot types.PositionSnapshot, cfg types.RebalanceConfig, limits types.SafetyLimits) (TargetRange, error) {
	// ===== INPUT VALIDATION =====
	center := snapshot.CurrentPrice
	if math.IsNaN(center) || math.IsInf(center, 0) || center <= 0 {
		return TargetRange{}, errors.Join(ErrInvalidSnapshot,
			fmt.Errorf("current price %f must be finite and positive", center))
	}
	if math.IsNaN(cfg.TargetWidthBps) || math.IsInf(cfg.TargetWidthBps, 0) {
		return TargetRange{}, errors.Join(ErrInvalidWidth,
			fmt.Errorf("target width %f is not finite", cfg.TargetWidthBps))
	}
	// A full width of 2*BasisPointMax or more would push the lower bound to
	// zero or below.
	if cfg.TargetWidthBps <= 0 || cfg.TargetWidthBps >= 2*types.BasisPointMax {
		return TargetRange{}, errors.Join(ErrInvalidWidth,
			fmt.Errorf("target width %f bps outside (0, %d)", cfg.TargetWidthBps, 2*types.BasisPointMax))
	}

	// ===== RANGE CONSTRUCTION =====
	halfWidth := center * cfg.TargetWidthBps / types.BasisPointMax / 2

	target := TargetRange{
		LowerPrice:     center - halfWidth,
		UpperPrice:     center + halfWidth,
		CenterPrice:    center,
		WidthBps:       cfg.TargetWidthBps,
		MaxSlippageBps: limits.MaxSlippageBps,
	}
	if target.LowerPrice <= 0 || target.LowerPrice >= target.UpperPrice {
		return TargetRange{}, errors.Join(ErrInvalidTarget,
			fmt.Errorf("computed range [%f, %f] is degenerate", target.LowerPrice, target.UpperPrice))
	}
	return target, nil
}

// ValidatePlan performs comprehensive validation of a built plan before it is
// handed to the submission engine.
func ValidatePlan(plan types.TransactionPlan) error {
	if plan.Description == "" {
		return errors.Join(ErrInvalidPlan, errors.New("plan description is empty"))
	}
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
	return nil
}
