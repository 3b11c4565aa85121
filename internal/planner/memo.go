package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/types"
)

// MemoProgramID is the SPL Memo v2 program.
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// memoNote is the JSON payload written on chain in place of a real rebalance.
// It records exactly what the controller decided so dry runs leave an
// auditable trail.
type memoNote struct {
	Action     string  `json:"action"`   // always "rebalance_intent"
	Protocol   string  `json:"protocol"` // e.g. "orca"
	Position   string  `json:"position"`
	Pool       string  `json:"pool"`
	OldLower   float64 `json:"old_lower"`
	OldUpper   float64 `json:"old_upper"`
	NewLower   float64 `json:"new_lower"`
	NewUpper   float64 `json:"new_upper"`
	PriceAtGen float64 `json:"price_at_generation"`
}

// MemoPlanner is the dry-run builder. Instead of protocol instructions it
// emits a single memo recording the rebalance intent, so the full
// fetch/evaluate/guard/submit pipeline can run against mainnet without
// touching liquidity.
type MemoPlanner struct {
	protocol types.ProtocolID
	payer    solana.PublicKey
}

// NewMemoPlanner creates a dry-run builder for one protocol. The payer must
// match the submission engine's signing key.
func NewMemoPlanner(protocol types.ProtocolID, payer solana.PublicKey) (*MemoPlanner, error) {
	if protocol == "" {
		return nil, errors.New("NewMemoPlanner: protocol is empty")
	}
	if payer.IsZero() {
		return nil, errors.New("NewMemoPlanner: payer is not set")
	}
	return &MemoPlanner{protocol: protocol, payer: payer}, nil
}

func (m *MemoPlanner) Protocol() types.ProtocolID {
	return m.protocol
}

// BuildRebalancePlan emits the memo-only plan for the position.
func (m *MemoPlanner) BuildRebalancePlan(_ context.Context, snapshot types.PositionSnapshot, target TargetRange) (types.TransactionPlan, error) {
	memoLogger := logger.GetForComponent("memo_planner")

	if snapshot.Protocol != m.protocol {
		return types.TransactionPlan{}, errors.Join(ErrInvalidSnapshot,
			fmt.Errorf("snapshot protocol %s does not match builder protocol %s", snapshot.Protocol, m.protocol))
	}

	note := memoNote{
		Action:     "rebalance_intent",
		Protocol:   string(snapshot.Protocol),
		Position:   snapshot.PositionID.String(),
		Pool:       snapshot.PoolID.String(),
		OldLower:   snapshot.LowerPrice,
		OldUpper:   snapshot.UpperPrice,
		NewLower:   target.LowerPrice,
		NewUpper:   target.UpperPrice,
		PriceAtGen: target.CenterPrice,
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return types.TransactionPlan{}, fmt.Errorf("BuildRebalancePlan: failed to encode memo payload: %w", err)
	}

	memoIx := solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(m.payer, false, true)},
		payload,
	)

	plan := types.TransactionPlan{
		Description:  fmt.Sprintf("dry-run recenter of %s position %s", m.protocol, snapshot.PositionID),
		Instructions: []solana.Instruction{memoIx},
		Payer:        m.payer,
	}
	if err := ValidatePlan(plan); err != nil {
		return types.TransactionPlan{}, err
	}

	memoLogger.Info().
		Str("protocol", string(m.protocol)).
		Str("position", snapshot.PositionID.String()).
		Float64("new_lower", target.LowerPrice).
		Float64("new_upper", target.UpperPrice).
		Msg("BuildRebalancePlan: Dry-run memo plan generated")
	return plan, nil
}
