package planner

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-labs/plm/internal/types"
)

type stubBuilder struct {
	protocol types.ProtocolID
}

var _ Builder = (*stubBuilder)(nil)

func (b *stubBuilder) Protocol() types.ProtocolID { return b.protocol }

func (b *stubBuilder) BuildRebalancePlan(ctx context.Context, snapshot types.PositionSnapshot, target TargetRange) (types.TransactionPlan, error) {
	return types.TransactionPlan{}, nil
}

func plannerSnapshot() types.PositionSnapshot {
	return types.PositionSnapshot{
		Protocol:     types.ProtocolOrca,
		PoolID:       solana.PublicKey{0x01},
		PositionID:   solana.PublicKey{0x02},
		LowerPrice:   100,
		UpperPrice:   200,
		CurrentPrice: 150,
		InRange:      true,
	}
}

func TestNewTargetRange_CentersOnCurrentPrice(t *testing.T) {
	cfg := types.RebalanceConfig{TargetWidthBps: 2000}
	limits := types.SafetyLimits{MaxSlippageBps: 100}

	target, err := NewTargetRange(plannerSnapshot(), cfg, limits)
	require.NoError(t, err)

	// 20% full width around 150: half width 15.
	assert.InDelta(t, 135.0, target.LowerPrice, 1e-9)
	assert.InDelta(t, 165.0, target.UpperPrice, 1e-9)
	assert.InDelta(t, 150.0, target.CenterPrice, 1e-9)
	assert.InDelta(t, 2000.0, target.WidthBps, 1e-9)
	assert.InDelta(t, 100.0, target.MaxSlippageBps, 1e-9)
}

func TestNewTargetRange_WidthRoundTripsThroughPrices(t *testing.T) {
	for _, widthBps := range []float64{100, 2000, 19000} {
		target, err := NewTargetRange(plannerSnapshot(), types.RebalanceConfig{TargetWidthBps: widthBps}, types.SafetyLimits{})
		require.NoError(t, err)

		gotWidth := (target.UpperPrice - target.LowerPrice) / target.CenterPrice * types.BasisPointMax
		assert.InDelta(t, widthBps, gotWidth, 1e-6, "width %f", widthBps)
	}
}

func TestNewTargetRange_RejectsBadWidths(t *testing.T) {
	tests := []struct {
		name     string
		widthBps float64
	}{
		{name: "zero", widthBps: 0},
		{name: "negative", widthBps: -100},
		{name: "full envelope", widthBps: 2 * types.BasisPointMax},
		{name: "beyond envelope", widthBps: 3 * types.BasisPointMax},
		{name: "NaN", widthBps: math.NaN()},
		{name: "infinite", widthBps: math.Inf(1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTargetRange(plannerSnapshot(), types.RebalanceConfig{TargetWidthBps: tc.widthBps}, types.SafetyLimits{})
			assert.ErrorIs(t, err, ErrInvalidWidth)
		})
	}
}

func TestNewTargetRange_RejectsBadCurrentPrice(t *testing.T) {
	for _, price := range []float64{0, -150, math.NaN(), math.Inf(1)} {
		snapshot := plannerSnapshot()
		snapshot.CurrentPrice = price

		_, err := NewTargetRange(snapshot, types.RebalanceConfig{TargetWidthBps: 2000}, types.SafetyLimits{})
		assert.ErrorIs(t, err, ErrInvalidSnapshot, "price %f", price)
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry()
	orca := &stubBuilder{protocol: types.ProtocolOrca}

	require.NoError(t, registry.Register(orca))

	resolved, err := registry.For(types.ProtocolOrca)
	require.NoError(t, err)
	assert.Same(t, orca, resolved)

	assert.Equal(t, []types.ProtocolID{types.ProtocolOrca}, registry.Protocols())
}

func TestRegistry_UnknownProtocol(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.For(types.ProtocolRaydium)
	assert.ErrorIs(t, err, ErrNoBuilder)
}

func TestRegistry_RejectsDuplicatesAndBadBuilders(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubBuilder{protocol: types.ProtocolOrca}))
	assert.ErrorIs(t, registry.Register(&stubBuilder{protocol: types.ProtocolOrca}), ErrDuplicate)

	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(&stubBuilder{}), "empty protocol is a wiring bug")
}

func TestNewMemoPlanner_RejectsBadInputs(t *testing.T) {
	_, err := NewMemoPlanner("", solana.PublicKey{0x01})
	assert.Error(t, err)

	_, err = NewMemoPlanner(types.ProtocolOrca, solana.PublicKey{})
	assert.Error(t, err)
}

func TestMemoPlanner_BuildRebalancePlan(t *testing.T) {
	payer := solana.PublicKey{0x09}
	builder, err := NewMemoPlanner(types.ProtocolOrca, payer)
	require.NoError(t, err)

	snapshot := plannerSnapshot()
	target, err := NewTargetRange(snapshot, types.RebalanceConfig{TargetWidthBps: 2000}, types.SafetyLimits{MaxSlippageBps: 100})
	require.NoError(t, err)

	plan, err := builder.BuildRebalancePlan(context.Background(), snapshot, target)
	require.NoError(t, err)

	assert.Equal(t, payer, plan.Payer)
	assert.Contains(t, plan.Description, "dry-run")
	assert.Contains(t, plan.Description, snapshot.PositionID.String())

	require.Len(t, plan.Instructions, 1)
	ix := plan.Instructions[0]
	assert.Equal(t, MemoProgramID, ix.ProgramID())

	accounts := ix.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner, "the payer signs the memo")
	assert.False(t, accounts[0].IsWritable)

	data, err := ix.Data()
	require.NoError(t, err)

	var note struct {
		Action     string  `json:"action"`
		Protocol   string  `json:"protocol"`
		Position   string  `json:"position"`
		NewLower   float64 `json:"new_lower"`
		NewUpper   float64 `json:"new_upper"`
		PriceAtGen float64 `json:"price_at_generation"`
	}
	require.NoError(t, json.Unmarshal(data, &note))

	assert.Equal(t, "rebalance_intent", note.Action)
	assert.Equal(t, "orca", note.Protocol)
	assert.Equal(t, snapshot.PositionID.String(), note.Position)
	assert.InDelta(t, 135.0, note.NewLower, 1e-9)
	assert.InDelta(t, 165.0, note.NewUpper, 1e-9)
	assert.InDelta(t, 150.0, note.PriceAtGen, 1e-9)
}

func TestMemoPlanner_RejectsForeignSnapshot(t *testing.T) {
	builder, err := NewMemoPlanner(types.ProtocolOrca, solana.PublicKey{0x09})
	require.NoError(t, err)

	snapshot := plannerSnapshot()
	snapshot.Protocol = types.ProtocolMeteora

	_, err = builder.BuildRebalancePlan(context.Background(), snapshot, TargetRange{})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestValidatePlan(t *testing.T) {
	payer := solana.PublicKey{0x09}
	validIx := solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(payer, false, true)},
		[]byte("note"),
	)

	valid := types.TransactionPlan{
		Description:  "recenter",
		Instructions: []solana.Instruction{validIx},
		Payer:        payer,
	}
	assert.NoError(t, ValidatePlan(valid))

	tests := []struct {
		name   string
		mutate func(*types.TransactionPlan)
	}{
		{name: "empty description", mutate: func(p *types.TransactionPlan) { p.Description = "" }},
		{name: "no instructions", mutate: func(p *types.TransactionPlan) { p.Instructions = nil }},
		{name: "nil instruction", mutate: func(p *types.TransactionPlan) {
			p.Instructions = []solana.Instruction{validIx, nil}
		}},
		{name: "zero payer", mutate: func(p *types.TransactionPlan) { p.Payer = solana.PublicKey{} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := valid
			tc.mutate(&plan)
			assert.ErrorIs(t, ValidatePlan(plan), ErrInvalidPlan)
		})
	}
}
