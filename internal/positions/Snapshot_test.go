package positions

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-labs/plm/internal/types"
)

const (
	testPositionAddress = "So11111111111111111111111111111111111111112"
	testPoolAddress     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var testOwner = solana.PublicKey{0xEE}

func int32Ptr(v int32) *int32 { return &v }

func uint16Ptr(v uint16) *uint16 { return &v }

// rawTickPosition is a well-formed SOL/USDC payload: 9/6 decimals, range
// ticks [-1000, 1000], current tick 250.
func rawTickPosition() RawPosition {
	return RawPosition{
		Address:          testPositionAddress,
		Pool:             testPoolAddress,
		TickLowerIndex:   int32Ptr(-1000),
		TickUpperIndex:   int32Ptr(1000),
		TickCurrentIndex: int32Ptr(250),
		Liquidity:        "123456789",
		TokenA:           RawTokenAmount{Symbol: "SOL", Decimals: 9, Amount: "5000000000"},
		TokenB:           RawTokenAmount{Symbol: "USDC", Decimals: 6, Amount: "750000000"},
		FeeOwedA:         "1000000",
		FeeOwedB:         "2500",
		PositionValueUSD: 1500,
		YieldAPR:         0.12,
		PoolMeta:         RawPoolMetadata{FeeRateBps: 30, TvlUSD: 2_000_000, Volume24hUSD: 350_000},
	}
}

func TestConvertTickPosition_DecodesCanonicalSnapshot(t *testing.T) {
	snap, err := convertTickPosition(rawTickPosition(), types.ProtocolOrca, testOwner)
	require.NoError(t, err)

	assert.Equal(t, types.ProtocolOrca, snap.Protocol)
	assert.Equal(t, solana.MustPublicKeyFromBase58(testPositionAddress), snap.PositionID)
	assert.Equal(t, solana.MustPublicKeyFromBase58(testPoolAddress), snap.PoolID)
	assert.Equal(t, testOwner, snap.Owner)

	assert.InDelta(t, 904.8419, snap.LowerPrice, 0.01)
	assert.InDelta(t, 1105.1654, snap.UpperPrice, 0.01)
	assert.InDelta(t, 1025.3138, snap.CurrentPrice, 0.01)
	assert.True(t, snap.InRange)
	require.NotNil(t, snap.CurrentTick)
	assert.Equal(t, int32(250), *snap.CurrentTick)

	assert.InDelta(t, 5.0, snap.TokenAAmount, 1e-9)
	assert.InDelta(t, 750.0, snap.TokenBAmount, 1e-9)
	assert.InDelta(t, 0.001, snap.AccruedFeesA, 1e-12)
	assert.InDelta(t, 0.0025, snap.AccruedFeesB, 1e-12)
	assert.Equal(t, "123456789", snap.Liquidity.String())
	assert.InDelta(t, 1500.0, snap.ValueUSD, 1e-9)
	assert.False(t, snap.FetchedAt.IsZero())

	assert.Equal(t, uint8(9), snap.Pool.TokenADecimals)
	assert.Equal(t, uint8(6), snap.Pool.TokenBDecimals)
	assert.InDelta(t, 30.0, snap.Pool.FeeRateBps, 1e-9)
}

func TestConvertTickPosition_PrefersSqrtPriceOverCurrentTick(t *testing.T) {
	raw := rawTickPosition()
	// sqrt(1) in Q64.64; with 9/6 decimals the UI price is exactly 1000,
	// which the coarser tick 250 would put above 1025.
	raw.SqrtPrice = "18446744073709551616"

	snap, err := convertTickPosition(raw, types.ProtocolOrca, testOwner)
	require.NoError(t, err)

	assert.InDelta(t, 1000.0, snap.CurrentPrice, 1e-6)
	require.NotNil(t, snap.CurrentTick, "the tick is still carried for reference")
	assert.Equal(t, int32(250), *snap.CurrentTick)
}

func TestConvertTickPosition_OutOfRangeBelow(t *testing.T) {
	raw := rawTickPosition()
	raw.TickCurrentIndex = int32Ptr(-1500)

	snap, err := convertTickPosition(raw, types.ProtocolOrca, testOwner)
	require.NoError(t, err)

	assert.False(t, snap.InRange)
	assert.Less(t, snap.CurrentPrice, snap.LowerPrice)
}

func TestConvertTickPosition_ZeroWidthRangeIsAccepted(t *testing.T) {
	// A single-tick range is degenerate but decodable; the drift evaluation
	// downstream is what flags it.
	raw := rawTickPosition()
	raw.TickLowerIndex = int32Ptr(100)
	raw.TickUpperIndex = int32Ptr(100)
	raw.TickCurrentIndex = int32Ptr(100)

	snap, err := convertTickPosition(raw, types.ProtocolOrca, testOwner)
	require.NoError(t, err)

	assert.Equal(t, snap.LowerPrice, snap.UpperPrice)
	assert.True(t, snap.InRange)
}

func TestConvertTickPosition_RejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawPosition)
	}{
		{name: "missing lower tick", mutate: func(r *RawPosition) { r.TickLowerIndex = nil }},
		{name: "missing upper tick", mutate: func(r *RawPosition) { r.TickUpperIndex = nil }},
		{name: "inverted tick bounds", mutate: func(r *RawPosition) {
			r.TickLowerIndex, r.TickUpperIndex = int32Ptr(1000), int32Ptr(-1000)
		}},
		{name: "lower tick outside domain", mutate: func(r *RawPosition) {
			r.TickLowerIndex = int32Ptr(MIN_TICK_INDEX - 1)
		}},
		{name: "current tick outside domain", mutate: func(r *RawPosition) {
			r.TickCurrentIndex = int32Ptr(MAX_TICK_INDEX + 1)
		}},
		{name: "no price source", mutate: func(r *RawPosition) {
			r.TickCurrentIndex = nil
			r.SqrtPrice = ""
		}},
		{name: "malformed sqrt price", mutate: func(r *RawPosition) { r.SqrtPrice = "not-a-number" }},
		{name: "zero sqrt price", mutate: func(r *RawPosition) { r.SqrtPrice = "0" }},
		{name: "malformed position address", mutate: func(r *RawPosition) { r.Address = "!!!" }},
		{name: "malformed pool address", mutate: func(r *RawPosition) { r.Pool = "!!!" }},
		{name: "fractional liquidity", mutate: func(r *RawPosition) { r.Liquidity = "12.5" }},
		{name: "negative position value", mutate: func(r *RawPosition) { r.PositionValueUSD = -1 }},
		{name: "malformed token amount", mutate: func(r *RawPosition) { r.TokenA.Amount = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawTickPosition()
			tc.mutate(&raw)

			_, err := convertTickPosition(raw, types.ProtocolOrca, testOwner)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}
