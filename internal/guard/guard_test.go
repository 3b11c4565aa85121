package guard

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-labs/plm/internal/types"
)

func guardLimits() types.SafetyLimits {
	return types.SafetyLimits{
		MinPositionSizeUSD: 100,
		MaxPositionSizeUSD: 250000,
		MaxSlippageBps:     100,
		MinTvlUSD:          100000,
		MinVolume24hUSD:    50000,
		MaxPriceImpactBps:  50,
	}
}

func guardSnapshot(valueUSD, tvlUSD, volumeUSD float64) types.PositionSnapshot {
	return types.PositionSnapshot{
		Protocol: types.ProtocolOrca,
		ValueUSD: valueUSD,
		Pool: types.PoolMetadata{
			Protocol:     types.ProtocolOrca,
			TvlUSD:       tvlUSD,
			Volume24hUSD: volumeUSD,
		},
	}
}

func TestCheck_HealthyPositionIsApproved(t *testing.T) {
	result, err := Check(guardSnapshot(5000, 2_000_000, 500_000), guardLimits())
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Empty(t, result.Reasons)
}

func TestCheck_SingleViolationIsReported(t *testing.T) {
	tests := []struct {
		name     string
		snapshot types.PositionSnapshot
		reason   string
	}{
		{
			name:     "position value below minimum",
			snapshot: guardSnapshot(50, 2_000_000, 500_000),
			reason:   "below minimum",
		},
		{
			name:     "position value above maximum",
			snapshot: guardSnapshot(300_000, 100_000_000, 500_000),
			reason:   "above maximum",
		},
		{
			name:     "pool TVL below minimum",
			snapshot: guardSnapshot(100, 50_000, 500_000),
			reason:   "pool TVL",
		},
		{
			name:     "pool volume below minimum",
			snapshot: guardSnapshot(5000, 2_000_000, 49_999),
			reason:   "24h volume",
		},
		{
			name:     "price impact above maximum",
			snapshot: guardSnapshot(20_000, 2_000_000, 500_000),
			reason:   "price impact",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Check(tc.snapshot, guardLimits())
			require.NoError(t, err, "a limit violation is a rejection, not an error")

			assert.False(t, result.Approved)
			require.Len(t, result.Reasons, 1)
			assert.Contains(t, result.Reasons[0], tc.reason)
		})
	}
}

func TestCheck_AllViolationsAreAccumulated(t *testing.T) {
	// Value below min, TVL below min, volume below min, impact above max.
	result, err := Check(guardSnapshot(50, 10, 0), guardLimits())
	require.NoError(t, err)

	assert.False(t, result.Approved)
	assert.Len(t, result.Reasons, 4, "every violated limit gets its own reason")
}

func TestCheck_ZeroTvlSaturatesPriceImpact(t *testing.T) {
	result, err := Check(guardSnapshot(5000, 0, 500_000), guardLimits())
	require.NoError(t, err)

	assert.False(t, result.Approved)
	found := false
	for _, reason := range result.Reasons {
		if strings.Contains(reason, "price impact") {
			found = true
		}
	}
	assert.True(t, found, "an unpriceable pool must count as maximal impact")
}

func TestCheck_BoundaryValuesAreNotViolations(t *testing.T) {
	// value == min, impact == max exactly (10000 / 2000000 = 50 bps),
	// volume exactly at its minimum.
	limits := guardLimits()
	limits.MinPositionSizeUSD = 10_000

	result, err := Check(guardSnapshot(10_000, 2_000_000, 50_000), limits)
	require.NoError(t, err)

	assert.True(t, result.Approved, "limits are exclusive bounds, sitting exactly on one holds")
}

func TestCheck_RejectsMalformedLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.SafetyLimits)
	}{
		{name: "min above max", mutate: func(l *types.SafetyLimits) { l.MinPositionSizeUSD = 500_000 }},
		{name: "zero max position size", mutate: func(l *types.SafetyLimits) { l.MaxPositionSizeUSD = 0 }},
		{name: "NaN slippage", mutate: func(l *types.SafetyLimits) { l.MaxSlippageBps = math.NaN() }},
		{name: "negative TVL floor", mutate: func(l *types.SafetyLimits) { l.MinTvlUSD = -1 }},
		{name: "infinite impact cap", mutate: func(l *types.SafetyLimits) { l.MaxPriceImpactBps = math.Inf(1) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			limits := guardLimits()
			tc.mutate(&limits)

			_, err := Check(guardSnapshot(5000, 2_000_000, 500_000), limits)
			assert.ErrorIs(t, err, ErrInvalidLimits)
		})
	}
}

func TestCheck_RejectsMalformedSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		snapshot types.PositionSnapshot
	}{
		{name: "NaN position value", snapshot: guardSnapshot(math.NaN(), 2_000_000, 500_000)},
		{name: "infinite TVL", snapshot: guardSnapshot(5000, math.Inf(1), 500_000)},
		{name: "negative volume", snapshot: guardSnapshot(5000, 2_000_000, -1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Check(tc.snapshot, guardLimits())
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}
