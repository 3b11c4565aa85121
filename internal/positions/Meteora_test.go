package positions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-labs/plm/internal/types"
)

// rawBinPosition is a well-formed DLMM payload: 25 bps bins, range
// [-120, -80], active bin -100, 9/6 decimals.
func rawBinPosition() RawPosition {
	raw := rawTickPosition()
	raw.TickLowerIndex = nil
	raw.TickUpperIndex = nil
	raw.TickCurrentIndex = nil
	raw.BinStep = uint16Ptr(25)
	raw.LowerBinID = int32Ptr(-120)
	raw.UpperBinID = int32Ptr(-80)
	raw.ActiveBinID = int32Ptr(-100)
	return raw
}

func TestConvertBinPosition_DecodesCanonicalSnapshot(t *testing.T) {
	snap, err := convertBinPosition(rawBinPosition(), testOwner)
	require.NoError(t, err)

	assert.Equal(t, types.ProtocolMeteora, snap.Protocol)
	// 1.0025^-120 * 1000, 1.0025^-80 * 1000, 1.0025^-100 * 1000.
	assert.InDelta(t, 741.096, snap.LowerPrice, 0.01)
	assert.InDelta(t, 818.935, snap.UpperPrice, 0.01)
	assert.InDelta(t, 779.044, snap.CurrentPrice, 0.01)
	assert.True(t, snap.InRange)
	require.NotNil(t, snap.CurrentTick)
	assert.Equal(t, int32(-100), *snap.CurrentTick)
}

func TestConvertBinPosition_ActiveBinOutsideRange(t *testing.T) {
	raw := rawBinPosition()
	raw.ActiveBinID = int32Ptr(-60)

	snap, err := convertBinPosition(raw, testOwner)
	require.NoError(t, err)

	assert.False(t, snap.InRange)
	assert.Greater(t, snap.CurrentPrice, snap.UpperPrice)
}

func TestConvertBinPosition_RejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawPosition)
	}{
		{name: "missing bin step", mutate: func(r *RawPosition) { r.BinStep = nil }},
		{name: "zero bin step", mutate: func(r *RawPosition) { r.BinStep = uint16Ptr(0) }},
		{name: "bin step at full range", mutate: func(r *RawPosition) { r.BinStep = uint16Ptr(types.BasisPointMax) }},
		{name: "missing lower bin", mutate: func(r *RawPosition) { r.LowerBinID = nil }},
		{name: "missing upper bin", mutate: func(r *RawPosition) { r.UpperBinID = nil }},
		{name: "inverted bin bounds", mutate: func(r *RawPosition) {
			r.LowerBinID, r.UpperBinID = int32Ptr(-80), int32Ptr(-120)
		}},
		{name: "missing active bin", mutate: func(r *RawPosition) { r.ActiveBinID = nil }},
		{name: "active bin outside domain", mutate: func(r *RawPosition) {
			r.ActiveBinID = int32Ptr(MAX_TICK_INDEX + 1)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawBinPosition()
			tc.mutate(&raw)

			_, err := convertBinPosition(raw, testOwner)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestMeteoraAdapter_FetchSnapshots(t *testing.T) {
	source := &scriptedSource{positions: []RawPosition{rawBinPosition()}}
	adapter, err := NewMeteoraAdapter(source)
	require.NoError(t, err)

	snapshots, err := adapter.FetchSnapshots(context.Background(), testOwner)
	require.NoError(t, err)

	require.Len(t, snapshots, 1)
	assert.Equal(t, types.ProtocolMeteora, source.gotProtocol)
	assert.Equal(t, testOwner, snapshots[0].Owner)
}

func TestMeteoraAdapter_MalformedPayloadFailsWholePass(t *testing.T) {
	good := rawBinPosition()
	bad := rawBinPosition()
	bad.ActiveBinID = nil

	source := &scriptedSource{positions: []RawPosition{good, bad}}
	adapter, err := NewMeteoraAdapter(source)
	require.NoError(t, err)

	snapshots, err := adapter.FetchSnapshots(context.Background(), testOwner)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Nil(t, snapshots, "a partially decoded protocol pass is worse than a failed one")
}
