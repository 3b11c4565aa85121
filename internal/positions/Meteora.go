/*

This file contains the Meteora DLMM adapter.

DLMM positions are bin-encoded: price moves in discrete steps of
(1 + binStep/10000) per bin instead of the 1.0001 tick base, and the pool
always reports which bin is active.

*/

package positions

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/types"
)

var meteoraLogger = logger.GetForComponent("meteora_adapter")

// MeteoraDLMMProgramID is the Meteora DLMM program on mainnet.
var MeteoraDLMMProgramID = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

// MeteoraAdapter translates DLMM positions into canonical snapshots.
type MeteoraAdapter struct {
	source PositionSource
}

// Compile-time interface check.
var _ Provider = (*MeteoraAdapter)(nil)

// NewMeteoraAdapter creates an adapter reading from the given source.
func NewMeteoraAdapter(source PositionSource) (*MeteoraAdapter, error) {
	if source == nil {
		return nil, errors.New("NewMeteoraAdapter: position source is nil")
	}
	return &MeteoraAdapter{source: source}, nil
}

// Protocol identifies this adapter's protocol family.
func (a *MeteoraAdapter) Protocol() types.ProtocolID {
	return types.ProtocolMeteora
}

// FetchSnapshots returns the owner's open DLMM positions.
func (a *MeteoraAdapter) FetchSnapshots(ctx context.Context, owner solana.PublicKey) ([]types.PositionSnapshot, error) {
	if owner.IsZero() {
		return nil, errors.Join(ErrFetchFailed, errors.New("owner is not set"))
	}

	rawPositions, err := a.source.GetPositions(ctx, types.ProtocolMeteora, owner)
	if err != nil {
		return nil, errors.Join(ErrFetchFailed, fmt.Errorf("dlmm position fetch: %w", err))
	}

	snapshots := make([]types.PositionSnapshot, 0, len(rawPositions))
	for i, raw := range rawPositions {
		snap, err := convertBinPosition(raw, owner)
		if err != nil {
			meteoraLogger.Error().
				Err(err).
				Int("positionIndex", i).
				Str("address", raw.Address).
				Msg("FetchSnapshots: Malformed DLMM position payload")
			return nil, fmt.Errorf("dlmm position %d (%s): %w", i, raw.Address, err)
		}
		snapshots = append(snapshots, snap)
	}

	meteoraLogger.Info().
		Int("positionCount", len(snapshots)).
		Str("owner", owner.String()).
		Msg("FetchSnapshots: DLMM positions fetched")
	return snapshots, nil
}

// convertBinPosition decodes a bin-encoded payload into a canonical snapshot.
func convertBinPosition(raw RawPosition, owner solana.PublicKey) (types.PositionSnapshot, error) {
	if raw.BinStep == nil || raw.LowerBinID == nil || raw.UpperBinID == nil {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			errors.New("bin fields are missing"))
	}
	binStep := *raw.BinStep
	if binStep == 0 || binStep >= types.BasisPointMax {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("bin step %d outside (0, %d)", binStep, types.BasisPointMax))
	}

	lowerBin, upperBin := *raw.LowerBinID, *raw.UpperBinID
	if !validIndex(lowerBin) || !validIndex(upperBin) {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("bin bounds [%d, %d] outside the index domain", lowerBin, upperBin))
	}
	if lowerBin > upperBin {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("lower bin %d exceeds upper bin %d", lowerBin, upperBin))
	}

	if raw.ActiveBinID == nil {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			errors.New("active bin is missing"))
	}
	activeBin := *raw.ActiveBinID
	if !validIndex(activeBin) {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("active bin %d outside the index domain", activeBin))
	}

	snap, err := decodeCommon(raw, types.ProtocolMeteora, owner)
	if err != nil {
		return types.PositionSnapshot{}, err
	}

	decA, decB := snap.Pool.TokenADecimals, snap.Pool.TokenBDecimals
	snap.LowerPrice = binToPrice(lowerBin, binStep, decA, decB)
	snap.UpperPrice = binToPrice(upperBin, binStep, decA, decB)
	snap.CurrentPrice = binToPrice(activeBin, binStep, decA, decB)
	snap.CurrentTick = raw.ActiveBinID
	snap.InRange = snap.CurrentPrice >= snap.LowerPrice && snap.CurrentPrice <= snap.UpperPrice

	if err := validateSnapshot(snap); err != nil {
		return types.PositionSnapshot{}, err
	}
	return snap, nil
}
