/*

This file contains the Orca Whirlpool adapter.

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

var orcaLogger = logger.GetForComponent("orca_adapter")

// WhirlpoolProgramID is the Orca Whirlpool program on mainnet.
var WhirlpoolProgramID = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

// OrcaAdapter translates Whirlpool positions into canonical snapshots.
// Whirlpool ranges are tick-encoded with the shared 1.0001 base.
type OrcaAdapter struct {
	source PositionSource
}

// Compile-time interface check.
var _ Provider = (*OrcaAdapter)(nil)

// NewOrcaAdapter creates an adapter reading from the given source.
func NewOrcaAdapter(source PositionSource) (*OrcaAdapter, error) {
	if source == nil {
		return nil, errors.New("NewOrcaAdapter: position source is nil")
	}
	return &OrcaAdapter{source: source}, nil
}

// Protocol identifies this adapter's protocol family.
func (a *OrcaAdapter) Protocol() types.ProtocolID {
	return types.ProtocolOrca
}

// FetchSnapshots returns the owner's open Whirlpool positions. A malformed
// payload fails the whole pass; partial protocol data is worse than none,
// because a silently dropped position would never be rebalanced.
func (a *OrcaAdapter) FetchSnapshots(ctx context.Context, owner solana.PublicKey) ([]types.PositionSnapshot, error) {
	if owner.IsZero() {
		return nil, errors.Join(ErrFetchFailed, errors.New("owner is not set"))
	}

	rawPositions, err := a.source.GetPositions(ctx, types.ProtocolOrca, owner)
	if err != nil {
		return nil, errors.Join(ErrFetchFailed, fmt.Errorf("whirlpool position fetch: %w", err))
	}

	snapshots := make([]types.PositionSnapshot, 0, len(rawPositions))
	for i, raw := range rawPositions {
		snap, err := convertTickPosition(raw, types.ProtocolOrca, owner)
		if err != nil {
			orcaLogger.Error().
				Err(err).
				Int("positionIndex", i).
				Str("address", raw.Address).
				Msg("FetchSnapshots: Malformed Whirlpool position payload")
			return nil, fmt.Errorf("whirlpool position %d (%s): %w", i, raw.Address, err)
		}
		snapshots = append(snapshots, snap)
	}

	orcaLogger.Info().
		Int("positionCount", len(snapshots)).
		Str("owner", owner.String()).
		Msg("FetchSnapshots: Whirlpool positions fetched")
	return snapshots, nil
}
