/*

This file contains the Raydium CLMM adapter.

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

var raydiumLogger = logger.GetForComponent("raydium_adapter")

// RaydiumCLMMProgramID is the Raydium concentrated-liquidity program on mainnet.
var RaydiumCLMMProgramID = solana.MustPublicKeyFromBase58("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")

// RaydiumAdapter translates Raydium CLMM positions into canonical snapshots.
// Raydium uses the same tick encoding as Whirlpool, so the conversion is
// shared; only the program and payload source differ.
type RaydiumAdapter struct {
	source PositionSource
}

// Compile-time interface check.
var _ Provider = (*RaydiumAdapter)(nil)

// NewRaydiumAdapter creates an adapter reading from the given source.
func NewRaydiumAdapter(source PositionSource) (*RaydiumAdapter, error) {
	if source == nil {
		return nil, errors.New("NewRaydiumAdapter: position source is nil")
	}
	return &RaydiumAdapter{source: source}, nil
}

// Protocol identifies this adapter's protocol family.
func (a *RaydiumAdapter) Protocol() types.ProtocolID {
	return types.ProtocolRaydium
}

// FetchSnapshots returns the owner's open Raydium CLMM positions.
func (a *RaydiumAdapter) FetchSnapshots(ctx context.Context, owner solana.PublicKey) ([]types.PositionSnapshot, error) {
	if owner.IsZero() {
		return nil, errors.Join(ErrFetchFailed, errors.New("owner is not set"))
	}

	rawPositions, err := a.source.GetPositions(ctx, types.ProtocolRaydium, owner)
	if err != nil {
		return nil, errors.Join(ErrFetchFailed, fmt.Errorf("raydium position fetch: %w", err))
	}

	snapshots := make([]types.PositionSnapshot, 0, len(rawPositions))
	for i, raw := range rawPositions {
		snap, err := convertTickPosition(raw, types.ProtocolRaydium, owner)
		if err != nil {
			raydiumLogger.Error().
				Err(err).
				Int("positionIndex", i).
				Str("address", raw.Address).
				Msg("FetchSnapshots: Malformed Raydium position payload")
			return nil, fmt.Errorf("raydium position %d (%s): %w", i, raw.Address, err)
		}
		snapshots = append(snapshots, snap)
	}

	raydiumLogger.Info().
		Int("positionCount", len(snapshots)).
		Str("owner", owner.String()).
		Msg("FetchSnapshots: Raydium positions fetched")
	return snapshots, nil
}
