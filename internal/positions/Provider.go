/*

This file defines the snapshot provider contract and the multiplexer that fans
a poll out across every supported protocol. One protocol's outage must never
hide another protocol's positions, so failures are collected per protocol
instead of aborting the whole fetch.

*/

package positions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrFetchFailed     = errors.New("position fetch failed")
	ErrInvalidPayload  = errors.New("position payload contains invalid data")
	ErrInvalidSnapshot = errors.New("position snapshot violates invariants")
	ErrNoProviders     = errors.New("no snapshot providers configured")
)

var providerLogger = logger.GetForComponent("position_provider")

// Provider returns the owner's open positions for one protocol family.
type Provider interface {
	// Protocol identifies the protocol family this provider serves.
	Protocol() types.ProtocolID

	// FetchSnapshots performs one finite polling pass and returns a fresh
	// snapshot per open position. Returned snapshots are point-in-time copies
	// and are never mutated afterwards.
	FetchSnapshots(ctx context.Context, owner solana.PublicKey) ([]types.PositionSnapshot, error)
}

// MultiProvider fans a fetch out across all registered providers.
type MultiProvider struct {
	providers []Provider
}

// NewMultiProvider creates a multiplexer over the given providers.
func NewMultiProvider(providers ...Provider) (*MultiProvider, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("NewMultiProvider: provider %d is nil", i)
		}
	}
	return &MultiProvider{providers: providers}, nil
}

// FetchAll queries every provider concurrently and returns all snapshots from
// the providers that succeeded, plus a per-protocol error map for those that
// failed. A full cross-protocol outage is still a valid result: zero
// snapshots and one entry per protocol in the failure map.
func (m *MultiProvider) FetchAll(ctx context.Context, owner solana.PublicKey) ([]types.PositionSnapshot, map[types.ProtocolID]error) {
	type fetchResult struct {
		protocol  types.ProtocolID
		snapshots []types.PositionSnapshot
		err       error
	}

	results := make([]fetchResult, len(m.providers))
	var wg sync.WaitGroup
	for i, p := range m.providers {
		wg.Add(1)
		go func(slot int, provider Provider) {
			defer wg.Done()
			snapshots, err := provider.FetchSnapshots(ctx, owner)
			results[slot] = fetchResult{
				protocol:  provider.Protocol(),
				snapshots: snapshots,
				err:       err,
			}
		}(i, p)
	}
	wg.Wait()

	var all []types.PositionSnapshot
	failures := make(map[types.ProtocolID]error)
	for _, r := range results {
		if r.err != nil {
			providerLogger.Error().
				Err(r.err).
				Str("protocol", string(r.protocol)).
				Msg("FetchAll: Protocol fetch failed, continuing with remaining protocols")
			failures[r.protocol] = r.err
			continue
		}
		providerLogger.Debug().
			Str("protocol", string(r.protocol)).
			Int("positionCount", len(r.snapshots)).
			Msg("FetchAll: Protocol fetch completed")
		all = append(all, r.snapshots...)
	}

	return all, failures
}

// validateSnapshot enforces the canonical snapshot invariants at the adapter
// boundary, before a snapshot is allowed out of this package.
func validateSnapshot(snap types.PositionSnapshot) error {
	if snap.Protocol == "" {
		return errors.Join(ErrInvalidSnapshot, errors.New("protocol is empty"))
	}
	if snap.PositionID.IsZero() {
		return errors.Join(ErrInvalidSnapshot, errors.New("position ID is not set"))
	}
	if snap.PoolID.IsZero() {
		return errors.Join(ErrInvalidSnapshot, errors.New("pool ID is not set"))
	}

	for _, v := range []struct {
		value float64
		name  string
	}{
		{snap.LowerPrice, "lower price"},
		{snap.UpperPrice, "upper price"},
		{snap.CurrentPrice, "current price"},
		{snap.TokenAAmount, "token A amount"},
		{snap.TokenBAmount, "token B amount"},
		{snap.AccruedFeesA, "accrued fees A"},
		{snap.AccruedFeesB, "accrued fees B"},
		{snap.AnnualizedYield, "annualized yield"},
		{snap.ValueUSD, "position value"},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return errors.Join(ErrInvalidSnapshot, fmt.Errorf("%s is not finite: %f", v.name, v.value))
		}
	}

	if snap.LowerPrice < 0 || snap.UpperPrice < 0 || snap.CurrentPrice < 0 {
		return errors.Join(ErrInvalidSnapshot, errors.New("prices cannot be negative"))
	}
	if snap.LowerPrice > snap.UpperPrice {
		return errors.Join(ErrInvalidSnapshot,
			fmt.Errorf("lower price %f exceeds upper price %f", snap.LowerPrice, snap.UpperPrice))
	}

	wantInRange := snap.CurrentPrice >= snap.LowerPrice && snap.CurrentPrice <= snap.UpperPrice
	if snap.InRange != wantInRange {
		return errors.Join(ErrInvalidSnapshot,
			fmt.Errorf("inRange flag %t contradicts prices (current %f, range [%f, %f])",
				snap.InRange, snap.CurrentPrice, snap.LowerPrice, snap.UpperPrice))
	}

	if snap.Liquidity.IsNil() {
		return errors.Join(ErrInvalidSnapshot, errors.New("liquidity is nil"))
	}
	if snap.Liquidity.IsNegative() {
		return errors.Join(ErrInvalidSnapshot, errors.New("liquidity cannot be negative"))
	}

	return nil
}
