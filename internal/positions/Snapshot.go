/*

This file converts raw indexer payloads into canonical position snapshots.
The tick conversion is shared by the Orca and Raydium adapters; every decoded
field is validated before the snapshot leaves this package.

*/

package positions

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/windrose-labs/plm/internal/types"
	"github.com/windrose-labs/plm/internal/utils"
)

// decodeRawAmount converts a decimal-string raw amount into a UI float using
// the token's decimals.
func decodeRawAmount(amount string, decimals uint8, name string) (float64, error) {
	raw, err := utils.DecimalStringToInt(amount)
	if err != nil {
		return 0, errors.Join(ErrInvalidPayload, fmt.Errorf("%s: %w", name, err))
	}
	ui, err := utils.RawToUIAmount(raw, int(decimals))
	if err != nil {
		return 0, errors.Join(ErrInvalidPayload, fmt.Errorf("%s: %w", name, err))
	}
	return ui, nil
}

// decodeCommon decodes the protocol-independent part of a payload: accounts,
// liquidity, token amounts, accrued fees, valuation, and pool metadata.
// Range prices and the in-range flag are left for the protocol-specific
// converters.
func decodeCommon(raw RawPosition, protocol types.ProtocolID, owner solana.PublicKey) (types.PositionSnapshot, error) {
	positionID, err := solana.PublicKeyFromBase58(raw.Address)
	if err != nil {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("position address %q: %w", raw.Address, err))
	}
	poolID, err := solana.PublicKeyFromBase58(raw.Pool)
	if err != nil {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("pool address %q: %w", raw.Pool, err))
	}

	liquidity, err := utils.DecimalStringToInt(raw.Liquidity)
	if err != nil {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("liquidity: %w", err))
	}

	tokenAAmount, err := decodeRawAmount(raw.TokenA.Amount, raw.TokenA.Decimals, "token A amount")
	if err != nil {
		return types.PositionSnapshot{}, err
	}
	tokenBAmount, err := decodeRawAmount(raw.TokenB.Amount, raw.TokenB.Decimals, "token B amount")
	if err != nil {
		return types.PositionSnapshot{}, err
	}
	feesA, err := decodeRawAmount(raw.FeeOwedA, raw.TokenA.Decimals, "fee owed A")
	if err != nil {
		return types.PositionSnapshot{}, err
	}
	feesB, err := decodeRawAmount(raw.FeeOwedB, raw.TokenB.Decimals, "fee owed B")
	if err != nil {
		return types.PositionSnapshot{}, err
	}

	for _, v := range []struct {
		value float64
		name  string
	}{
		{raw.PositionValueUSD, "position value"},
		{raw.YieldAPR, "yield"},
		{raw.PoolMeta.TvlUSD, "pool TVL"},
		{raw.PoolMeta.Volume24hUSD, "pool volume"},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
				fmt.Errorf("%s is not finite: %f", v.name, v.value))
		}
		if v.value < 0 {
			return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
				fmt.Errorf("%s cannot be negative: %f", v.name, v.value))
		}
	}

	return types.PositionSnapshot{
		Protocol:     protocol,
		PoolID:       poolID,
		PositionID:   positionID,
		Owner:        owner,
		Liquidity:    liquidity,
		TokenAAmount: tokenAAmount,
		TokenBAmount: tokenBAmount,
		AccruedFeesA: feesA,
		AccruedFeesB: feesB,

		AnnualizedYield: raw.YieldAPR,
		ValueUSD:        raw.PositionValueUSD,

		Pool: types.PoolMetadata{
			Protocol:       protocol,
			PoolID:         poolID,
			TokenASymbol:   raw.TokenA.Symbol,
			TokenBSymbol:   raw.TokenB.Symbol,
			TokenADecimals: raw.TokenA.Decimals,
			TokenBDecimals: raw.TokenB.Decimals,
			FeeRateBps:     float64(raw.PoolMeta.FeeRateBps),
			TvlUSD:         raw.PoolMeta.TvlUSD,
			Volume24hUSD:   raw.PoolMeta.Volume24hUSD,
		},
		FetchedAt: time.Now(),
	}, nil
}

// convertTickPosition decodes a tick-encoded payload (Orca, Raydium) into a
// canonical snapshot. The current price prefers the pool's square-root price
// over the coarser current tick when both are present.
func convertTickPosition(raw RawPosition, protocol types.ProtocolID, owner solana.PublicKey) (types.PositionSnapshot, error) {
	if raw.TickLowerIndex == nil || raw.TickUpperIndex == nil {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			errors.New("tick bounds are missing"))
	}
	lowerTick, upperTick := *raw.TickLowerIndex, *raw.TickUpperIndex
	if !validIndex(lowerTick) || !validIndex(upperTick) {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("tick bounds [%d, %d] outside the tick domain", lowerTick, upperTick))
	}
	if lowerTick > upperTick {
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			fmt.Errorf("lower tick %d exceeds upper tick %d", lowerTick, upperTick))
	}

	snap, err := decodeCommon(raw, protocol, owner)
	if err != nil {
		return types.PositionSnapshot{}, err
	}

	decA, decB := snap.Pool.TokenADecimals, snap.Pool.TokenBDecimals
	snap.LowerPrice = tickToPrice(lowerTick, decA, decB)
	snap.UpperPrice = tickToPrice(upperTick, decA, decB)

	switch {
	case raw.SqrtPrice != "":
		sqrtPrice, err := utils.DecimalStringToInt(raw.SqrtPrice)
		if err != nil {
			return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
				fmt.Errorf("sqrt price: %w", err))
		}
		snap.CurrentPrice, err = sqrtPriceX64ToPrice(sqrtPrice, decA, decB)
		if err != nil {
			return types.PositionSnapshot{}, err
		}
	case raw.TickCurrentIndex != nil:
		if !validIndex(*raw.TickCurrentIndex) {
			return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
				fmt.Errorf("current tick %d outside the tick domain", *raw.TickCurrentIndex))
		}
		snap.CurrentPrice = tickToPrice(*raw.TickCurrentIndex, decA, decB)
	default:
		return types.PositionSnapshot{}, errors.Join(ErrInvalidPayload,
			errors.New("payload carries neither sqrt price nor current tick"))
	}

	snap.CurrentTick = raw.TickCurrentIndex
	snap.InRange = snap.CurrentPrice >= snap.LowerPrice && snap.CurrentPrice <= snap.UpperPrice

	if err := validateSnapshot(snap); err != nil {
		return types.PositionSnapshot{}, err
	}
	return snap, nil
}
