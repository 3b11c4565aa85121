/*

This file contains the canonical position snapshot schema. Every protocol
adapter, whatever its native encoding, must emit these types.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// ProtocolID identifies which concentrated-liquidity protocol a position lives on.
type ProtocolID string

const (
	ProtocolOrca    ProtocolID = "orca"
	ProtocolRaydium ProtocolID = "raydium"
	ProtocolMeteora ProtocolID = "meteora"
)

// PoolMetadata carries the pool-level figures the safety checks need,
// captured at the same instant as the position snapshot.
type PoolMetadata struct {
	Protocol       ProtocolID       `json:"protocol"`
	PoolID         solana.PublicKey `json:"pool_id"`
	TokenASymbol   string           `json:"token_a_symbol"`    // e.g., "SOL"
	TokenBSymbol   string           `json:"token_b_symbol"`    // e.g., "USDC"
	TokenADecimals uint8            `json:"token_a_decimals"`  // e.g., 9
	TokenBDecimals uint8            `json:"token_b_decimals"`  // e.g., 6
	FeeRateBps     float64          `json:"fee_rate_bps"`      // Pool swap fee in basis points
	TvlUSD         float64          `json:"tvl_usd"`           // Total value locked in USD
	Volume24hUSD   float64          `json:"volume_24h_usd"`    // 24h trading volume in USD
}

// PositionSnapshot is the normalized view of one concentrated-liquidity
// position at one poll. Snapshots are created fresh every poll and never
// mutated afterwards.
type PositionSnapshot struct {
	Protocol   ProtocolID       `json:"protocol"`
	PoolID     solana.PublicKey `json:"pool_id"`
	PositionID solana.PublicKey `json:"position_id"`
	Owner      solana.PublicKey `json:"owner"`

	LowerPrice   float64 `json:"lower_price"`             // Price of token A in token B at the lower bound
	UpperPrice   float64 `json:"upper_price"`             // Price of token A in token B at the upper bound
	CurrentPrice float64 `json:"current_price"`           // Pool price at fetch time
	CurrentTick  *int32  `json:"current_tick,omitempty"`  // Tick (Orca/Raydium) or bin (Meteora) index; nil when the source omits it
	InRange      bool    `json:"in_range"`                // Must equal currentPrice in [lowerPrice, upperPrice]

	Liquidity    sdkmath.Int `json:"liquidity"`      // Protocol-native liquidity figure
	TokenAAmount float64     `json:"token_a_amount"` // UI amount of token A in the position
	TokenBAmount float64     `json:"token_b_amount"` // UI amount of token B in the position
	AccruedFeesA float64     `json:"accrued_fees_a"` // Unclaimed fees, token A UI amount
	AccruedFeesB float64     `json:"accrued_fees_b"` // Unclaimed fees, token B UI amount

	AnnualizedYield float64 `json:"annualized_yield"` // Fee yield in percent, as reported by the data source
	ValueUSD        float64 `json:"value_usd"`        // Position value in USD at fetch time

	Pool      PoolMetadata `json:"pool"`
	FetchedAt time.Time    `json:"fetched_at"`
}
