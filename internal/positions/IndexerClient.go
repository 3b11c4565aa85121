/*

This file contains the JSON-over-HTTP client for the position indexer. The
indexer is a black box that watches the chain and serves decoded pool and
position accounts; this client only validates and transports its payloads.
Everything protocol-specific about interpreting them lives in the adapters.

*/

package positions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/windrose-labs/plm/internal/types"
)

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 15
)

var ErrIndexerUnavailable = errors.New("position indexer unavailable")

// PositionSource delivers raw indexer payloads for one protocol. The adapters
// depend on this interface, not on the HTTP client, so tests can feed
// payloads directly.
type PositionSource interface {
	GetPositions(ctx context.Context, protocol types.ProtocolID, owner solana.PublicKey) ([]RawPosition, error)
}

// RawTokenAmount is one side of a position as the indexer reports it.
type RawTokenAmount struct {
	Symbol   string `json:"symbol"`   // e.g. "SOL"
	Decimals uint8  `json:"decimals"` // e.g. 9
	Amount   string `json:"amount"`   // raw integer units, e.g. "123456789"
}

// RawPoolMetadata is the indexer's pool-level context for a position.
type RawPoolMetadata struct {
	FeeRateBps   uint16  `json:"feeRateBps"`   // e.g. 30 = 0.30%
	TvlUSD       float64 `json:"tvlUsd"`       // e.g. 1250000.0
	Volume24hUSD float64 `json:"volume24hUsd"` // e.g. 340000.0
}

// RawPosition is the indexer's wire representation of one open position.
// Tick fields are populated for Orca and Raydium positions, bin fields for
// Meteora; integer amounts arrive as decimal strings to avoid precision loss.
type RawPosition struct {
	Address string `json:"address"` // position account, base58
	Pool    string `json:"pool"`    // pool account, base58

	TickLowerIndex   *int32 `json:"tickLowerIndex,omitempty"`   // e.g. -18944
	TickUpperIndex   *int32 `json:"tickUpperIndex,omitempty"`   // e.g. -17920
	TickCurrentIndex *int32 `json:"tickCurrentIndex,omitempty"` // e.g. -18500
	SqrtPrice        string `json:"sqrtPrice,omitempty"`        // Q64.64, decimal string

	BinStep     *uint16 `json:"binStep,omitempty"`     // e.g. 25 = 0.25% per bin
	LowerBinID  *int32  `json:"lowerBinId,omitempty"`  // e.g. -120
	UpperBinID  *int32  `json:"upperBinId,omitempty"`  // e.g. -80
	ActiveBinID *int32  `json:"activeBinId,omitempty"` // e.g. -100

	Liquidity string         `json:"liquidity"` // protocol-native scale, decimal string
	TokenA    RawTokenAmount `json:"tokenA"`
	TokenB    RawTokenAmount `json:"tokenB"`
	FeeOwedA  string         `json:"feeOwedA"` // raw units, decimal string
	FeeOwedB  string         `json:"feeOwedB"` // raw units, decimal string

	PositionValueUSD float64         `json:"positionValueUsd"` // e.g. 1234.56
	YieldAPR         float64         `json:"yieldApr"`         // e.g. 0.125 = 12.5%
	PoolMeta         RawPoolMetadata `json:"poolMeta"`
}

type positionsResponse struct {
	Positions []RawPosition `json:"positions"`
}

// IndexerClient implements PositionSource against the indexer's HTTP API.
type IndexerClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time interface check.
var _ PositionSource = (*IndexerClient)(nil)

// NewIndexerClient creates a client for the indexer at baseURL.
func NewIndexerClient(baseURL string) (*IndexerClient, error) {
	if baseURL == "" {
		return nil, errors.New("NewIndexerClient: base URL is required")
	}
	return &IndexerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: TIMEOUT_SECONDS * time.Second,
		},
	}, nil
}

// GetPositions fetches the owner's open positions for one protocol.
func (c *IndexerClient) GetPositions(ctx context.Context, protocol types.ProtocolID, owner solana.PublicKey) ([]RawPosition, error) {
	url := fmt.Sprintf("%s/v1/%s/positions?owner=%s", c.baseURL, protocol, owner.String())

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		providerLogger.Debug().
			Str("protocol", string(protocol)).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("GetPositions: Requesting positions from indexer")

		positions, err := c.getPositionsOnce(ctx, url)
		if err == nil {
			providerLogger.Debug().
				Str("protocol", string(protocol)).
				Int("positionCount", len(positions)).
				Msg("GetPositions: Indexer request successful")
			return positions, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		providerLogger.Warn().
			Err(err).
			Str("protocol", string(protocol)).
			Int("attempt", attempt).
			Msg("GetPositions: Indexer request failed, will retry if attempts remain")
		if attempt < MAX_RETRIES {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return nil, errors.Join(ErrIndexerUnavailable,
		fmt.Errorf("failed to fetch %s positions after %d attempts: %w", protocol, MAX_RETRIES, lastErr))
}

func (c *IndexerClient) getPositionsOnce(ctx context.Context, url string) ([]RawPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}

	var parsed positionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse indexer response: %w", err)
	}

	return parsed.Positions, nil
}
