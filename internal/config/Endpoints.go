package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoints holds the external service endpoints loaded from environment variables.
type Endpoints struct {
	// SolanaRPC is the JSON-RPC endpoint of the Solana node.
	SolanaRPC string
	// IndexerAPI is the base URL of the position indexer API.
	IndexerAPI string
}

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() (Endpoints, error) {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var eps Endpoints
	var err error

	eps.SolanaRPC, err = getEnv("SOLANA_RPC")
	if err != nil {
		return Endpoints{}, err
	}

	eps.IndexerAPI, err = getEnv("INDEXER_API")
	if err != nil {
		return Endpoints{}, err
	}

	log.Debug().
		Str("SolanaRPC", eps.SolanaRPC).
		Str("IndexerAPI", eps.IndexerAPI).
		Msg("Endpoint configuration loaded successfully.")

	return eps, nil
}
