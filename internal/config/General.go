package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
// LoadConfig builds it once at startup; it is passed by pointer after that and
// never mutated.
type Config struct {
	// OwnerAddress is the wallet whose positions this PLM instance manages.
	OwnerAddress solana.PublicKey

	// WalletPrivateKey is the base58-encoded signing key. Optional when
	// WalletKeypairPath is set.
	WalletPrivateKey string
	// WalletKeypairPath is the path to a solana-keygen JSON keypair file.
	// Optional when WalletPrivateKey is set.
	WalletKeypairPath string

	// CycleInterval is the pause between controller cycles.
	CycleInterval time.Duration

	// Endpoints holds the external service endpoints.
	Endpoints Endpoints
}

// LoadConfig loads configuration from environment variables.
// All environment variables are required unless noted otherwise.
func LoadConfig() (*Config, error) {
	log.Info().Msg("Loading application configuration from environment variables...")

	cfg := &Config{}

	ownerStr, err := getEnv("PLM_OWNER_ADDRESS")
	if err != nil {
		return nil, err
	}
	cfg.OwnerAddress, err = solana.PublicKeyFromBase58(ownerStr)
	if err != nil {
		return nil, errors.New("environment variable PLM_OWNER_ADDRESS must be a valid base58 public key, got: " + ownerStr)
	}

	// The signing key can come from either source; the wallet package enforces
	// that whichever is present actually parses.
	cfg.WalletPrivateKey = os.Getenv("WALLET_PRIVATE_KEY")
	cfg.WalletKeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")
	if cfg.WalletPrivateKey == "" && cfg.WalletKeypairPath == "" {
		return nil, errors.New("either WALLET_PRIVATE_KEY or WALLET_KEYPAIR_PATH must be set")
	}

	intervalSeconds, err := getEnvAsUint64("PLM_CYCLE_INTERVAL_SECONDS")
	if err != nil {
		return nil, err
	}
	if intervalSeconds == 0 {
		return nil, errors.New("environment variable PLM_CYCLE_INTERVAL_SECONDS must be greater than zero")
	}
	cfg.CycleInterval = time.Duration(intervalSeconds) * time.Second

	endpoints, err := loadEndpointConfig()
	if err != nil {
		return nil, err
	}
	cfg.Endpoints = endpoints

	log.Debug().
		Str("OwnerAddress", cfg.OwnerAddress.String()).
		Dur("CycleInterval", cfg.CycleInterval).
		Msg("Configuration loaded successfully.")

	return cfg, nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
