package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/windrose-labs/plm/internal/chain"
	"github.com/windrose-labs/plm/internal/config"
	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/planner"
	"github.com/windrose-labs/plm/internal/plm"
	"github.com/windrose-labs/plm/internal/positions"
	"github.com/windrose-labs/plm/internal/state"
	"github.com/windrose-labs/plm/internal/types"
	"github.com/windrose-labs/plm/internal/wallet"
	"github.com/windrose-labs/plm/internal/web"
)

// main is the entry point for the PLM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("PLM Core Logic Starting...")

	// Initialize Database Connection (receipts, control parameters, tick counter)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Control Parameters
	rebalanceCfg := config.DefaultRebalanceConfig
	safetyLimits := config.DefaultSafetyLimits
	record, err := state.LoadActiveControlParameters(plm.DEFAULT_CONTROL_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active control parameters, using defaults and saving.")
		if _, err := state.SaveControlParameters(rebalanceCfg, safetyLimits, plm.DEFAULT_CONTROL_CONFIG_NAME, plm.DEFAULT_CONTROL_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default control parameters.")
		}
	} else {
		rebalanceCfg = record.Rebalance
		safetyLimits = record.Limits
	}
	log.Info().Msg("Control parameters loaded successfully.")

	// --- 2. Chain and Wallet Initialization ---
	chainClient, err := chain.NewRPCClient(cfg.Endpoints.SolanaRPC)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Solana RPC client")
	}
	log.Info().Str("endpoint", cfg.Endpoints.SolanaRPC).Msg("Solana RPC client initialized")

	signer, err := wallet.NewKeypairSigner(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signing wallet")
	}

	engine, err := wallet.NewSubmissionEngine(chainClient, signer, rebalanceCfg.GasPriority)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize submission engine")
	}

	// --- 3. Snapshot Providers ---
	indexer, err := positions.NewIndexerClient(cfg.Endpoints.IndexerAPI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize indexer client")
	}

	orca, err := positions.NewOrcaAdapter(indexer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Orca adapter")
	}
	raydium, err := positions.NewRaydiumAdapter(indexer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Raydium adapter")
	}
	meteora, err := positions.NewMeteoraAdapter(indexer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Meteora adapter")
	}

	provider, err := positions.NewMultiProvider(orca, raydium, meteora)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot provider")
	}

	// --- 4. Plan Builder Registry (with Safety Switch) ---
	registry := planner.NewRegistry()
	if os.Getenv("PLM_DRY_RUN") == "true" {
		log.Warn().Msg("PLM_DRY_RUN=true: registering memo-only plan builders. Rebalance intents will be recorded on chain without moving liquidity.")
		for _, protocol := range []types.ProtocolID{types.ProtocolOrca, types.ProtocolRaydium, types.ProtocolMeteora} {
			memoBuilder, err := planner.NewMemoPlanner(protocol, signer.PublicKey())
			if err != nil {
				log.Fatal().Err(err).Str("protocol", string(protocol)).Msg("Failed to create memo planner")
			}
			if err := registry.Register(memoBuilder); err != nil {
				log.Fatal().Err(err).Str("protocol", string(protocol)).Msg("Failed to register memo planner")
			}
		}
	} else {
		log.Fatal().Msg("No protocol plan builders are wired in this build. Set PLM_DRY_RUN=true to run the full pipeline with memo-only transactions.")
	}

	// --- 5. Create PLM Instance with Dependency Injection ---
	log.Info().Msg("Creating PLM instance with dependency injection...")

	plmConfig := plm.Config{
		Provider:      provider,
		Registry:      registry,
		Engine:        engine,
		Rebalance:     rebalanceCfg,
		Limits:        safetyLimits,
		Owner:         cfg.OwnerAddress,
		ConfigName:    plm.DEFAULT_CONTROL_CONFIG_NAME,
		ConfigVersion: plm.DEFAULT_CONTROL_CONFIG_VERSION,
	}

	plmInstance, err := plm.NewPLM(plmConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create PLM instance")
	}

	log.Info().Msg("PLM instance created successfully")

	// --- 6. Supervise Main Loop and Web Server ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webServer := web.NewWebServer(webPort, plm.DEFAULT_CONTROL_CONFIG_NAME, plmInstance)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting PLM status server")
		if err := webServer.Start(gctx); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("interval", cfg.CycleInterval.String()).Msg("Starting PLM main loop")
		plmInstance.RunLoop(gctx, cfg.CycleInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("PLM terminated with error")
	}
	log.Info().Msg("PLM shut down cleanly")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
