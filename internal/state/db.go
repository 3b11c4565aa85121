// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS control_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			threshold_bps DECIMAL(12, 4) NOT NULL,
			target_width_bps DECIMAL(12, 4) NOT NULL,
			min_rebalance_interval_seconds BIGINT NOT NULL,
			gas_priority VARCHAR(16) NOT NULL,
			min_position_size_usd DECIMAL(20, 8) NOT NULL,
			max_position_size_usd DECIMAL(20, 8) NOT NULL,
			max_slippage_bps DECIMAL(12, 4) NOT NULL,
			min_tvl_usd DECIMAL(20, 8) NOT NULL,
			min_volume_24h_usd DECIMAL(20, 8) NOT NULL,
			max_price_impact_bps DECIMAL(12, 4) NOT NULL,
			CONSTRAINT uq_control_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_control_parameters_config_active_timestamp ON control_parameters(config_name, is_active, activated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_control_parameters_config_timestamp ON control_parameters(config_name, activated_at DESC);

		CREATE TABLE IF NOT EXISTS rebalance_receipts (
			receipt_id SERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			cycle_id VARCHAR(36) NOT NULL,
			cycle_number BIGINT NOT NULL,
			protocol VARCHAR(20) NOT NULL,
			position_id VARCHAR(64) NOT NULL,
			pool_id VARCHAR(64) NOT NULL,
			drift_bps DECIMAL(14, 4) NOT NULL,
			threshold_bps DECIMAL(14, 4) NOT NULL,
			old_lower_price DECIMAL(30, 12) NOT NULL,
			old_upper_price DECIMAL(30, 12) NOT NULL,
			new_lower_price DECIMAL(30, 12) NOT NULL,
			new_upper_price DECIMAL(30, 12) NOT NULL,
			signature VARCHAR(128),
			confirmed BOOLEAN NOT NULL,
			error_kind VARCHAR(40),
			error_message TEXT,
			slot BIGINT,
			compute_unit_limit BIGINT NOT NULL,
			compute_unit_price_micro_lamports BIGINT NOT NULL,
			submitted_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_created_at ON rebalance_receipts(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_position_id ON rebalance_receipts(position_id);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_protocol ON rebalance_receipts(protocol);

		-- Tick counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS tick_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_tick BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO tick_counter (id, current_tick)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured (control_parameters, rebalance_receipts, tick_counter).")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
