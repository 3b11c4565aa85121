// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/windrose-labs/plm/internal/types"
)

// ControlParametersRecord is one stored version of the control surface: the
// rebalance config and safety limits the controller ran with, kept for audit.
type ControlParametersRecord struct {
	ParamsID    int64                 `json:"params_id"`
	Version     int                   `json:"version"`
	ConfigName  string                `json:"config_name"`
	IsActive    bool                  `json:"is_active"`
	ActivatedAt time.Time             `json:"activated_at"`
	Rebalance   types.RebalanceConfig `json:"rebalance"`
	Limits      types.SafetyLimits    `json:"limits"`
}

// SaveControlParameters saves a new version of control parameters.
func SaveControlParameters(rebalance types.RebalanceConfig, limits types.SafetyLimits, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE control_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO control_parameters (
            version, config_name, is_active, activated_at, created_at,
            threshold_bps, target_width_bps, min_rebalance_interval_seconds, gas_priority,
            min_position_size_usd, max_position_size_usd, max_slippage_bps,
            min_tvl_usd, min_volume_24h_usd, max_price_impact_bps
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8, $9,
            $10, $11, $12,
            $13, $14, $15
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		rebalance.ThresholdBps, rebalance.TargetWidthBps, int64(rebalance.MinRebalanceInterval.Seconds()), string(rebalance.GasPriority),
		limits.MinPositionSizeUSD, limits.MaxPositionSizeUSD, limits.MaxSlippageBps,
		limits.MinTvlUSD, limits.MinVolume24hUSD, limits.MaxPriceImpactBps,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert control parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved control parameters")
	return paramsID, nil
}

// LoadActiveControlParameters loads the currently active control parameters.
func LoadActiveControlParameters(configName string) (*ControlParametersRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            params_id, version, config_name, is_active, activated_at,
            threshold_bps, target_width_bps, min_rebalance_interval_seconds, gas_priority,
            min_position_size_usd, max_position_size_usd, max_slippage_bps,
            min_tvl_usd, min_volume_24h_usd, max_price_impact_bps
        FROM control_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	record := &ControlParametersRecord{}
	var intervalSeconds int64
	var gasPriority string
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&record.ParamsID, &record.Version, &record.ConfigName, &record.IsActive, &record.ActivatedAt,
		&record.Rebalance.ThresholdBps, &record.Rebalance.TargetWidthBps, &intervalSeconds, &gasPriority,
		&record.Limits.MinPositionSizeUSD, &record.Limits.MaxPositionSizeUSD, &record.Limits.MaxSlippageBps,
		&record.Limits.MinTvlUSD, &record.Limits.MinVolume24hUSD, &record.Limits.MaxPriceImpactBps,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active control parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active control parameters for config '%s': %w", configName, err)
	}

	record.Rebalance.MinRebalanceInterval = time.Duration(intervalSeconds) * time.Second
	record.Rebalance.GasPriority = types.GasPriority(gasPriority)

	log.Info().Str("config", configName).Msg("Loaded active control parameters")
	return record, nil
}

// GetActiveControlParametersID returns the params_id of the currently active control parameters
func GetActiveControlParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM control_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)

	if err != nil {
		if err == sql.ErrNoRows {
			// No active parameters found - this is valid, return nil
			log.Debug().Str("config", configName).Msg("No active control parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active control parameters ID for config '%s': %w", configName, err)
	}

	log.Debug().
		Str("config", configName).
		Int64("params_id", paramsID).
		Msg("Retrieved active control parameters ID")

	return &paramsID, nil
}
