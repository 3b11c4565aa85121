/*

This file manages the persistent global tick counter. The counter is stored
in the database so cycle numbering survives restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ensureTickCounterTable creates the tick_counter table if it doesn't exist
func ensureTickCounterTable() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	createTableSQL := `
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

	_, err := DB.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create tick_counter table: %w", err)
	}

	log.Debug().Msg("Ensured tick_counter table exists")
	return nil
}

// GetCurrentTick retrieves the current tick number from the database
func GetCurrentTick() (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	// Ensure the table exists
	if err := ensureTickCounterTable(); err != nil {
		return 0, err
	}

	query := `SELECT current_tick FROM tick_counter WHERE id = 1;`

	var currentTick int64
	row := DB.QueryRow(query)
	err := row.Scan(&currentTick)

	if err != nil {
		if err == sql.ErrNoRows {
			// This should not happen due to the INSERT in ensureTickCounterTable
			log.Warn().Msg("No tick counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current tick number: %w", err)
	}

	log.Debug().Int64("currentTick", currentTick).Msg("Retrieved current tick number")
	return currentTick, nil
}

// IncrementTick increments the tick counter and returns the new value
func IncrementTick() (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	// Ensure the table exists
	if err := ensureTickCounterTable(); err != nil {
		return 0, err
	}

	updateQuery := `
		UPDATE tick_counter
		SET current_tick = current_tick + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_tick;`

	var newTick int64
	row := DB.QueryRow(updateQuery)
	err := row.Scan(&newTick)

	if err != nil {
		return 0, fmt.Errorf("failed to increment tick number: %w", err)
	}

	log.Info().Int64("newTick", newTick).Msg("Incremented tick counter")
	return newTick, nil
}

// ResetTick resets the tick counter to a specific value (for testing/maintenance)
func ResetTick(tickNumber int64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	// Ensure the table exists
	if err := ensureTickCounterTable(); err != nil {
		return err
	}

	if tickNumber < 0 {
		return fmt.Errorf("tick number cannot be negative: %d", tickNumber)
	}

	updateQuery := `
		UPDATE tick_counter
		SET current_tick = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`

	result, err := DB.Exec(updateQuery, tickNumber)
	if err != nil {
		return fmt.Errorf("failed to reset tick number to %d: %w", tickNumber, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting tick number")
	}

	log.Warn().Int64("tickNumber", tickNumber).Msg("Reset tick counter")
	return nil
}
