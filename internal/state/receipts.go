// ./internal/state/receipts.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/windrose-labs/plm/internal/types"
)

// SaveRebalanceReceipt saves one submission attempt to the journal.
func SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO rebalance_receipts (
			cycle_id, cycle_number, protocol, position_id, pool_id,
			drift_bps, threshold_bps,
			old_lower_price, old_upper_price, new_lower_price, new_upper_price,
			signature, confirmed, error_kind, error_message, slot,
			compute_unit_limit, compute_unit_price_micro_lamports,
			submitted_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(
		query,
		receipt.CycleID, receipt.CycleNumber, string(receipt.Protocol), receipt.PositionID, receipt.PoolID,
		receipt.DriftBps, receipt.ThresholdBps,
		receipt.OldLowerPrice, receipt.OldUpperPrice, receipt.NewLowerPrice, receipt.NewUpperPrice,
		receipt.Signature, receipt.Confirmed, string(receipt.ErrorKind), receipt.ErrorMessage, int64(receipt.Slot),
		int64(receipt.ComputeUnitLimit), int64(receipt.ComputeUnitPriceMicroLamports),
		receipt.SubmittedAt, receipt.FinishedAt,
	).Scan(&receiptID)

	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("position", receipt.PositionID).
		Bool("confirmed", receipt.Confirmed).
		Msg("Rebalance receipt saved to database")

	return receiptID, nil
}

// GetRecentReceipts retrieves the most recent journal rows, newest first.
func GetRecentReceipts(limit int) ([]types.RebalanceReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT
			receipt_id, created_at, cycle_id, cycle_number, protocol, position_id, pool_id,
			drift_bps, threshold_bps,
			old_lower_price, old_upper_price, new_lower_price, new_upper_price,
			signature, confirmed, error_kind, error_message, slot,
			compute_unit_limit, compute_unit_price_micro_lamports,
			submitted_at, finished_at
		FROM rebalance_receipts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent receipts")
		return nil, fmt.Errorf("failed to query recent receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.RebalanceReceipt
	for rows.Next() {
		var receipt types.RebalanceReceipt
		var protocol, errorKind string
		var signature, errorMessage sql.NullString
		var slot, computeUnitLimit, computeUnitPrice int64
		var submittedAt, finishedAt sql.NullTime

		err := rows.Scan(
			&receipt.ReceiptID, &receipt.CreatedAt, &receipt.CycleID, &receipt.CycleNumber, &protocol, &receipt.PositionID, &receipt.PoolID,
			&receipt.DriftBps, &receipt.ThresholdBps,
			&receipt.OldLowerPrice, &receipt.OldUpperPrice, &receipt.NewLowerPrice, &receipt.NewUpperPrice,
			&signature, &receipt.Confirmed, &errorKind, &errorMessage, &slot,
			&computeUnitLimit, &computeUnitPrice,
			&submittedAt, &finishedAt,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan receipt row")
			continue // Skip this row and continue with others
		}

		receipt.Protocol = types.ProtocolID(protocol)
		receipt.ErrorKind = types.ErrorKind(errorKind)
		receipt.Signature = signature.String
		receipt.ErrorMessage = errorMessage.String
		receipt.Slot = uint64(slot)
		receipt.ComputeUnitLimit = uint32(computeUnitLimit)
		receipt.ComputeUnitPriceMicroLamports = uint64(computeUnitPrice)
		if submittedAt.Valid {
			receipt.SubmittedAt = submittedAt.Time
		}
		if finishedAt.Valid {
			receipt.FinishedAt = finishedAt.Time
		}

		receipts = append(receipts, receipt)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Info().Int("count", len(receipts)).Int("limit", limit).Msg("Retrieved recent receipts")
	return receipts, nil
}
