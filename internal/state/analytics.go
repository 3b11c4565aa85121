package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/windrose-labs/plm/internal/types"
)

// JournalSummary represents aggregated statistics over the receipt journal
type JournalSummary struct {
	TotalReceipts     int     `json:"total_receipts"`
	ConfirmedReceipts int     `json:"confirmed_receipts"`
	RevertedReceipts  int     `json:"reverted_receipts"`
	TimedOutReceipts  int     `json:"timed_out_receipts"`
	AvgDriftBps       float64 `json:"avg_drift_bps"`
	LastReceiptAt     string  `json:"last_receipt_at,omitempty"`
}

// GetJournalSummary retrieves aggregated journal statistics
func GetJournalSummary() (*JournalSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &JournalSummary{}

	query := `
		SELECT
			COUNT(*) as total_receipts,
			COUNT(CASE WHEN confirmed THEN 1 END) as confirmed_receipts,
			COUNT(CASE WHEN error_kind = 'ON_CHAIN_REVERT' THEN 1 END) as reverted_receipts,
			COUNT(CASE WHEN error_kind = 'CONFIRMATION_TIMEOUT' THEN 1 END) as timed_out_receipts,
			COALESCE(AVG(drift_bps), 0) as avg_drift_bps,
			MAX(created_at) as last_receipt_at
		FROM rebalance_receipts
	`

	var lastReceiptAt sql.NullString
	err := DB.QueryRow(query).Scan(
		&summary.TotalReceipts,
		&summary.ConfirmedReceipts,
		&summary.RevertedReceipts,
		&summary.TimedOutReceipts,
		&summary.AvgDriftBps,
		&lastReceiptAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get journal summary: %w", err)
	}

	if lastReceiptAt.Valid {
		summary.LastReceiptAt = lastReceiptAt.String
	}

	log.Info().
		Int("totalReceipts", summary.TotalReceipts).
		Int("confirmedReceipts", summary.ConfirmedReceipts).
		Msg("Retrieved journal summary")

	return summary, nil
}

// GetReceiptByID retrieves a specific receipt by its ID
func GetReceiptByID(receiptID int64) (*types.RebalanceReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
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
		WHERE receipt_id = $1
	`

	var receipt types.RebalanceReceipt
	var protocol, errorKind string
	var signature, errorMessage sql.NullString
	var slot, computeUnitLimit, computeUnitPrice int64
	var submittedAt, finishedAt sql.NullTime

	err := DB.QueryRow(query, receiptID).Scan(
		&receipt.ReceiptID, &receipt.CreatedAt, &receipt.CycleID, &receipt.CycleNumber, &protocol, &receipt.PositionID, &receipt.PoolID,
		&receipt.DriftBps, &receipt.ThresholdBps,
		&receipt.OldLowerPrice, &receipt.OldUpperPrice, &receipt.NewLowerPrice, &receipt.NewUpperPrice,
		&signature, &receipt.Confirmed, &errorKind, &errorMessage, &slot,
		&computeUnitLimit, &computeUnitPrice,
		&submittedAt, &finishedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("receipt with ID %d not found", receiptID)
		}
		log.Error().Err(err).Int64("receipt_id", receiptID).Msg("Failed to query receipt by ID")
		return nil, fmt.Errorf("failed to query receipt by ID: %w", err)
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

	log.Info().Int64("receipt_id", receiptID).Msg("Retrieved receipt by ID")
	return &receipt, nil
}
