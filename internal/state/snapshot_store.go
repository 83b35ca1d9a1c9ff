// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	initialSnapshotJSON, err := json.Marshal(snapshot.InitialSnapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal initial_snapshot: %w", err)
	}

	suggestionsJSON, err := json.Marshal(snapshot.Suggestions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	actionReceiptsJSON, err := json.Marshal(snapshot.ActionReceipts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal action_receipts: %w", err)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, snapshot_timestamp,
			initial_portfolio_usd, initial_snapshot,
			suggestions,
			final_portfolio_usd, action_receipts,
			transaction_hashes, total_gas_fee_usd, net_change_usd, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRowContext(
		ctx, query,
		snapshot.CycleNumber, snapshot.Timestamp,
		snapshot.InitialPortfolioUSD, initialSnapshotJSON,
		suggestionsJSON,
		snapshot.FinalPortfolioUSD, actionReceiptsJSON,
		pq.Array(snapshot.TransactionHashes), snapshot.TotalGasFeeUSD, snapshot.NetChangeUSD,
		pq.Array(snapshot.Errors),
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Float64("final_portfolio_usd", snapshot.FinalPortfolioUSD).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

// ListCycleSnapshots returns the most recent cycle snapshots, newest first.
func ListCycleSnapshots(ctx context.Context, limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp,
		       initial_portfolio_usd, initial_snapshot,
		       suggestions,
		       final_portfolio_usd, action_receipts,
		       transaction_hashes, total_gas_fee_usd, net_change_usd, errors
		FROM cycle_snapshots
		ORDER BY cycle_number DESC
		LIMIT $1;`

	rows, err := DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.CycleSnapshot
	for rows.Next() {
		snapshot, err := scanCycleSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycle snapshots: %w", err)
	}
	return snapshots, nil
}

// GetCycleSnapshot loads one snapshot by cycle number. The bool reports
// existence.
func GetCycleSnapshot(ctx context.Context, cycleNumber int) (types.CycleSnapshot, bool, error) {
	if DB == nil {
		return types.CycleSnapshot{}, false, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp,
		       initial_portfolio_usd, initial_snapshot,
		       suggestions,
		       final_portfolio_usd, action_receipts,
		       transaction_hashes, total_gas_fee_usd, net_change_usd, errors
		FROM cycle_snapshots
		WHERE cycle_number = $1
		ORDER BY snapshot_id DESC
		LIMIT 1;`

	snapshot, err := scanCycleSnapshot(DB.QueryRowContext(ctx, query, cycleNumber))
	if err == sql.ErrNoRows {
		return types.CycleSnapshot{}, false, nil
	}
	if err != nil {
		return types.CycleSnapshot{}, false, fmt.Errorf("failed to get cycle snapshot %d: %w", cycleNumber, err)
	}
	return snapshot, true, nil
}

func scanCycleSnapshot(row rowScanner) (types.CycleSnapshot, error) {
	var (
		snapshot            types.CycleSnapshot
		initialSnapshotJSON []byte
		suggestionsJSON     []byte
		actionReceiptsJSON  []byte
		gasFee              sql.NullFloat64
		netChange           sql.NullFloat64
	)
	err := row.Scan(
		&snapshot.SnapshotID, &snapshot.CycleNumber, &snapshot.Timestamp,
		&snapshot.InitialPortfolioUSD, &initialSnapshotJSON,
		&suggestionsJSON,
		&snapshot.FinalPortfolioUSD, &actionReceiptsJSON,
		pq.Array(&snapshot.TransactionHashes), &gasFee, &netChange,
		pq.Array(&snapshot.Errors),
	)
	if err != nil {
		return types.CycleSnapshot{}, err
	}

	if len(initialSnapshotJSON) > 0 {
		if err := json.Unmarshal(initialSnapshotJSON, &snapshot.InitialSnapshot); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal initial_snapshot: %w", err)
		}
	}
	if len(suggestionsJSON) > 0 {
		if err := json.Unmarshal(suggestionsJSON, &snapshot.Suggestions); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal suggestions: %w", err)
		}
	}
	if len(actionReceiptsJSON) > 0 {
		if err := json.Unmarshal(actionReceiptsJSON, &snapshot.ActionReceipts); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal action_receipts: %w", err)
		}
	}
	snapshot.TotalGasFeeUSD = gasFee.Float64
	snapshot.NetChangeUSD = netChange.Float64
	return snapshot, nil
}

// CycleStore adapts the package functions to the scheduler's narrow surface.
type CycleStore struct{}

func (CycleStore) NextCycleNumber(ctx context.Context) (int, error) {
	return IncrementCycleNumber(ctx)
}

func (CycleStore) SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) error {
	_, err := SaveCycleSnapshot(ctx, snapshot)
	return err
}
