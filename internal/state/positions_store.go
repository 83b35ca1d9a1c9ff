// ./internal/state/positions_store.go
package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// ListPositionRecords returns every stored position record, open and closed.
func ListPositionRecords(ctx context.Context) ([]types.PositionRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, kind, chain, venue, venue_ref, opened_at,
		       entry_value_usd, closed, closed_at, exit_value_usd
		FROM position_records
		ORDER BY opened_at;`

	rows, err := DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list position records: %w", err)
	}
	defer rows.Close()

	var records []types.PositionRecord
	for rows.Next() {
		record, err := scanPositionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate position records: %w", err)
	}
	return records, nil
}

// GetPositionRecord loads one record by id. The bool reports existence.
func GetPositionRecord(ctx context.Context, id string) (types.PositionRecord, bool, error) {
	if DB == nil {
		return types.PositionRecord{}, false, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, kind, chain, venue, venue_ref, opened_at,
		       entry_value_usd, closed, closed_at, exit_value_usd
		FROM position_records
		WHERE id = $1;`

	record, err := scanPositionRecord(DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return types.PositionRecord{}, false, nil
	}
	if err != nil {
		return types.PositionRecord{}, false, fmt.Errorf("failed to get position record %s: %w", id, err)
	}
	return record, true, nil
}

// UpsertPositionRecord inserts the record or replaces the stored row with the
// caller's version.
func UpsertPositionRecord(ctx context.Context, record types.PositionRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if record.ID == "" {
		return fmt.Errorf("position record id cannot be empty")
	}

	var exitValue sql.NullFloat64
	if record.Closed {
		exitValue = sql.NullFloat64{Float64: record.ExitValueUSD, Valid: true}
	}

	query := `
		INSERT INTO position_records (
			id, kind, chain, venue, venue_ref, opened_at,
			entry_value_usd, closed, closed_at, exit_value_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			chain = EXCLUDED.chain,
			venue = EXCLUDED.venue,
			venue_ref = EXCLUDED.venue_ref,
			opened_at = EXCLUDED.opened_at,
			entry_value_usd = EXCLUDED.entry_value_usd,
			closed = EXCLUDED.closed,
			closed_at = EXCLUDED.closed_at,
			exit_value_usd = EXCLUDED.exit_value_usd;`

	_, err := DB.ExecContext(
		ctx, query,
		record.ID, record.Kind, record.Chain, record.Venue, record.VenueRef, record.OpenedAt,
		record.EntryValueUSD, record.Closed, record.ClosedAt, exitValue,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position record %s: %w", record.ID, err)
	}

	log.Debug().
		Str("id", record.ID).
		Str("kind", string(record.Kind)).
		Bool("closed", record.Closed).
		Msg("Position record upserted")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPositionRecord(row rowScanner) (types.PositionRecord, error) {
	var (
		record    types.PositionRecord
		closedAt  sql.NullTime
		exitValue sql.NullFloat64
	)
	err := row.Scan(
		&record.ID, &record.Kind, &record.Chain, &record.Venue, &record.VenueRef,
		&record.OpenedAt, &record.EntryValueUSD, &record.Closed, &closedAt, &exitValue,
	)
	if err != nil {
		return types.PositionRecord{}, err
	}
	if closedAt.Valid {
		record.ClosedAt = &closedAt.Time
	}
	if exitValue.Valid {
		record.ExitValueUSD = exitValue.Float64
	}
	return record, nil
}

// PositionStore adapts the package functions to the narrow repository surface
// the aggregator and executors consume.
type PositionStore struct{}

func (PositionStore) List(ctx context.Context) ([]types.PositionRecord, error) {
	return ListPositionRecords(ctx)
}

func (PositionStore) Get(ctx context.Context, id string) (types.PositionRecord, bool, error) {
	return GetPositionRecord(ctx, id)
}

func (PositionStore) Upsert(ctx context.Context, record types.PositionRecord) error {
	return UpsertPositionRecord(ctx, record)
}
