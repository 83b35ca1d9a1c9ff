/*

Cycle maintenance. Walks the open liquidity position records each scan cycle
and rebalances whichever positions have drifted past the trigger, keeping the
durable records in step with the venue-side ids the rebalance produces.

*/

package rebalancer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// RecordStore is the narrow repository surface for position records.
type RecordStore interface {
	List(ctx context.Context) ([]types.PositionRecord, error)
	Upsert(ctx context.Context, record types.PositionRecord) error
}

// Maintainer runs trigger-driven rebalances over the recorded positions.
type Maintainer struct {
	rebalancer *Rebalancer
	records    RecordStore
	log        zerolog.Logger
}

// NewMaintainer builds the maintainer.
func NewMaintainer(rebalancer *Rebalancer, records RecordStore) *Maintainer {
	return &Maintainer{
		rebalancer: rebalancer,
		records:    records,
		log:        logger.GetForComponent("lp_maintainer"),
	}
}

// Maintain checks every open liquidity record and rebalances the triggered
// ones. One position failing never stops the walk; each outcome is returned
// as a receipt for the cycle snapshot.
func (m *Maintainer) Maintain(ctx context.Context) []types.ActionReceipt {
	records, err := m.records.List(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Cannot list position records, skipping LP maintenance")
		return nil
	}

	var receipts []types.ActionReceipt
	for _, record := range records {
		if record.Closed || record.Kind != types.StrategyLiquidity {
			continue
		}

		tokenID, err := strconv.ParseUint(record.VenueRef, 10, 64)
		if err != nil {
			m.log.Error().
				Str("recordID", record.ID).
				Str("venueRef", record.VenueRef).
				Msg("Position record carries a non-numeric venue ref, skipping")
			continue
		}

		result, err := m.rebalancer.Rebalance(ctx, record.Chain, tokenID, false)
		if errors.Is(err, ErrNotTriggered) {
			continue
		}

		receipt := types.ActionReceipt{
			Suggestion: types.Suggestion{
				Priority: types.PriorityMedium,
				Kind:     types.SuggestReduceDeployed,
				Chain:    record.Chain,
				Venue:    record.Venue,
				Reason:   result.Trigger,
			},
			Result:    result.Reopened,
			Timestamp: time.Now(),
		}

		if err != nil {
			// A failed close leaves the old position standing; a failed
			// reopen leaves recovered funds in the wallet. Either way the
			// record state must reflect what actually happened.
			if result.Closed.Success {
				m.retireRecord(ctx, record, result.RecoveredUSD)
			} else {
				receipt.Result = result.Closed
			}
			receipts = append(receipts, receipt)
			continue
		}

		m.retireRecord(ctx, record, result.RecoveredUSD)
		m.openRecord(ctx, record, result)
		receipts = append(receipts, receipt)
	}
	return receipts
}

func (m *Maintainer) retireRecord(ctx context.Context, record types.PositionRecord, exitUSD float64) {
	now := time.Now()
	record.Closed = true
	record.ClosedAt = &now
	record.ExitValueUSD = exitUSD
	if err := m.records.Upsert(ctx, record); err != nil {
		m.log.Error().Err(err).Str("recordID", record.ID).Msg("Failed to retire position record")
	}
}

func (m *Maintainer) openRecord(ctx context.Context, previous types.PositionRecord, result Result) {
	record := types.PositionRecord{
		ID:            uuid.New().String(),
		Kind:          types.StrategyLiquidity,
		Chain:         previous.Chain,
		Venue:         previous.Venue,
		VenueRef:      strconv.FormatUint(result.NewPositionID, 10),
		OpenedAt:      time.Now(),
		EntryValueUSD: result.Reopened.AmountUSD,
	}
	if err := m.records.Upsert(ctx, record); err != nil {
		m.log.Error().Err(err).Str("recordID", record.ID).Msg("Failed to record reopened position")
	}
}
