/*

Strategy operations. The programmatic surface an external collaborator (a
CLI, an ops console, another service) drives positions through. Each
operation composes the funding orchestrator, the execution primitives and the
strategy controllers into one call, and keeps the durable position records in
step with what actually happened on the venue.

*/

package strategies

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/engine"
	"github.com/MRT0B13/NovaOS-sub002/internal/funding"
	"github.com/MRT0B13/NovaOS-sub002/internal/leverage"
	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/rebalancer"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownPool   = errors.New("pool is not in the registry")
	ErrFundingFailed = errors.New("funding the position failed")
	ErrPriceUnknown  = errors.New("cannot price pool assets")
	ErrOpenFailed    = errors.New("open failed")
)

// ExecSurface is the slice of the execution primitives the manager drives.
type ExecSurface interface {
	OpenLP(ctx context.Context, chain types.ChainID, key types.PoolKey, lowerPrice, upperPrice, amount0, amount1 float64) types.ExecResult
	CloseLP(ctx context.Context, chain types.ChainID, tokenID uint64) types.ExecResult
	OpenHedge(ctx context.Context, coin string, notionalUSD, leverage float64) types.ExecResult
	CloseHedge(ctx context.Context, coin string) types.ExecResult
}

// Funder provides the asset-sourcing fallback chain for two-sided opens.
type Funder interface {
	Ensure(ctx context.Context, req funding.Requirement) (funding.Report, error)
}

// LoopController drives the leverage state machine.
type LoopController interface {
	Run(ctx context.Context, params leverage.Params) leverage.Result
	Unwind(ctx context.Context, params leverage.Params) leverage.Result
}

// SnapshotSource builds the aggregated portfolio view.
type SnapshotSource interface {
	Snapshot(ctx context.Context) types.PortfolioSnapshot
}

// RegistryView resolves pools and serves the reserve table.
type RegistryView interface {
	PoolByKey(key types.PoolKey) (types.PoolMeta, bool)
	Reserves(ctx context.Context) []types.Reserve
}

// RecordStore is the narrow repository surface for position records.
type RecordStore interface {
	List(ctx context.Context) ([]types.PositionRecord, error)
	Upsert(ctx context.Context, record types.PositionRecord) error
}

// PriceSource supplies USD prices for sizing.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Manager exposes the per-strategy operations.
type Manager struct {
	exec       ExecSurface
	funder     Funder
	loop       LoopController
	rebalancer *rebalancer.Rebalancer
	snapshots  SnapshotSource
	registry   RegistryView
	records    RecordStore
	prices     PriceSource
	policy     types.RiskPolicy
	log        zerolog.Logger
}

// New builds the manager.
func New(
	exec ExecSurface,
	funder Funder,
	loop LoopController,
	lpRebalancer *rebalancer.Rebalancer,
	snapshots SnapshotSource,
	reg RegistryView,
	records RecordStore,
	prices PriceSource,
	policy types.RiskPolicy,
) *Manager {
	return &Manager{
		exec:       exec,
		funder:     funder,
		loop:       loop,
		rebalancer: lpRebalancer,
		snapshots:  snapshots,
		registry:   reg,
		records:    records,
		prices:     prices,
		policy:     policy,
		log:        logger.GetForComponent("strategies"),
	}
}

// PortfolioSnapshot returns the current aggregated portfolio view.
func (m *Manager) PortfolioSnapshot(ctx context.Context) types.PortfolioSnapshot {
	return m.snapshots.Snapshot(ctx)
}

// AnalyseRebalance runs the decision engine over a snapshot.
func (m *Manager) AnalyseRebalance(ctx context.Context, snapshot types.PortfolioSnapshot) []types.Suggestion {
	return engine.Analyse(snapshot, m.registry.Reserves(ctx), m.policy)
}

// OpenLiquidityPosition sources both pool assets through the funding fallback
// chain, then opens a range position centered on the current pool price and
// records it. totalUSD is split evenly across the two sides.
func (m *Manager) OpenLiquidityPosition(ctx context.Context, chain types.ChainID, key types.PoolKey, totalUSD float64) (types.ExecResult, error) {
	meta, ok := m.registry.PoolByKey(key)
	if !ok {
		return types.Failed(fmt.Sprintf("unknown pool %s", key)), errors.Join(ErrUnknownPool, fmt.Errorf("pool %s", key))
	}

	sideUSD := totalUSD / 2
	report, err := m.funder.Ensure(ctx, funding.Requirement{
		Chain:      chain,
		Token0:     meta.Token0,
		Token1:     meta.Token1,
		Amount0USD: sideUSD,
		Amount1USD: sideUSD,
	})
	if err != nil {
		return types.Failed(err.Error()), errors.Join(ErrFundingFailed, err)
	}
	m.log.Info().
		Strs("fundingSteps", report.Steps).
		Float64("balance0USD", report.Balance0USD).
		Float64("balance1USD", report.Balance1USD).
		Msg("Position funding complete")

	price0, err0 := m.prices.Price(ctx, meta.Token0)
	price1, err1 := m.prices.Price(ctx, meta.Token1)
	if err0 != nil || err1 != nil || price0 <= 0 || price1 <= 0 {
		return types.Failed("cannot price pool assets"), ErrPriceUnknown
	}

	// Pool price is token1 per token0; the oracle ratio is a close enough
	// center because the executor applies the slippage bound on mint.
	center := price0 / price1
	halfWidth := m.policy.RangeWidthPct / 2.0 / 100.0
	lower := center * (1 - halfWidth)
	upper := center * (1 + halfWidth)

	amount0 := minFloat(report.Balance0, sideUSD/price0)
	amount1 := minFloat(report.Balance1, sideUSD/price1)

	result := m.exec.OpenLP(ctx, chain, key, lower, upper, amount0, amount1)
	if !result.Success {
		return result, errors.Join(ErrOpenFailed, errors.New(result.Error))
	}

	if result.PositionID != 0 {
		record := types.PositionRecord{
			ID:            uuid.New().String(),
			Kind:          types.StrategyLiquidity,
			Chain:         chain,
			Venue:         "uniswap-v3",
			VenueRef:      strconv.FormatUint(result.PositionID, 10),
			OpenedAt:      time.Now(),
			EntryValueUSD: result.AmountUSD,
		}
		if err := m.records.Upsert(ctx, record); err != nil {
			m.log.Error().Err(err).Uint64("tokenID", result.PositionID).Msg("Position opened but record write failed")
		}
	}
	return result, nil
}

// CloseLiquidityPosition closes the position and retires its record.
func (m *Manager) CloseLiquidityPosition(ctx context.Context, chain types.ChainID, tokenID uint64) (types.ExecResult, error) {
	result := m.exec.CloseLP(ctx, chain, tokenID)
	if !result.Success {
		return result, errors.New(result.Error)
	}
	m.retireRecordByRef(ctx, strconv.FormatUint(tokenID, 10), result.AmountUSD)
	return result, nil
}

// RebalanceLiquidityPosition forces a close-and-reopen regardless of trigger
// state and updates the records.
func (m *Manager) RebalanceLiquidityPosition(ctx context.Context, chain types.ChainID, tokenID uint64) (rebalancer.Result, error) {
	result, err := m.rebalancer.Rebalance(ctx, chain, tokenID, true)
	if result.Closed.Success {
		m.retireRecordByRef(ctx, strconv.FormatUint(tokenID, 10), result.RecoveredUSD)
	}
	if err == nil && result.NewPositionID != 0 {
		record := types.PositionRecord{
			ID:            uuid.New().String(),
			Kind:          types.StrategyLiquidity,
			Chain:         chain,
			Venue:         "uniswap-v3",
			VenueRef:      strconv.FormatUint(result.NewPositionID, 10),
			OpenedAt:      time.Now(),
			EntryValueUSD: result.Reopened.AmountUSD,
		}
		if upsertErr := m.records.Upsert(ctx, record); upsertErr != nil {
			m.log.Error().Err(upsertErr).Uint64("tokenID", result.NewPositionID).Msg("Rebalanced but record write failed")
		}
	}
	return result, err
}

// OpenLeveragedStake runs the leverage loop to the requested target LTV.
func (m *Manager) OpenLeveragedStake(ctx context.Context, params leverage.Params) leverage.Result {
	return m.loop.Run(ctx, params)
}

// UnwindLeveragedStake unwinds a looped position back to zero debt.
func (m *Manager) UnwindLeveragedStake(ctx context.Context, params leverage.Params) leverage.Result {
	return m.loop.Unwind(ctx, params)
}

// OpenHedge opens a short perp hedge and records it.
func (m *Manager) OpenHedge(ctx context.Context, coin string, notionalUSD, lev float64) (types.ExecResult, error) {
	result := m.exec.OpenHedge(ctx, coin, notionalUSD, lev)
	if !result.Success {
		return result, errors.New(result.Error)
	}
	record := types.PositionRecord{
		ID:            uuid.New().String(),
		Kind:          types.StrategyHedge,
		Chain:         "hyperliquid",
		Venue:         "perp",
		VenueRef:      coin,
		OpenedAt:      time.Now(),
		EntryValueUSD: notionalUSD / lev,
	}
	if err := m.records.Upsert(ctx, record); err != nil {
		m.log.Error().Err(err).Str("coin", coin).Msg("Hedge opened but record write failed")
	}
	return result, nil
}

// CloseHedge closes the hedge for a coin and retires its record.
func (m *Manager) CloseHedge(ctx context.Context, coin string) (types.ExecResult, error) {
	result := m.exec.CloseHedge(ctx, coin)
	if !result.Success {
		return result, errors.New(result.Error)
	}
	m.retireRecordByRef(ctx, coin, result.AmountUSD)
	return result, nil
}

// retireRecordByRef closes the open record carrying the venue ref, if any.
func (m *Manager) retireRecordByRef(ctx context.Context, venueRef string, exitUSD float64) {
	records, err := m.records.List(ctx)
	if err != nil {
		m.log.Error().Err(err).Str("venueRef", venueRef).Msg("Cannot list records to retire position")
		return
	}
	for _, record := range records {
		if record.Closed || record.VenueRef != venueRef {
			continue
		}
		now := time.Now()
		record.Closed = true
		record.ClosedAt = &now
		record.ExitValueUSD = exitUSD
		if err := m.records.Upsert(ctx, record); err != nil {
			m.log.Error().Err(err).Str("recordID", record.ID).Msg("Failed to retire position record")
		}
		return
	}
	m.log.Warn().Str("venueRef", venueRef).Msg("Closed a position with no open record")
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
