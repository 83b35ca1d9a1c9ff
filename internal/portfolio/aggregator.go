/*

Portfolio aggregator. Fans out to every chain balance reader and venue
tracker in parallel and joins the results into one snapshot with consistent
totals. A failing source is recorded in the snapshot's error list and never
aborts the other sources; prices are fetched once per snapshot so every USD
figure in it is measured against the same tape.

*/

package portfolio

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// BalanceReader reads one chain's uninvested wallet balances.
type BalanceReader interface {
	Chain() types.ChainID
	Balance(ctx context.Context, priceOf func(string) float64) (types.ChainBalance, error)
}

// LendingReader reads one chain's lending position.
type LendingReader interface {
	Chain() types.ChainID
	Position(ctx context.Context, priceOf func(string) float64) (types.LendingPosition, error)
}

// LiquidityReader reads one chain's liquidity positions by token id.
type LiquidityReader interface {
	Chain() types.ChainID
	Position(ctx context.Context, tokenID uint64, priceOf func(string) float64) (types.LiquidityPosition, error)
}

// HedgeReader reads the open perp hedges.
type HedgeReader interface {
	Positions(ctx context.Context) ([]types.HedgePosition, error)
}

// RecordStore is the narrow repository surface for durable position records.
type RecordStore interface {
	List(ctx context.Context) ([]types.PositionRecord, error)
	Upsert(ctx context.Context, record types.PositionRecord) error
}

// PriceSource serves the snapshot's single price fetch.
type PriceSource interface {
	BeginScan()
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// ReserveSource enumerates the reserve table for price symbol discovery.
type ReserveSource interface {
	Reserves(ctx context.Context) []types.Reserve
}

// Aggregator builds portfolio snapshots.
type Aggregator struct {
	balances  []BalanceReader
	lending   []LendingReader
	liquidity map[types.ChainID]LiquidityReader
	hedge     HedgeReader
	records   RecordStore
	prices    PriceSource
	reserves  ReserveSource
	log       zerolog.Logger
}

// New builds the aggregator. Any reader may be nil/empty; the snapshot simply
// has nothing from that family.
func New(
	balances []BalanceReader,
	lendingReaders []LendingReader,
	liquidityReaders map[types.ChainID]LiquidityReader,
	hedge HedgeReader,
	records RecordStore,
	prices PriceSource,
	reserves ReserveSource,
) *Aggregator {
	return &Aggregator{
		balances:  balances,
		lending:   lendingReaders,
		liquidity: liquidityReaders,
		hedge:     hedge,
		records:   records,
		prices:    prices,
		reserves:  reserves,
		log:       logger.GetForComponent("portfolio"),
	}
}

// Snapshot assembles the full portfolio view. The returned snapshot is always
// usable; per-source failures are listed in its Errors field.
func (a *Aggregator) Snapshot(ctx context.Context) types.PortfolioSnapshot {
	snapshot := types.PortfolioSnapshot{Timestamp: time.Now()}

	priceOf := a.fetchPrices(ctx, &snapshot)

	openRecords, err := a.records.List(ctx)
	if err != nil {
		snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("position records: %s", err))
	}

	var (
		mu            sync.Mutex
		chainBalances = make([]types.ChainBalance, len(a.balances))
		balanceOK     = make([]bool, len(a.balances))
		lendingPos    = make([]types.LendingPosition, len(a.lending))
		lendingOK     = make([]bool, len(a.lending))
		liquidityPos  []types.LiquidityPosition
		liquidityGone []types.PositionRecord
		hedges        []types.HedgePosition
	)

	// Read-only fan-out: each branch owns its result slot, shared slices are
	// appended under the mutex. Failures land in the snapshot error list.
	group, groupCtx := errgroup.WithContext(ctx)

	for i, reader := range a.balances {
		group.Go(func() error {
			balance, err := reader.Balance(groupCtx, priceOf)
			if err != nil {
				mu.Lock()
				snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("balances %s: %s", reader.Chain(), err))
				mu.Unlock()
				return nil
			}
			chainBalances[i] = balance
			balanceOK[i] = true
			return nil
		})
	}

	for i, reader := range a.lending {
		group.Go(func() error {
			position, err := reader.Position(groupCtx, priceOf)
			if err != nil {
				mu.Lock()
				snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("lending %s: %s", reader.Chain(), err))
				mu.Unlock()
				return nil
			}
			lendingPos[i] = position
			lendingOK[i] = true
			return nil
		})
	}

	for _, record := range openRecords {
		if record.Closed || record.Kind != types.StrategyLiquidity {
			continue
		}
		reader, ok := a.liquidity[record.Chain]
		if !ok {
			continue
		}
		group.Go(func() error {
			tokenID, err := strconv.ParseUint(record.VenueRef, 10, 64)
			if err != nil {
				mu.Lock()
				snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("liquidity record %s: bad venue ref %q", record.ID, record.VenueRef))
				mu.Unlock()
				return nil
			}
			position, err := reader.Position(groupCtx, tokenID, priceOf)
			if err != nil {
				mu.Lock()
				snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("liquidity %s/%s: %s", record.Chain, record.VenueRef, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			if position.ValueUSD > 0 {
				liquidityPos = append(liquidityPos, position)
			} else {
				liquidityGone = append(liquidityGone, record)
			}
			mu.Unlock()
			return nil
		})
	}

	if a.hedge != nil {
		group.Go(func() error {
			positions, err := a.hedge.Positions(groupCtx)
			if err != nil {
				mu.Lock()
				snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("hedges: %s", err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			hedges = positions
			mu.Unlock()
			return nil
		})
	}

	// Branches never return errors; Wait is the join point.
	_ = group.Wait()

	for i, balance := range chainBalances {
		if balanceOK[i] {
			snapshot.Balances = append(snapshot.Balances, balance)
			snapshot.TotalWalletUSD += balance.TotalUSD
		}
	}

	for i, position := range lendingPos {
		if !lendingOK[i] || position.Empty() {
			continue
		}
		snapshot.Allocations = append(snapshot.Allocations, types.StrategyAllocation{
			Kind:         types.StrategyLending,
			Chain:        position.Chain,
			Venue:        position.Venue,
			Label:        fmt.Sprintf("%s lending", position.Chain),
			ValueUSD:     position.NetValueUSD(),
			LoanToValue:  position.LoanToValue(),
			HealthFactor: position.HealthFactor(),
		})
		snapshot.TotalDeployedUSD += position.NetValueUSD()
	}

	for _, position := range liquidityPos {
		snapshot.Allocations = append(snapshot.Allocations, types.StrategyAllocation{
			Kind:             types.StrategyLiquidity,
			Chain:            position.Chain,
			Venue:            position.Venue,
			Label:            fmt.Sprintf("%s LP", position.Pool),
			ValueUSD:         position.ValueUSD,
			RangeUtilization: position.RangeUtilization(),
		})
		snapshot.TotalDeployedUSD += position.ValueUSD
	}

	for _, hedge := range hedges {
		snapshot.Allocations = append(snapshot.Allocations, types.StrategyAllocation{
			Kind:             types.StrategyHedge,
			Venue:            "perp",
			Label:            fmt.Sprintf("%s short", hedge.Coin),
			ValueUSD:         hedge.NotionalUSD / math.Max(hedge.Leverage, 1),
			UnrealizedPnLUSD: hedge.UnrealizedPnLUSD,
			HedgeAtRisk:      hedge.AtRisk(),
		})
		snapshot.TotalDeployedUSD += hedge.NotionalUSD / math.Max(hedge.Leverage, 1)
		snapshot.UnrealizedPnLUSD += hedge.UnrealizedPnLUSD
	}

	a.retireClosedRecords(ctx, liquidityGone, hedges, openRecords, &snapshot)
	a.finalizeTotals(&snapshot)
	return snapshot
}

// retireClosedRecords marks records whose venue-side position no longer
// exists. The exit value of an externally-closed position is unknowable after
// the fact, so the record closes at its entry value and the detection itself
// realizes no PnL; the warning log is the operator's cue to reconcile.
func (a *Aggregator) retireClosedRecords(ctx context.Context, liquidityGone []types.PositionRecord, hedges []types.HedgePosition, openRecords []types.PositionRecord, snapshot *types.PortfolioSnapshot) {
	closeRecord := func(record types.PositionRecord) {
		now := time.Now()
		record.Closed = true
		record.ClosedAt = &now
		record.ExitValueUSD = record.EntryValueUSD
		if err := a.records.Upsert(ctx, record); err != nil {
			snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("record %s: %s", record.ID, err))
			return
		}
		a.log.Warn().
			Str("recordID", record.ID).
			Str("kind", string(record.Kind)).
			Str("venueRef", record.VenueRef).
			Msg("Position closed outside the engine, record retired")
	}

	for _, record := range liquidityGone {
		closeRecord(record)
	}

	openHedgeCoins := make(map[string]bool, len(hedges))
	for _, hedge := range hedges {
		openHedgeCoins[hedge.Coin] = true
	}
	for _, record := range openRecords {
		if record.Closed || record.Kind != types.StrategyHedge {
			continue
		}
		if !openHedgeCoins[record.VenueRef] {
			closeRecord(record)
		}
	}

	for _, record := range openRecords {
		if record.Closed {
			snapshot.RealizedPnLUSD += record.ExitValueUSD - record.EntryValueUSD
		}
	}
}

// finalizeTotals enforces the snapshot's arithmetic invariants.
func (a *Aggregator) finalizeTotals(snapshot *types.PortfolioSnapshot) {
	snapshot.TotalPortfolioUSD = snapshot.TotalWalletUSD + snapshot.TotalDeployedUSD

	if snapshot.TotalPortfolioUSD <= 0 {
		snapshot.CashReservePct = 100
	} else {
		snapshot.CashReservePct = snapshot.TotalWalletUSD / snapshot.TotalPortfolioUSD * 100.0
	}

	for i := range snapshot.Allocations {
		if snapshot.TotalPortfolioUSD > 0 {
			snapshot.Allocations[i].PortfolioPct = snapshot.Allocations[i].ValueUSD / snapshot.TotalPortfolioUSD * 100.0
		}
		if snapshot.Allocations[i].PortfolioPct > snapshot.TopConcentrationPct {
			snapshot.TopConcentrationPct = snapshot.Allocations[i].PortfolioPct
		}
	}
}

// fetchPrices performs the snapshot's single price fetch and returns the
// lookup closure every reader shares.
func (a *Aggregator) fetchPrices(ctx context.Context, snapshot *types.PortfolioSnapshot) func(string) float64 {
	a.prices.BeginScan()

	symbols := []string{"ETH"}
	seen := map[string]bool{"ETH": true}
	for _, reserve := range a.reserves.Reserves(ctx) {
		if !seen[reserve.Symbol] {
			symbols = append(symbols, reserve.Symbol)
			seen[reserve.Symbol] = true
		}
	}

	priceMap, err := a.prices.Prices(ctx, symbols)
	if err != nil {
		snapshot.Errors = append(snapshot.Errors, fmt.Sprintf("prices: %s", err))
	}

	return func(symbol string) float64 {
		return priceMap[symbol]
	}
}
