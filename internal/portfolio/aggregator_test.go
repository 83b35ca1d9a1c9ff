package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

type fakeBalanceReader struct {
	chain   types.ChainID
	balance types.ChainBalance
	err     error
}

func (r *fakeBalanceReader) Chain() types.ChainID { return r.chain }

func (r *fakeBalanceReader) Balance(ctx context.Context, priceOf func(string) float64) (types.ChainBalance, error) {
	return r.balance, r.err
}

type fakeLendingReader struct {
	chain    types.ChainID
	position types.LendingPosition
	err      error
}

func (r *fakeLendingReader) Chain() types.ChainID { return r.chain }

func (r *fakeLendingReader) Position(ctx context.Context, priceOf func(string) float64) (types.LendingPosition, error) {
	return r.position, r.err
}

type fakeLiquidityReader struct {
	chain     types.ChainID
	positions map[uint64]types.LiquidityPosition
	err       error
}

func (r *fakeLiquidityReader) Chain() types.ChainID { return r.chain }

func (r *fakeLiquidityReader) Position(ctx context.Context, tokenID uint64, priceOf func(string) float64) (types.LiquidityPosition, error) {
	if r.err != nil {
		return types.LiquidityPosition{}, r.err
	}
	return r.positions[tokenID], nil
}

type fakeHedgeReader struct {
	positions []types.HedgePosition
	err       error
}

func (r *fakeHedgeReader) Positions(ctx context.Context) ([]types.HedgePosition, error) {
	return r.positions, r.err
}

type recordRepo struct {
	records map[string]types.PositionRecord
	listErr error
}

func newRecordRepo(records ...types.PositionRecord) *recordRepo {
	repo := &recordRepo{records: make(map[string]types.PositionRecord)}
	for _, r := range records {
		repo.records[r.ID] = r
	}
	return repo
}

func (r *recordRepo) List(ctx context.Context) ([]types.PositionRecord, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]types.PositionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *recordRepo) Upsert(ctx context.Context, record types.PositionRecord) error {
	r.records[record.ID] = record
	return nil
}

type scanPrices struct {
	prices map[string]float64
	err    error
	scans  int
	calls  int
}

func (p *scanPrices) BeginScan() { p.scans++ }

func (p *scanPrices) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	p.calls++
	return p.prices, p.err
}

type reserveList struct{ reserves []types.Reserve }

func (r *reserveList) Reserves(ctx context.Context) []types.Reserve { return r.reserves }

func snapshotPrices() *scanPrices {
	return &scanPrices{prices: map[string]float64{"ETH": 3000.0, "WETH": 3000.0, "USDC": 1.0}}
}

func snapshotReserves() *reserveList {
	return &reserveList{reserves: []types.Reserve{
		{Symbol: "USDC", Decimals: 6},
		{Symbol: "WETH", Decimals: 18},
	}}
}

func record(kind types.StrategyKind, venueRef string, entryUSD float64) types.PositionRecord {
	return types.PositionRecord{
		ID:            uuid.New().String(),
		Kind:          kind,
		Chain:         types.ChainArbitrum,
		Venue:         "uniswap-v3",
		VenueRef:      venueRef,
		OpenedAt:      time.Now().Add(-time.Hour),
		EntryValueUSD: entryUSD,
	}
}

func TestSnapshotJoinsAllSources(t *testing.T) {
	lpRecord := record(types.StrategyLiquidity, "42", 3000.0)
	repo := newRecordRepo(lpRecord)
	prices := snapshotPrices()

	a := New(
		[]BalanceReader{&fakeBalanceReader{chain: types.ChainArbitrum, balance: types.ChainBalance{
			Chain: types.ChainArbitrum, NativeUSD: 150.0, StableUSD: 850.0, TotalUSD: 1000.0,
		}}},
		[]LendingReader{&fakeLendingReader{chain: types.ChainArbitrum, position: types.LendingPosition{
			Chain: types.ChainArbitrum, Venue: "aave-v3",
			DepositValueUSD: 2000.0, BorrowValueUSD: 500.0, LiquidationThreshold: 0.78,
		}}},
		map[types.ChainID]LiquidityReader{types.ChainArbitrum: &fakeLiquidityReader{
			chain: types.ChainArbitrum,
			positions: map[uint64]types.LiquidityPosition{42: {
				Chain: types.ChainArbitrum, Venue: "uniswap-v3", PositionID: 42, Pool: "WETH/USDC-500",
				LowerPrice: 2700.0, UpperPrice: 3300.0, CurrentPrice: 3000.0, ValueUSD: 3000.0,
			}},
		}},
		&fakeHedgeReader{positions: []types.HedgePosition{{
			Coin: "ETH", Side: types.HedgeShort,
			NotionalUSD: 3000.0, Leverage: 3.0, UnrealizedPnLUSD: 120.0,
			MarkPrice: 2900.0, LiquidationPrice: 3900.0,
		}}},
		repo, prices, snapshotReserves(),
	)

	snapshot := a.Snapshot(context.Background())

	require.Empty(t, snapshot.Errors)
	assert.Equal(t, 1, prices.scans, "one price scan per snapshot")
	assert.Equal(t, 1, prices.calls)

	assert.InDelta(t, 1000.0, snapshot.TotalWalletUSD, 1e-9)
	// Lending equity 1500 + LP 3000 + hedge margin 1000.
	assert.InDelta(t, 5500.0, snapshot.TotalDeployedUSD, 1e-9)
	assert.InDelta(t, 6500.0, snapshot.TotalPortfolioUSD, 1e-9)
	assert.InDelta(t, 1000.0/6500.0*100, snapshot.CashReservePct, 1e-9)
	assert.InDelta(t, 120.0, snapshot.UnrealizedPnLUSD, 1e-9)

	require.Len(t, snapshot.Allocations, 3)
	byKind := map[types.StrategyKind]types.StrategyAllocation{}
	for _, alloc := range snapshot.Allocations {
		byKind[alloc.Kind] = alloc
	}
	assert.InDelta(t, 1500.0, byKind[types.StrategyLending].ValueUSD, 1e-9)
	assert.InDelta(t, 0.25, byKind[types.StrategyLending].LoanToValue, 1e-9)
	assert.InDelta(t, 100.0, byKind[types.StrategyLiquidity].RangeUtilization, 1e-9)
	assert.InDelta(t, 1000.0, byKind[types.StrategyHedge].ValueUSD, 1e-9, "margin, not notional")
	assert.False(t, byKind[types.StrategyHedge].HedgeAtRisk)

	top := byKind[types.StrategyLiquidity].ValueUSD / 6500.0 * 100
	assert.InDelta(t, top, snapshot.TopConcentrationPct, 1e-9)
}

func TestSnapshotSurvivesFailingSources(t *testing.T) {
	repo := newRecordRepo()
	a := New(
		[]BalanceReader{
			&fakeBalanceReader{chain: types.ChainEthereum, balance: types.ChainBalance{Chain: types.ChainEthereum, TotalUSD: 700.0}},
			&fakeBalanceReader{chain: types.ChainBase, err: errors.New("rpc timeout")},
		},
		[]LendingReader{&fakeLendingReader{chain: types.ChainArbitrum, err: errors.New("pool read reverted")}},
		nil,
		&fakeHedgeReader{err: errors.New("venue 503")},
		repo, snapshotPrices(), snapshotReserves(),
	)

	snapshot := a.Snapshot(context.Background())

	require.Len(t, snapshot.Errors, 3, "every failing source is reported")
	assert.InDelta(t, 700.0, snapshot.TotalWalletUSD, 1e-9, "healthy sources still counted")
	assert.InDelta(t, 700.0, snapshot.TotalPortfolioUSD, 1e-9)
}

func TestSnapshotEmptyPortfolio(t *testing.T) {
	a := New(nil, nil, nil, nil, newRecordRepo(), snapshotPrices(), snapshotReserves())

	snapshot := a.Snapshot(context.Background())

	assert.Zero(t, snapshot.TotalPortfolioUSD)
	assert.InDelta(t, 100.0, snapshot.CashReservePct, 1e-9, "an empty portfolio is all cash")
	assert.Zero(t, snapshot.TopConcentrationPct)
}

func TestSnapshotRetiresExternallyClosedLiquidity(t *testing.T) {
	gone := record(types.StrategyLiquidity, "42", 2500.0)
	repo := newRecordRepo(gone)

	a := New(
		nil, nil,
		map[types.ChainID]LiquidityReader{types.ChainArbitrum: &fakeLiquidityReader{
			chain:     types.ChainArbitrum,
			positions: map[uint64]types.LiquidityPosition{}, // venue reports nothing for 42
		}},
		nil, repo, snapshotPrices(), snapshotReserves(),
	)

	snapshot := a.Snapshot(context.Background())

	retired := repo.records[gone.ID]
	assert.True(t, retired.Closed)
	require.NotNil(t, retired.ClosedAt)
	assert.InDelta(t, 2500.0, retired.ExitValueUSD, 1e-9, "exit is unknowable, recorded at entry value")
	assert.Zero(t, snapshot.RealizedPnLUSD, "external detection realizes no PnL")
	assert.Empty(t, snapshot.Allocations)
}

func TestSnapshotRetiresExternallyClosedHedge(t *testing.T) {
	hedgeRecord := record(types.StrategyHedge, "ETH", 1000.0)
	hedgeRecord.Chain = "hyperliquid"
	hedgeRecord.Venue = "perp"
	repo := newRecordRepo(hedgeRecord)

	a := New(nil, nil, nil,
		&fakeHedgeReader{positions: nil}, // no open hedges on the venue
		repo, snapshotPrices(), snapshotReserves(),
	)

	a.Snapshot(context.Background())

	assert.True(t, repo.records[hedgeRecord.ID].Closed)
}

func TestSnapshotKeepsRecordsForLivePositions(t *testing.T) {
	lpRecord := record(types.StrategyLiquidity, "42", 3000.0)
	hedgeRecord := record(types.StrategyHedge, "ETH", 1000.0)
	repo := newRecordRepo(lpRecord, hedgeRecord)

	a := New(
		nil, nil,
		map[types.ChainID]LiquidityReader{types.ChainArbitrum: &fakeLiquidityReader{
			chain: types.ChainArbitrum,
			positions: map[uint64]types.LiquidityPosition{42: {
				Chain: types.ChainArbitrum, PositionID: 42, ValueUSD: 3100.0,
				LowerPrice: 2700.0, UpperPrice: 3300.0, CurrentPrice: 3000.0,
			}},
		}},
		&fakeHedgeReader{positions: []types.HedgePosition{{Coin: "ETH", NotionalUSD: 3000.0, Leverage: 3.0}}},
		repo, snapshotPrices(), snapshotReserves(),
	)

	a.Snapshot(context.Background())

	assert.False(t, repo.records[lpRecord.ID].Closed)
	assert.False(t, repo.records[hedgeRecord.ID].Closed)
}

func TestSnapshotIsRepeatable(t *testing.T) {
	lpRecord := record(types.StrategyLiquidity, "42", 3000.0)
	repo := newRecordRepo(lpRecord)
	prices := snapshotPrices()

	a := New(
		[]BalanceReader{&fakeBalanceReader{chain: types.ChainArbitrum, balance: types.ChainBalance{
			Chain: types.ChainArbitrum, TotalUSD: 1000.0,
		}}},
		nil,
		map[types.ChainID]LiquidityReader{types.ChainArbitrum: &fakeLiquidityReader{
			chain: types.ChainArbitrum,
			positions: map[uint64]types.LiquidityPosition{42: {
				Chain: types.ChainArbitrum, PositionID: 42, ValueUSD: 3000.0,
				LowerPrice: 2700.0, UpperPrice: 3300.0, CurrentPrice: 3000.0,
			}},
		}},
		nil, repo, prices, snapshotReserves(),
	)

	first := a.Snapshot(context.Background())
	second := a.Snapshot(context.Background())

	assert.Equal(t, first.TotalPortfolioUSD, second.TotalPortfolioUSD, "no double-counting across scans")
	assert.Equal(t, first.TotalDeployedUSD, second.TotalDeployedUSD)
	assert.Len(t, second.Allocations, len(first.Allocations))
	assert.False(t, repo.records[lpRecord.ID].Closed)
	assert.Equal(t, 2, prices.scans, "each snapshot fetches its own tape")
}

func TestSnapshotRealizedPnLFromClosedRecords(t *testing.T) {
	winner := record(types.StrategyLiquidity, "7", 1000.0)
	winner.Closed = true
	winner.ExitValueUSD = 1150.0
	loser := record(types.StrategyLiquidity, "8", 1000.0)
	loser.Closed = true
	loser.ExitValueUSD = 900.0
	repo := newRecordRepo(winner, loser)

	a := New(nil, nil, nil, nil, repo, snapshotPrices(), snapshotReserves())

	snapshot := a.Snapshot(context.Background())

	assert.InDelta(t, 50.0, snapshot.RealizedPnLUSD, 1e-9, "150 gain less 100 loss")
}

func TestSnapshotRecordListFailureIsDegradedNotFatal(t *testing.T) {
	repo := newRecordRepo()
	repo.listErr = errors.New("db down")

	a := New(
		[]BalanceReader{&fakeBalanceReader{chain: types.ChainEthereum, balance: types.ChainBalance{TotalUSD: 500.0}}},
		nil, nil, nil, repo, snapshotPrices(), snapshotReserves(),
	)

	snapshot := a.Snapshot(context.Background())

	require.Len(t, snapshot.Errors, 1)
	assert.Contains(t, snapshot.Errors[0], "position records")
	assert.InDelta(t, 500.0, snapshot.TotalWalletUSD, 1e-9)
}
