package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

type fakeSource struct {
	reserves []types.Reserve
	pools    []types.PoolMeta
	err      error
	fetches  int
}

func (f *fakeSource) FetchReserves(ctx context.Context) ([]types.Reserve, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.reserves, nil
}

func (f *fakeSource) FetchPools(ctx context.Context) ([]types.PoolMeta, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pools, nil
}

func liveTables() ([]types.Reserve, []types.PoolMeta) {
	return []types.Reserve{
			{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, SupplyAPY: 4.8},
			{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		}, []types.PoolMeta{
			{Key: "WETH/USDC-500", Token0: "USDC", Token1: "WETH", FeeTierBps: 500, TvlUSD: 120_000_000},
		}
}

func TestNewServesSeedTables(t *testing.T) {
	r := New(&fakeSource{})

	assert.True(t, r.Seeded())
	assert.Zero(t, r.Generation(), "seed tables are generation zero")

	reserve, ok := r.ReserveBySymbol("USDC")
	require.True(t, ok, "symbols resolve before any refresh")
	assert.Equal(t, 6, reserve.Decimals)

	_, ok = r.PoolByKey("WETH/USDC-500")
	assert.True(t, ok)
}

func TestRefreshReplacesSeed(t *testing.T) {
	reserves, pools := liveTables()
	source := &fakeSource{reserves: reserves, pools: pools}
	r := New(source)

	err := r.Refresh(context.Background(), true)

	require.NoError(t, err)
	assert.False(t, r.Seeded())
	assert.Equal(t, uint64(1), r.Generation())

	reserve, ok := r.ReserveBySymbol("USDC")
	require.True(t, ok)
	assert.InDelta(t, 4.8, reserve.SupplyAPY, 1e-9, "live values replaced the seed")
}

func TestRefreshHonorsTTL(t *testing.T) {
	reserves, pools := liveTables()
	source := &fakeSource{reserves: reserves, pools: pools}
	r := New(source)

	require.NoError(t, r.Refresh(context.Background(), true))
	fetchesAfterFirst := source.fetches

	// A fresh cache answers without touching the source.
	_ = r.Reserves(context.Background())
	_ = r.Pools(context.Background())
	assert.Equal(t, fetchesAfterFirst, source.fetches)

	// Force ignores freshness.
	require.NoError(t, r.Refresh(context.Background(), true))
	assert.Equal(t, fetchesAfterFirst+1, source.fetches)
	assert.Equal(t, uint64(2), r.Generation())
}

func TestRefreshFailureKeepsLastGoodTables(t *testing.T) {
	reserves, pools := liveTables()
	source := &fakeSource{reserves: reserves, pools: pools}
	r := New(source)
	require.NoError(t, r.Refresh(context.Background(), true))

	source.err = errors.New("rpc unreachable")
	err := r.Refresh(context.Background(), true)

	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, uint64(1), r.Generation(), "a failed fetch never advances the generation")

	got := r.Reserves(context.Background())
	require.Len(t, got, 2, "last good tables are still served")
}

func TestRefreshFailureGatesRetries(t *testing.T) {
	source := &fakeSource{err: errors.New("rpc unreachable")}
	r := New(source)

	err := r.Refresh(context.Background(), true)
	require.ErrorIs(t, err, ErrFetchFailed)
	fetchesAfterFailure := source.fetches

	// The next non-forced attempt is inside the backoff window.
	err = r.Refresh(context.Background(), false)
	assert.ErrorIs(t, err, ErrBackoffGate)
	assert.Equal(t, fetchesAfterFailure, source.fetches, "the gated attempt never reaches the source")

	// Forced attempts go through regardless.
	_ = r.Refresh(context.Background(), true)
	assert.Greater(t, source.fetches, fetchesAfterFailure)
}

func TestRefreshRejectsEmptyFetch(t *testing.T) {
	source := &fakeSource{}
	r := New(source)

	err := r.Refresh(context.Background(), true)

	assert.ErrorIs(t, err, ErrEmptyFetch)
	assert.True(t, r.Seeded(), "an empty live answer never replaces the seed")
}

func TestRefreshNilSource(t *testing.T) {
	r := New(nil)
	assert.ErrorIs(t, r.Refresh(context.Background(), true), ErrNilSource)
}

func TestResolveSymbol(t *testing.T) {
	r := New(&fakeSource{})

	symbol, decimals := r.ResolveSymbol("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	assert.Equal(t, "USDC", symbol, "matching is case-insensitive")
	assert.Equal(t, 6, decimals)

	symbol, decimals = r.ResolveSymbol("0x1111111111111111111111111111111111111111")
	assert.Equal(t, "0x1111..1111", symbol, "unknown addresses degrade to a fragment")
	assert.Equal(t, 18, decimals)
}

func TestSuccessfulRefreshResetsGate(t *testing.T) {
	source := &fakeSource{err: errors.New("rpc unreachable")}
	r := New(source)
	_ = r.Refresh(context.Background(), true)

	reserves, pools := liveTables()
	source.err = nil
	source.reserves = reserves
	source.pools = pools
	require.NoError(t, r.Refresh(context.Background(), true))

	r.mu.RLock()
	nextAttempt := r.nextAttempt
	r.mu.RUnlock()
	assert.True(t, nextAttempt.IsZero(), "success clears the backoff gate")
	assert.False(t, r.fetchedAt.After(time.Now()))
}
