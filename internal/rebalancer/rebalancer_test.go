package rebalancer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

type fakeExecutor struct {
	closeResult types.ExecResult
	openResult  types.ExecResult
	closed      []uint64
	opens       []openCall
}

type openCall struct {
	key              types.PoolKey
	lower, upper     float64
	amount0, amount1 float64
}

func (e *fakeExecutor) CloseLP(ctx context.Context, chain types.ChainID, tokenID uint64) types.ExecResult {
	e.closed = append(e.closed, tokenID)
	return e.closeResult
}

func (e *fakeExecutor) OpenLP(ctx context.Context, chain types.ChainID, key types.PoolKey, lowerPrice, upperPrice, amount0, amount1 float64) types.ExecResult {
	e.opens = append(e.opens, openCall{key: key, lower: lowerPrice, upper: upperPrice, amount0: amount0, amount1: amount1})
	return e.openResult
}

type fakeReader struct {
	position types.LiquidityPosition
	err      error
}

func (r *fakeReader) Position(ctx context.Context, tokenID uint64, priceOf func(string) float64) (types.LiquidityPosition, error) {
	return r.position, r.err
}

type rebalancerPrices struct{}

func (rebalancerPrices) Price(ctx context.Context, symbol string) (float64, error) { return 1.0, nil }

func rebalancePolicy() types.RiskPolicy {
	return types.RiskPolicy{
		RangeWidthPct:     10.0,
		RangeUtilFloorPct: 25.0,
	}
}

func driftedPosition() types.LiquidityPosition {
	return types.LiquidityPosition{
		Chain:        types.ChainArbitrum,
		Venue:        "uniswap-v3",
		PositionID:   42,
		Pool:         "WETH/USDC-500",
		Token0:       "WETH",
		Token1:       "USDC",
		LowerPrice:   2700.0,
		UpperPrice:   3300.0,
		CurrentPrice: 3400.0, // out of range
		ValueUSD:     1000.0,
	}
}

func centeredPosition() types.LiquidityPosition {
	p := driftedPosition()
	p.CurrentPrice = 3000.0
	return p
}

func newRebalancer(exec *fakeExecutor, reader *fakeReader) *Rebalancer {
	return New(exec, map[types.ChainID]PositionReader{types.ChainArbitrum: reader}, rebalancerPrices{}, rebalancePolicy())
}

func TestNeedsRebalance(t *testing.T) {
	r := newRebalancer(&fakeExecutor{}, &fakeReader{})

	triggered, reason := r.NeedsRebalance(driftedPosition())
	assert.True(t, triggered)
	assert.Contains(t, reason, "outside range")

	triggered, _ = r.NeedsRebalance(centeredPosition())
	assert.False(t, triggered)

	edge := centeredPosition()
	edge.CurrentPrice = 3250.0 // ~16.7% utilization, below the 25% floor
	triggered, reason = r.NeedsRebalance(edge)
	assert.True(t, triggered)
	assert.Contains(t, reason, "below")
}

func TestRebalanceClosesAndReopensCentered(t *testing.T) {
	exec := &fakeExecutor{
		closeResult: types.ExecResult{
			Outcome: types.OutcomeSuccess, Success: true,
			AmountUSD: 980.0,
			Amounts:   map[string]float64{"WETH": 0.15, "USDC": 470.0},
			Timestamp: time.Now(),
		},
		openResult: types.ExecResult{
			Outcome: types.OutcomeSuccess, Success: true,
			PositionID: 43,
			AmountUSD:  975.0,
			Timestamp:  time.Now(),
		},
	}
	r := newRebalancer(exec, &fakeReader{position: driftedPosition()})

	result, err := r.Rebalance(context.Background(), types.ChainArbitrum, 42, false)

	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, exec.closed)
	require.Len(t, exec.opens, 1)
	reopen := exec.opens[0]
	assert.Equal(t, types.PoolKey("WETH/USDC-500"), reopen.key)
	assert.InDelta(t, 3400.0*0.95, reopen.lower, 1e-6, "new range centered on the current price")
	assert.InDelta(t, 3400.0*1.05, reopen.upper, 1e-6)
	assert.InDelta(t, 0.15, reopen.amount0, 1e-9, "funded by what the close recovered")
	assert.InDelta(t, 470.0, reopen.amount1, 1e-9)
	assert.Equal(t, uint64(43), result.NewPositionID)
	assert.InDelta(t, 980.0, result.RecoveredUSD, 1e-9)
	assert.Contains(t, result.Trigger, "outside range")
}

func TestRebalanceNotTriggered(t *testing.T) {
	exec := &fakeExecutor{}
	r := newRebalancer(exec, &fakeReader{position: centeredPosition()})

	_, err := r.Rebalance(context.Background(), types.ChainArbitrum, 42, false)

	assert.ErrorIs(t, err, ErrNotTriggered)
	assert.Empty(t, exec.closed, "an in-range position is never touched")
}

func TestRebalanceForceSkipsTrigger(t *testing.T) {
	exec := &fakeExecutor{
		closeResult: types.ExecResult{Outcome: types.OutcomeSuccess, Success: true, AmountUSD: 1000.0},
		openResult:  types.ExecResult{Outcome: types.OutcomeSuccess, Success: true, PositionID: 44},
	}
	r := newRebalancer(exec, &fakeReader{position: centeredPosition()})

	result, err := r.Rebalance(context.Background(), types.ChainArbitrum, 42, true)

	require.NoError(t, err)
	assert.Equal(t, "forced rebalance", result.Trigger)
	assert.Len(t, exec.closed, 1)
}

func TestRebalanceCloseFailureLeavesPositionStanding(t *testing.T) {
	exec := &fakeExecutor{closeResult: types.Failed("collect reverted")}
	r := newRebalancer(exec, &fakeReader{position: driftedPosition()})

	result, err := r.Rebalance(context.Background(), types.ChainArbitrum, 42, false)

	assert.ErrorIs(t, err, ErrCloseFailed)
	assert.Empty(t, exec.opens, "no reopen after a failed close")
	assert.False(t, result.Closed.Success)
}

func TestRebalanceReopenFailureReportsRecoveredFunds(t *testing.T) {
	exec := &fakeExecutor{
		closeResult: types.ExecResult{
			Outcome: types.OutcomeSuccess, Success: true,
			AmountUSD: 950.0,
			Amounts:   map[string]float64{"WETH": 0.14, "USDC": 460.0},
		},
		openResult: types.Failed("mint reverted"),
	}
	r := newRebalancer(exec, &fakeReader{position: driftedPosition()})

	result, err := r.Rebalance(context.Background(), types.ChainArbitrum, 42, false)

	assert.ErrorIs(t, err, ErrReopenFailed)
	assert.True(t, result.Closed.Success, "the close still happened and the funds are in the wallet")
	assert.InDelta(t, 950.0, result.RecoveredUSD, 1e-9)
	assert.Zero(t, result.NewPositionID)
}

func TestRebalanceUnknownChain(t *testing.T) {
	r := newRebalancer(&fakeExecutor{}, &fakeReader{})

	_, err := r.Rebalance(context.Background(), types.ChainBase, 42, false)

	assert.ErrorIs(t, err, ErrNoVenue)
}
