package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

type fakeSupplier struct {
	chain  types.ChainID
	symbol string
	amount float64
	result types.ExecResult
}

func (f *fakeSupplier) Supply(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult {
	f.chain = chain
	f.symbol = symbol
	f.amount = amount
	return f.result
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) Price(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.err
}

func TestExecRunnerDepositsIdleStable(t *testing.T) {
	supplier := &fakeSupplier{result: types.ExecResult{Outcome: types.OutcomeSuccess, Success: true}}
	runner := NewExecRunner(supplier, &fakePrices{price: 0.999}, "USDC")

	result, acted := runner.Apply(context.Background(), types.Suggestion{
		Kind:      types.SuggestLendingDeposit,
		Chain:     types.ChainArbitrum,
		AmountUSD: 500.0,
	})

	require.True(t, acted)
	assert.True(t, result.Success)
	assert.Equal(t, types.ChainArbitrum, supplier.chain)
	assert.Equal(t, "USDC", supplier.symbol)
	assert.InDelta(t, 500.0/0.999, supplier.amount, 1e-9)
}

func TestExecRunnerLeavesAdvisorySuggestionsAlone(t *testing.T) {
	supplier := &fakeSupplier{}
	runner := NewExecRunner(supplier, &fakePrices{price: 1.0}, "USDC")

	advisory := []types.SuggestionKind{
		types.SuggestReduceDeployed,
		types.SuggestBridgeTopUp,
		types.SuggestStakeNative,
		types.SuggestDiversify,
	}
	for _, kind := range advisory {
		_, acted := runner.Apply(context.Background(), types.Suggestion{Kind: kind, AmountUSD: 100.0})
		assert.False(t, acted, "kind %s must stay advisory", kind)
	}
	assert.Empty(t, supplier.symbol, "the executor was never touched")
}

func TestExecRunnerRejectsUnpricedDeposit(t *testing.T) {
	runner := NewExecRunner(&fakeSupplier{}, &fakePrices{err: errors.New("feed down")}, "USDC")

	result, acted := runner.Apply(context.Background(), types.Suggestion{
		Kind:      types.SuggestLendingDeposit,
		AmountUSD: 500.0,
	})

	require.True(t, acted)
	assert.False(t, result.Success)
	assert.Equal(t, types.OutcomeFailed, result.Outcome)
}

func TestExecRunnerRejectsZeroAmount(t *testing.T) {
	runner := NewExecRunner(&fakeSupplier{}, &fakePrices{price: 1.0}, "USDC")

	result, acted := runner.Apply(context.Background(), types.Suggestion{Kind: types.SuggestLendingDeposit})

	require.True(t, acted)
	assert.False(t, result.Success)
}
