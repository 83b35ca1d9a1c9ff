package funding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/bridge"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

const (
	usdcAddress = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	wethAddress = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
)

type fakeWallet struct {
	address  string
	balances map[string]float64 // token address -> human amount
	native   float64
	wrapped  []float64
}

func (w *fakeWallet) TokenBalance(ctx context.Context, tokenAddress string, decimals int) (float64, error) {
	return w.balances[tokenAddress], nil
}

func (w *fakeWallet) NativeBalance(ctx context.Context) (float64, error) { return w.native, nil }

func (w *fakeWallet) WrapNative(ctx context.Context, amount float64) (evm.TxOutcome, error) {
	w.wrapped = append(w.wrapped, amount)
	w.native -= amount
	w.balances[wethAddress] += amount
	return evm.TxOutcome{Hash: "0xwrap"}, nil
}

func (w *fakeWallet) Address() string { return w.address }

type fakeRouter struct {
	quote    bridge.Quote
	quoteErr error
	requests []bridge.QuoteRequest
	executed []bridge.QuoteRequest
}

func (r *fakeRouter) GetQuote(ctx context.Context, req bridge.QuoteRequest) (bridge.Quote, error) {
	r.requests = append(r.requests, req)
	if r.quoteErr != nil {
		return bridge.Quote{}, r.quoteErr
	}
	return r.quote, nil
}

func (r *fakeRouter) Execute(ctx context.Context, chain types.ChainID, req bridge.QuoteRequest, quote bridge.Quote) (evm.TxOutcome, error) {
	r.executed = append(r.executed, req)
	return evm.TxOutcome{Hash: "0xroute"}, nil
}

type fakeLookup struct{ reserves map[string]types.Reserve }

func (f *fakeLookup) ReserveBySymbol(symbol string) (types.Reserve, bool) {
	r, ok := f.reserves[symbol]
	return r, ok
}

type staticPrices struct{ prices map[string]float64 }

func (p *staticPrices) Price(ctx context.Context, symbol string) (float64, error) {
	return p.prices[symbol], nil
}

func testLookup() *fakeLookup {
	return &fakeLookup{reserves: map[string]types.Reserve{
		"USDC": {Symbol: "USDC", Address: usdcAddress, Decimals: 6},
		"WETH": {Symbol: "WETH", Address: wethAddress, Decimals: 18},
	}}
}

func testPrices() *staticPrices {
	return &staticPrices{prices: map[string]float64{"USDC": 1.0, "WETH": 3000.0, "ETH": 3000.0}}
}

func fundingPolicy() types.RiskPolicy {
	return types.RiskPolicy{
		MaxPriceImpactPct:  3.0,
		NegligibleSidePct:  2.0,
		GasReserveFloorUSD: 25.0,
	}
}

func TestEnsureRejectsEmptyRequirement(t *testing.T) {
	o := New(nil, &fakeRouter{}, testLookup(), testPrices(), fundingPolicy(), "", "USDC", "WETH", true)

	_, err := o.Ensure(context.Background(), Requirement{Chain: types.ChainArbitrum})

	assert.ErrorIs(t, err, ErrNothingRequired)
}

func TestEnsureRejectsUnknownChain(t *testing.T) {
	o := New(map[types.ChainID]Wallet{}, &fakeRouter{}, testLookup(), testPrices(), fundingPolicy(), "", "USDC", "WETH", true)

	_, err := o.Ensure(context.Background(), Requirement{Chain: types.ChainBase, Token0: "USDC", Amount0USD: 100.0})

	assert.ErrorIs(t, err, ErrNoWallet)
}

func TestEnsureSwapsStableIntoMissingSide(t *testing.T) {
	// $200 of USDC on-chain, nothing else: half must be swapped into WETH.
	wallet := &fakeWallet{address: "0xme", balances: map[string]float64{usdcAddress: 200.0}}
	router := &fakeRouter{}
	o := New(
		map[types.ChainID]Wallet{types.ChainArbitrum: wallet},
		router, testLookup(), testPrices(), fundingPolicy(),
		"", "USDC", "WETH", true,
	)

	report, err := o.Ensure(context.Background(), Requirement{
		Chain:      types.ChainArbitrum,
		Token0:     "WETH",
		Token1:     "USDC",
		Amount0USD: 100.0,
		Amount1USD: 100.0,
	})

	require.NoError(t, err)
	require.Len(t, router.requests, 1, "one swap quote, no bridge")
	swap := router.requests[0]
	assert.Equal(t, types.ChainArbitrum, swap.FromChain)
	assert.Equal(t, swap.FromChain, swap.ToChain, "same-chain swap, not a bridge")
	assert.Equal(t, usdcAddress, swap.FromToken)
	assert.Equal(t, wethAddress, swap.ToToken)
	assert.Equal(t, "100000000", swap.FromAmount, "$100 in 6-decimal raw units")
	assert.Empty(t, router.executed, "dry-run never executes")
	assert.InDelta(t, 100.0, report.Balance0USD, 1e-6, "WETH side credited with the quoted swap")
	assert.Contains(t, report.Steps[len(report.Steps)-1], "dry-run")
}

func TestEnsureBridgesWhenChainIsEmpty(t *testing.T) {
	target := &fakeWallet{address: "0xme", balances: map[string]float64{}}
	source := &fakeWallet{address: "0xsource", balances: map[string]float64{usdcAddress: 10000.0}}
	router := &fakeRouter{}
	o := New(
		map[types.ChainID]Wallet{types.ChainArbitrum: target, types.ChainEthereum: source},
		router, testLookup(), testPrices(), fundingPolicy(),
		types.ChainEthereum, "USDC", "WETH", true,
	)

	report, err := o.Ensure(context.Background(), Requirement{
		Chain:      types.ChainArbitrum,
		Token0:     "WETH",
		Token1:     "USDC",
		Amount0USD: 100.0,
		Amount1USD: 100.0,
	})

	require.NoError(t, err)
	require.Len(t, router.requests, 2)
	bridgeReq := router.requests[0]
	assert.Equal(t, types.ChainEthereum, bridgeReq.FromChain)
	assert.Equal(t, types.ChainArbitrum, bridgeReq.ToChain)
	assert.Equal(t, "200000000", bridgeReq.FromAmount, "both sides bridged as stable")
	assert.Equal(t, "0xsource", bridgeReq.FromAddress)
	assert.InDelta(t, 100.0, report.Balance0USD, 1e-6)
	assert.InDelta(t, 100.0, report.Balance1USD, 1e-6)
}

func TestEnsureAbortsOnPriceImpact(t *testing.T) {
	wallet := &fakeWallet{address: "0xme", balances: map[string]float64{usdcAddress: 1000.0}}
	router := &fakeRouter{quote: bridge.Quote{PriceImpactPct: 5.0}}
	o := New(
		map[types.ChainID]Wallet{types.ChainArbitrum: wallet},
		router, testLookup(), testPrices(), fundingPolicy(),
		"", "USDC", "WETH", true,
	)

	_, err := o.Ensure(context.Background(), Requirement{
		Chain:      types.ChainArbitrum,
		Token0:     "WETH",
		Token1:     "USDC",
		Amount0USD: 500.0,
		Amount1USD: 500.0,
	})

	require.ErrorIs(t, err, ErrImpactTooHigh)
	assert.Empty(t, router.executed)
}

func TestEnsureAbortsOnNegligibleSide(t *testing.T) {
	// One full WETH side, $10 of stable against a $1000 target, and no way to
	// top the stable side up. Opening would revert at the venue.
	wallet := &fakeWallet{address: "0xme", balances: map[string]float64{
		wethAddress: 1000.0 / 3000.0,
		usdcAddress: 10.0,
	}}
	o := New(
		map[types.ChainID]Wallet{types.ChainArbitrum: wallet},
		&fakeRouter{}, testLookup(), testPrices(), fundingPolicy(),
		"", "USDC", "WETH", true,
	)

	_, err := o.Ensure(context.Background(), Requirement{
		Chain:      types.ChainArbitrum,
		Token0:     "WETH",
		Token1:     "USDC",
		Amount0USD: 1000.0,
		Amount1USD: 1000.0,
	})

	assert.ErrorIs(t, err, ErrSideNegligible)
}

func TestEnsureWrapsNativeAsLastResort(t *testing.T) {
	// The swap executes but the venue delivers nothing visible (live mode with
	// a stalled aggregator fill); the wrap step covers the wrapped-native side
	// from the gas balance surplus.
	wallet := &fakeWallet{
		address:  "0xme",
		balances: map[string]float64{usdcAddress: 1000.0},
		native:   1.0, // $3000 of ETH
	}
	router := &fakeRouter{}
	o := New(
		map[types.ChainID]Wallet{types.ChainArbitrum: wallet},
		router, testLookup(), testPrices(), fundingPolicy(),
		"", "USDC", "WETH", false,
	)

	report, err := o.Ensure(context.Background(), Requirement{
		Chain:      types.ChainArbitrum,
		Token0:     "WETH",
		Amount0USD: 500.0,
	})

	require.NoError(t, err)
	require.Len(t, router.executed, 1, "the swap was submitted")
	require.Len(t, wallet.wrapped, 1)
	assert.InDelta(t, 500.0/3000.0, wallet.wrapped[0], 1e-9)
	assert.InDelta(t, 500.0, report.Balance0USD, 1e-6)
}

func TestEnsureDryRunMatchesLiveVerdict(t *testing.T) {
	// The same requirement must reach the same verdict with execution skipped.
	requirement := Requirement{
		Chain:      types.ChainArbitrum,
		Token0:     "WETH",
		Token1:     "USDC",
		Amount0USD: 100.0,
		Amount1USD: 100.0,
	}
	badRouter := &fakeRouter{quote: bridge.Quote{PriceImpactPct: 9.9}}

	for _, dryRun := range []bool{true, false} {
		wallet := &fakeWallet{address: "0xme", balances: map[string]float64{usdcAddress: 200.0}}
		o := New(
			map[types.ChainID]Wallet{types.ChainArbitrum: wallet},
			badRouter, testLookup(), testPrices(), fundingPolicy(),
			"", "USDC", "WETH", dryRun,
		)
		_, err := o.Ensure(context.Background(), requirement)
		assert.ErrorIs(t, err, ErrImpactTooHigh, "dryRun=%v", dryRun)
	}
	assert.Empty(t, badRouter.executed)
}
