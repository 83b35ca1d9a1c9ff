package leverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/funding"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/bridge"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

type converterRouter struct {
	quote    bridge.Quote
	requests []bridge.QuoteRequest
	executed int
}

func (r *converterRouter) GetQuote(ctx context.Context, req bridge.QuoteRequest) (bridge.Quote, error) {
	r.requests = append(r.requests, req)
	return r.quote, nil
}

func (r *converterRouter) Execute(ctx context.Context, chain types.ChainID, req bridge.QuoteRequest, quote bridge.Quote) (evm.TxOutcome, error) {
	r.executed++
	return evm.TxOutcome{Hash: "0xswap"}, nil
}

type converterLookup struct{}

func (converterLookup) ReserveBySymbol(symbol string) (types.Reserve, bool) {
	switch symbol {
	case "USDC":
		return types.Reserve{Symbol: "USDC", Address: "0xusdc", Decimals: 6}, true
	case "wstETH":
		return types.Reserve{Symbol: "wstETH", Address: "0xwsteth", Decimals: 18}, true
	}
	return types.Reserve{}, false
}

type converterWallet struct{}

func (converterWallet) TokenBalance(ctx context.Context, tokenAddress string, decimals int) (float64, error) {
	return 0, nil
}
func (converterWallet) NativeBalance(ctx context.Context) (float64, error) { return 0, nil }
func (converterWallet) WrapNative(ctx context.Context, amount float64) (evm.TxOutcome, error) {
	return evm.TxOutcome{}, nil
}
func (converterWallet) Address() string { return "0xme" }

type converterPrices struct{}

func (converterPrices) Price(ctx context.Context, symbol string) (float64, error) {
	if symbol == "USDC" {
		return 1.0, nil
	}
	return 4000.0, nil
}

func newRouteConverter(router *converterRouter, dryRun bool) *RouteConverter {
	return NewRouteConverter(
		router, converterLookup{},
		map[types.ChainID]funding.Wallet{types.ChainEthereum: converterWallet{}},
		converterPrices{},
		types.RiskPolicy{MaxPriceImpactPct: 3.0},
		dryRun,
	)
}

func TestConvertSizesFromAmountByPrice(t *testing.T) {
	router := &converterRouter{}
	converter := newRouteConverter(router, false)

	err := converter.Convert(context.Background(), types.ChainEthereum, "USDC", "wstETH", 500.0)

	require.NoError(t, err)
	require.Len(t, router.requests, 1)
	assert.Equal(t, "500000000", router.requests[0].FromAmount, "$500 of 6-decimal stable")
	assert.Equal(t, "0xusdc", router.requests[0].FromToken)
	assert.Equal(t, "0xwsteth", router.requests[0].ToToken)
	assert.Equal(t, 1, router.executed)
}

func TestConvertRejectsHighImpact(t *testing.T) {
	router := &converterRouter{quote: bridge.Quote{PriceImpactPct: 7.5}}
	converter := newRouteConverter(router, false)

	err := converter.Convert(context.Background(), types.ChainEthereum, "USDC", "wstETH", 500.0)

	assert.ErrorIs(t, err, ErrConvertImpact)
	assert.Zero(t, router.executed)
}

func TestConvertDryRunQuotesWithoutExecuting(t *testing.T) {
	router := &converterRouter{}
	converter := newRouteConverter(router, true)

	err := converter.Convert(context.Background(), types.ChainEthereum, "USDC", "wstETH", 500.0)

	require.NoError(t, err)
	assert.Len(t, router.requests, 1, "the route is still validated")
	assert.Zero(t, router.executed)
}

func TestConvertRejectsUnknownSymbol(t *testing.T) {
	converter := newRouteConverter(&converterRouter{}, false)

	err := converter.Convert(context.Background(), types.ChainEthereum, "DOGE", "wstETH", 500.0)

	assert.ErrorIs(t, err, ErrConvertFailed)
}
