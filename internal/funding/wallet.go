package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/bridge"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// ChainWallet adapts one chain client to the orchestrator's Wallet surface.
type ChainWallet struct {
	client        *evm.Client
	wrappedNative common.Address
}

// NewChainWallet wraps the chain client. wrappedNativeAddress is the chain's
// wrapped-native token contract.
func NewChainWallet(client *evm.Client, wrappedNativeAddress string) *ChainWallet {
	return &ChainWallet{
		client:        client,
		wrappedNative: common.HexToAddress(wrappedNativeAddress),
	}
}

// Address returns the operating wallet address.
func (w *ChainWallet) Address() string {
	return w.client.Wallet().Hex()
}

// TokenBalance returns the wallet's balance of the token in human units.
func (w *ChainWallet) TokenBalance(ctx context.Context, tokenAddress string, decimals int) (float64, error) {
	raw, err := w.client.TokenBalance(ctx, common.HexToAddress(tokenAddress))
	if err != nil {
		return 0, err
	}
	return utils.BigIntToFloat64(raw, decimals)
}

// NativeBalance returns the wallet's native balance in human units.
func (w *ChainWallet) NativeBalance(ctx context.Context) (float64, error) {
	raw, err := w.client.NativeBalance(ctx)
	if err != nil {
		return 0, err
	}
	return utils.BigIntToFloat64(raw, 18)
}

// WrapNative deposits amount of native currency into the wrapped token.
func (w *ChainWallet) WrapNative(ctx context.Context, amount float64) (evm.TxOutcome, error) {
	value, err := utils.Float64ToBigInt(amount, 18)
	if err != nil {
		return evm.TxOutcome{}, err
	}
	return w.client.SubmitAndWait(ctx, w.wrappedNative, evm.EncodeWrapDeposit(), value)
}

// AggregatorRouter adapts the bridge client plus the per-chain clients to the
// orchestrator's Router surface.
type AggregatorRouter struct {
	aggregator *bridge.Client
	clients    map[types.ChainID]*evm.Client
}

// NewAggregatorRouter builds the router.
func NewAggregatorRouter(aggregator *bridge.Client, clients map[types.ChainID]*evm.Client) *AggregatorRouter {
	return &AggregatorRouter{aggregator: aggregator, clients: clients}
}

// GetQuote delegates to the aggregator.
func (r *AggregatorRouter) GetQuote(ctx context.Context, req bridge.QuoteRequest) (bridge.Quote, error) {
	return r.aggregator.GetQuote(ctx, req)
}

// Execute submits the quoted route on the named chain.
func (r *AggregatorRouter) Execute(ctx context.Context, chain types.ChainID, req bridge.QuoteRequest, quote bridge.Quote) (evm.TxOutcome, error) {
	client, ok := r.clients[chain]
	if !ok {
		return evm.TxOutcome{}, errors.Join(ErrNoWallet, fmt.Errorf("chain %s", chain))
	}
	return r.aggregator.Execute(ctx, client, req, quote)
}
