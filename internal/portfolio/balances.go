/*

Chain balance reader. Reads the uninvested wallet holdings on one chain:
native gas token, the stable working asset, and any idle liquid-staking
tokens, each valued against the snapshot's price tape.

*/

package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// Error definitions for zero-tolerance error handling
var (
	ErrBalanceRead = errors.New("balance read failed")
)

// TrackedToken is one ERC-20 the balance reader watches.
type TrackedToken struct {
	Symbol    string
	Address   common.Address
	Decimals  int
	IsStaking bool
}

// ChainBalances reads one chain's wallet holdings through its EVM client.
type ChainBalances struct {
	client       *evm.Client
	nativeSymbol string
	stable       TrackedToken
	staking      []TrackedToken
	log          zerolog.Logger
}

// NewChainBalances builds a balance reader for one chain. The stable token is
// mandatory; staking tokens are whatever the reserve table marks as such.
func NewChainBalances(client *evm.Client, nativeSymbol string, stable TrackedToken, staking []TrackedToken) *ChainBalances {
	return &ChainBalances{
		client:       client,
		nativeSymbol: nativeSymbol,
		stable:       stable,
		staking:      staking,
		log:          logger.GetForComponent("balances"),
	}
}

func (b *ChainBalances) Chain() types.ChainID { return b.client.Chain() }

// Balance reads native, stable and staking-token holdings in one pass. A
// single unreadable token fails the whole chain read; the aggregator records
// it and the other chains carry on.
func (b *ChainBalances) Balance(ctx context.Context, priceOf func(string) float64) (types.ChainBalance, error) {
	balance := types.ChainBalance{
		Chain:        b.client.Chain(),
		NativeSymbol: b.nativeSymbol,
	}

	nativeWei, err := b.client.NativeBalance(ctx)
	if err != nil {
		return types.ChainBalance{}, errors.Join(ErrBalanceRead, fmt.Errorf("native on %s: %w", b.client.Chain(), err))
	}
	balance.NativeAmount = utils.BalanceToFloat64(nativeWei, 18)
	balance.NativeUSD = balance.NativeAmount * priceOf(b.nativeSymbol)

	stableRaw, err := b.client.TokenBalance(ctx, b.stable.Address)
	if err != nil {
		return types.ChainBalance{}, errors.Join(ErrBalanceRead, fmt.Errorf("%s on %s: %w", b.stable.Symbol, b.client.Chain(), err))
	}
	balance.StableAmount = utils.BalanceToFloat64(stableRaw, b.stable.Decimals)
	balance.StableUSD = balance.StableAmount * priceOf(b.stable.Symbol)

	for _, token := range b.staking {
		raw, err := b.client.TokenBalance(ctx, token.Address)
		if err != nil {
			return types.ChainBalance{}, errors.Join(ErrBalanceRead, fmt.Errorf("%s on %s: %w", token.Symbol, b.client.Chain(), err))
		}
		amount := utils.BalanceToFloat64(raw, token.Decimals)
		if amount <= 0 {
			continue
		}
		valueUSD := amount * priceOf(token.Symbol)
		balance.StakedTokens = append(balance.StakedTokens, types.TokenBalance{
			Symbol:   token.Symbol,
			Amount:   amount,
			ValueUSD: valueUSD,
		})
		balance.TotalUSD += valueUSD
	}

	balance.TotalUSD += balance.NativeUSD + balance.StableUSD
	return balance, nil
}
