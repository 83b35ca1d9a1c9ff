/*

Lending market adapter for an Aave v3 style pool. The adapter owns the raw
contract interaction: reserve discovery, account/position reads and the four
state-changing operations. Safety checks and dry-run handling live in the
executor, not here.

*/

package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// Error definitions for zero-tolerance error handling
var (
	ErrReserveRead   = errors.New("reserve data read failed")
	ErrAccountRead   = errors.New("account data read failed")
	ErrApprovalFailed = errors.New("token approval failed")
)

// The pool reports account totals in its base currency with 8 decimals.
const baseCurrencyDecimals = 8

// One ray is 1e27; pool rates are expressed in ray per second-compounded APR.
var ray = new(big.Float).SetFloat64(1e27)

// Asset names one token the market is configured to operate on. Live reserve
// parameters (thresholds, rates) are discovered from the pool; only the token
// identity is configured.
type Asset struct {
	Symbol         string
	Address        string
	Decimals       int
	IsStakingToken bool
	StakingAPY     float64
}

// AccountData is the pool's aggregate view of the wallet.
type AccountData struct {
	TotalCollateralUSD   float64
	TotalDebtUSD         float64
	AvailableBorrowUSD   float64
	LiquidationThreshold float64 // 0.0 to 1.0
	LoanToValue          float64 // 0.0 to 1.0
	HealthFactor         float64
}

// Market adapts one lending pool on one chain.
type Market struct {
	chain  types.ChainID
	client *evm.Client
	pool   common.Address
	assets []Asset
	log    zerolog.Logger
}

// NewMarket builds the adapter for the pool at poolAddress.
func NewMarket(client *evm.Client, poolAddress string, assets []Asset) *Market {
	return &Market{
		chain:  client.Chain(),
		client: client,
		pool:   common.HexToAddress(poolAddress),
		assets: assets,
		log: logger.GetForComponent("lending_market").With().
			Str("chain", string(client.Chain())).Logger(),
	}
}

// Chain returns the chain this market lives on.
func (m *Market) Chain() types.ChainID { return m.chain }

// FetchReserves discovers live reserve parameters for every configured asset.
func (m *Market) FetchReserves(ctx context.Context) ([]types.Reserve, error) {
	reserves := make([]types.Reserve, 0, len(m.assets))
	for _, asset := range m.assets {
		data, err := m.reserveData(ctx, common.HexToAddress(asset.Address))
		if err != nil {
			return nil, errors.Join(ErrReserveRead, fmt.Errorf("reserve %s: %w", asset.Symbol, err))
		}

		reserves = append(reserves, types.Reserve{
			Symbol:               asset.Symbol,
			Address:              asset.Address,
			Decimals:             asset.Decimals,
			LiquidationThreshold: data.liquidationThreshold,
			BorrowCap:            types.DerivedBorrowCap(data.liquidationThreshold),
			SupplyAPY:            rayToAPY(data.liquidityRate),
			BorrowAPY:            rayToAPY(data.variableBorrowRate),
			IsStakingToken:       asset.IsStakingToken,
			StakingAPY:           asset.StakingAPY,
		})
	}
	return reserves, nil
}

// AccountData reads the pool's aggregate account view for the operating
// wallet.
func (m *Market) AccountData(ctx context.Context) (AccountData, error) {
	out, err := m.client.Call(ctx, m.pool, evm.EncodeGetUserAccountData(m.client.Wallet()))
	if err != nil {
		return AccountData{}, errors.Join(ErrAccountRead, err)
	}
	if len(out) < 6*32 {
		return AccountData{}, errors.Join(ErrAccountRead, fmt.Errorf("account data returned %d bytes", len(out)))
	}

	totalCollateral := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(out, 0)), baseCurrencyDecimals)
	totalDebt := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(out, 1)), baseCurrencyDecimals)
	availableBorrow := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(out, 2)), baseCurrencyDecimals)
	liqThresholdBps := evm.DecodeUint256(evm.Word(out, 3)).Uint64()
	ltvBps := evm.DecodeUint256(evm.Word(out, 4)).Uint64()
	healthFactor := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(out, 5)), 18)

	return AccountData{
		TotalCollateralUSD:   totalCollateral,
		TotalDebtUSD:         totalDebt,
		AvailableBorrowUSD:   availableBorrow,
		LiquidationThreshold: float64(liqThresholdBps) / 10000.0,
		LoanToValue:          float64(ltvBps) / 10000.0,
		HealthFactor:         healthFactor,
	}, nil
}

// Position builds the normalized lending position from per-reserve supply and
// debt token balances. An account with nothing supplied and nothing borrowed
// returns an empty position, never an error. priceOf maps a symbol to its USD
// price from the snapshot's single price fetch.
func (m *Market) Position(ctx context.Context, priceOf func(symbol string) float64) (types.LendingPosition, error) {
	position := types.LendingPosition{
		Chain:  m.chain,
		Venue:  "lending",
		Wallet: m.client.Wallet().Hex(),
	}

	for _, asset := range m.assets {
		data, err := m.reserveData(ctx, common.HexToAddress(asset.Address))
		if err != nil {
			return types.LendingPosition{}, errors.Join(ErrReserveRead, fmt.Errorf("reserve %s: %w", asset.Symbol, err))
		}

		price := priceOf(asset.Symbol)

		supplied, err := m.client.Call(ctx, data.aToken, evm.EncodeBalanceOf(m.client.Wallet()))
		if err != nil {
			return types.LendingPosition{}, errors.Join(ErrAccountRead, err)
		}
		if amount := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(supplied, 0)), asset.Decimals); amount > 0 {
			position.Deposits = append(position.Deposits, types.DepositEntry{
				Symbol:   asset.Symbol,
				Amount:   amount,
				ValueUSD: amount * price,
				APY:      rayToAPY(data.liquidityRate),
			})
			position.DepositValueUSD += amount * price
		}

		borrowed, err := m.client.Call(ctx, data.variableDebtToken, evm.EncodeBalanceOf(m.client.Wallet()))
		if err != nil {
			return types.LendingPosition{}, errors.Join(ErrAccountRead, err)
		}
		if amount := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(borrowed, 0)), asset.Decimals); amount > 0 {
			position.Borrows = append(position.Borrows, types.BorrowEntry{
				Symbol:   asset.Symbol,
				Amount:   amount,
				ValueUSD: amount * price,
				APY:      rayToAPY(data.variableBorrowRate),
			})
			position.BorrowValueUSD += amount * price
		}
	}

	if !position.Empty() {
		account, err := m.AccountData(ctx)
		if err != nil {
			return types.LendingPosition{}, err
		}
		position.LiquidationThreshold = account.LiquidationThreshold
	}

	return position, nil
}

// Supply deposits amount of the asset into the pool. The allowance is topped
// up first when needed; that approval is a separate transaction and does not
// count as the operation's single state-changing submission, matching how the
// pool itself requires two calls.
func (m *Market) Supply(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error) {
	token := common.HexToAddress(assetAddress)
	if err := m.ensureAllowance(ctx, token, amount); err != nil {
		return evm.TxOutcome{}, err
	}
	return m.client.SubmitAndWait(ctx, m.pool, evm.EncodeSupply(token, amount, m.client.Wallet()), nil)
}

// Withdraw pulls amount of the asset out of the pool to the wallet.
func (m *Market) Withdraw(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error) {
	token := common.HexToAddress(assetAddress)
	return m.client.SubmitAndWait(ctx, m.pool, evm.EncodeWithdraw(token, amount, m.client.Wallet()), nil)
}

// Borrow draws amount of the asset at the variable rate.
func (m *Market) Borrow(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error) {
	token := common.HexToAddress(assetAddress)
	return m.client.SubmitAndWait(ctx, m.pool, evm.EncodeBorrow(token, amount, m.client.Wallet()), nil)
}

// Repay pays amount of variable-rate debt back.
func (m *Market) Repay(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error) {
	token := common.HexToAddress(assetAddress)
	if err := m.ensureAllowance(ctx, token, amount); err != nil {
		return evm.TxOutcome{}, err
	}
	return m.client.SubmitAndWait(ctx, m.pool, evm.EncodeRepay(token, amount, m.client.Wallet()), nil)
}

func (m *Market) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	out, err := m.client.Call(ctx, token, evm.EncodeAllowance(m.client.Wallet(), m.pool))
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	current := evm.DecodeUint256(evm.Word(out, 0))
	if current.Cmp(amount) >= 0 {
		return nil
	}

	m.log.Debug().
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Msg("Topping up pool allowance")

	txHash, err := m.client.Submit(ctx, token, evm.EncodeApprove(m.pool, amount), nil)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if _, err := m.client.WaitMined(ctx, txHash); err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	return nil
}

// reserveData is the subset of the pool's per-reserve struct the adapter
// consumes. Words per the pool ABI: configuration bitmap at 0 (LTV in bits
// 0-15, liquidation threshold in bits 16-31, both bps), liquidity rate at 2,
// variable borrow rate at 4, aToken address at 8, variable debt token at 10.
type reserveData struct {
	liquidationThreshold float64
	liquidityRate        *big.Int
	variableBorrowRate   *big.Int
	aToken               common.Address
	variableDebtToken    common.Address
}

func (m *Market) reserveData(ctx context.Context, asset common.Address) (reserveData, error) {
	out, err := m.client.Call(ctx, m.pool, evm.EncodeGetReserveData(asset))
	if err != nil {
		return reserveData{}, err
	}
	if len(out) < 11*32 {
		return reserveData{}, fmt.Errorf("reserve data returned %d bytes", len(out))
	}

	config := evm.DecodeUint256(evm.Word(out, 0))
	liqThresholdBps := new(big.Int).And(new(big.Int).Rsh(config, 16), big.NewInt(0xFFFF)).Uint64()

	return reserveData{
		liquidationThreshold: float64(liqThresholdBps) / 10000.0,
		liquidityRate:        evm.DecodeUint256(evm.Word(out, 2)),
		variableBorrowRate:   evm.DecodeUint256(evm.Word(out, 4)),
		aToken:               evm.DecodeAddress(evm.Word(out, 8)),
		variableDebtToken:    evm.DecodeAddress(evm.Word(out, 10)),
	}, nil
}

// rayToAPY converts a ray-denominated APR into a percentage APY figure.
func rayToAPY(rate *big.Int) float64 {
	if rate == nil || rate.Sign() == 0 {
		return 0
	}
	apr, _ := new(big.Float).Quo(new(big.Float).SetInt(rate), ray).Float64()
	return apr * 100.0
}
