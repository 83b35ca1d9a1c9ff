/*

Execution primitives. Every capital-moving operation in the system goes
through this package: it owns the policy preconditions, the dry-run
short-circuit and the serial-execution rule. Results are data; callers branch
on the outcome field, never on panics.

*/

package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/amm"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/lending"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownChain      = errors.New("no venue configured for chain")
	ErrUnknownReserve    = errors.New("reserve is not in the registry")
	ErrUnknownPoolKey    = errors.New("pool is not in the registry")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrLTVExceeded       = errors.New("projected loan-to-value exceeds the safety cap")
	ErrLeverageExceeded  = errors.New("requested leverage exceeds the policy cap")
	ErrPoolBelowTVLFloor = errors.New("pool TVL is below the eligibility floor")
	ErrNothingToRepay    = errors.New("no outstanding debt to repay")
)

// LendingMarket is the slice of the lending adapter the executor consumes.
type LendingMarket interface {
	Chain() types.ChainID
	AccountData(ctx context.Context) (lending.AccountData, error)
	Supply(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error)
	Withdraw(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error)
	Borrow(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error)
	Repay(ctx context.Context, assetAddress string, amount *big.Int) (evm.TxOutcome, error)
}

// LiquidityVenue is the slice of the AMM adapter the executor consumes.
type LiquidityVenue interface {
	Chain() types.ChainID
	CurrentPrice(ctx context.Context, meta types.PoolMeta) (float64, error)
	Position(ctx context.Context, tokenID uint64, priceOf func(string) float64) (types.LiquidityPosition, error)
	Open(ctx context.Context, meta types.PoolMeta, lowerPrice, upperPrice float64, amount0, amount1 *big.Int, slippagePct float64) (amm.OpenResult, error)
	Close(ctx context.Context, tokenID uint64) (amm.CloseResult, error)
	ClaimFees(ctx context.Context, tokenID uint64) (evm.TxOutcome, error)
}

// HedgeVenue is the slice of the perp adapter the executor consumes.
type HedgeVenue interface {
	Positions(ctx context.Context) ([]types.HedgePosition, error)
	Open(ctx context.Context, coin string, notionalUSD, leverage, slippagePct float64) (string, error)
	Close(ctx context.Context, coin string, slippagePct float64) (string, error)
}

// ReserveLookup resolves registry entries for precondition checks.
type ReserveLookup interface {
	ReserveBySymbol(symbol string) (types.Reserve, bool)
	PoolByKey(key types.PoolKey) (types.PoolMeta, bool)
}

// PriceSource supplies USD prices for sizing and gas valuation.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Executor runs the execution primitives. The mutex enforces the serial rule:
// never two capital-moving submissions in flight for the operating wallet.
type Executor struct {
	mu sync.Mutex

	lending map[types.ChainID]LendingMarket
	amms    map[types.ChainID]LiquidityVenue
	hedge   HedgeVenue

	registry ReserveLookup
	prices   PriceSource
	policy   types.RiskPolicy
	dryRun   bool

	log zerolog.Logger
}

// New builds the executor.
func New(
	lendingMarkets map[types.ChainID]LendingMarket,
	ammVenues map[types.ChainID]LiquidityVenue,
	hedge HedgeVenue,
	reg ReserveLookup,
	prices PriceSource,
	policy types.RiskPolicy,
	dryRun bool,
) *Executor {
	return &Executor{
		lending:  lendingMarkets,
		amms:     ammVenues,
		hedge:    hedge,
		registry: reg,
		prices:   prices,
		policy:   policy,
		dryRun:   dryRun,
		log:      logger.GetForComponent("executor"),
	}
}

// DryRun reports whether the executor is in dry-run mode.
func (e *Executor) DryRun() bool { return e.dryRun }

// dryRunResult is the synthetic success every primitive returns in dry-run
// mode after its reads and validation pass. Indistinguishable from a live
// success except for the missing transaction identifier.
func dryRunResult(amountUSD float64, amounts map[string]float64) types.ExecResult {
	return types.ExecResult{
		Outcome:   types.OutcomeSuccess,
		Success:   true,
		DryRun:    true,
		Timestamp: time.Now(),
		AmountUSD: amountUSD,
		Amounts:   amounts,
	}
}

// resultFromOutcome maps a venue submission outcome and error into the
// tri-state result. Unconfirmed confirmation polling is reported distinctly
// from failure so operators never double-submit.
func (e *Executor) resultFromOutcome(ctx context.Context, chain types.ChainID, outcome evm.TxOutcome, err error, amountUSD float64, amounts map[string]float64) types.ExecResult {
	result := types.ExecResult{
		TxHash:    outcome.Hash,
		GasUsed:   outcome.GasUsed,
		GasFeeUSD: e.gasFeeUSD(ctx, chain, outcome.FeeWei),
		Timestamp: time.Now(),
		AmountUSD: amountUSD,
		Amounts:   amounts,
	}

	switch {
	case err == nil:
		result.Outcome = types.OutcomeSuccess
		result.Success = true
	case errors.Is(err, evm.ErrUnconfirmed):
		result.Outcome = types.OutcomeUnconfirmed
		result.Error = fmt.Sprintf("submitted but unconfirmed: %s", outcome.Hash)
	default:
		result.Outcome = types.OutcomeFailed
		result.Error = err.Error()
	}
	return result
}

// gasFeeUSD values a wei fee in USD with the snapshot price of the chain's
// native token. Valuation failures degrade to zero rather than failing the
// operation that already happened.
func (e *Executor) gasFeeUSD(ctx context.Context, chain types.ChainID, feeWei *big.Int) float64 {
	if feeWei == nil || feeWei.Sign() == 0 {
		return 0
	}
	price, err := e.prices.Price(ctx, nativeSymbol(chain))
	if err != nil {
		e.log.Warn().Err(err).Str("chain", string(chain)).Msg("Gas fee valuation failed")
		return 0
	}
	fee, _ := new(big.Float).Quo(new(big.Float).SetInt(feeWei), big.NewFloat(1e18)).Float64()
	return fee * price
}

func nativeSymbol(chain types.ChainID) string {
	// All supported chains settle gas in ETH.
	_ = chain
	return "ETH"
}
