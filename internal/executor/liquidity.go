package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// OpenLP mints a concentrated-liquidity position in the pool covering
// [lowerPrice, upperPrice], funded with the given human-unit amounts.
func (e *Executor) OpenLP(ctx context.Context, chain types.ChainID, key types.PoolKey, lowerPrice, upperPrice, amount0, amount1 float64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	venue, ok := e.amms[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}
	meta, ok := e.registry.PoolByKey(key)
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownPoolKey, key))
	}
	if amount0 <= 0 && amount1 <= 0 {
		return types.Failed(fmt.Sprintf("%s: open with no funding", ErrInvalidAmount))
	}
	if lowerPrice <= 0 || upperPrice <= lowerPrice {
		return types.Failed(fmt.Sprintf("%s: range [%f, %f]", ErrInvalidAmount, lowerPrice, upperPrice))
	}

	// A zero TVL means the registry has not discovered the pool yet; the
	// floor only applies to a discovered figure.
	if meta.TvlUSD > 0 && meta.TvlUSD < e.policy.MinPoolTVLUSD {
		return types.Failed(fmt.Sprintf("%s: pool %s TVL $%.0f < $%.0f", ErrPoolBelowTVLFloor, key, meta.TvlUSD, e.policy.MinPoolTVLUSD))
	}

	price0, err := e.prices.Price(ctx, meta.Token0)
	if err != nil {
		return types.Failed(err.Error())
	}
	price1, err := e.prices.Price(ctx, meta.Token1)
	if err != nil {
		return types.Failed(err.Error())
	}
	amountUSD := amount0*price0 + amount1*price1
	amounts := map[string]float64{meta.Token0: amount0, meta.Token1: amount1}

	if e.dryRun {
		e.log.Info().Str("pool", string(key)).Float64("amountUSD", amountUSD).Msg("Dry-run: open-LP validated, skipping submission")
		return dryRunResult(amountUSD, amounts)
	}

	raw0, err := utils.Float64ToBigInt(amount0, meta.Decimals0)
	if err != nil {
		return types.Failed(err.Error())
	}
	raw1, err := utils.Float64ToBigInt(amount1, meta.Decimals1)
	if err != nil {
		return types.Failed(err.Error())
	}

	open, err := venue.Open(ctx, meta, lowerPrice, upperPrice, raw0, raw1, e.policy.SlippageTolerancePct)
	result := e.resultFromOutcome(ctx, chain,
		evm.TxOutcome{Hash: open.TxHash, GasUsed: open.GasUsed, FeeWei: open.FeeWei},
		err, amountUSD, amounts)
	result.PositionID = open.TokenID
	return result
}

// CloseLP runs the close-and-collect protocol on the position and reports the
// recovered value. A failure after liquidity recovery still reports success;
// the burn step is best-effort.
func (e *Executor) CloseLP(ctx context.Context, chain types.ChainID, tokenID uint64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	venue, ok := e.amms[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}

	position, err := venue.Position(ctx, tokenID, e.snapshotPriceFn(ctx))
	if err != nil {
		return types.Failed(err.Error())
	}
	amounts := map[string]float64{
		position.Token0: position.Amount0 + position.Fees0,
		position.Token1: position.Amount1 + position.Fees1,
	}

	if e.dryRun {
		e.log.Info().Uint64("tokenID", tokenID).Float64("valueUSD", position.ValueUSD).Msg("Dry-run: close-LP validated, skipping submission")
		result := dryRunResult(position.ValueUSD, amounts)
		result.PositionID = tokenID
		return result
	}

	closed, err := venue.Close(ctx, tokenID)
	result := e.resultFromOutcome(ctx, chain,
		evm.TxOutcome{Hash: strings.Join(closed.TxHashes, ","), GasUsed: closed.GasUsed, FeeWei: closed.FeeWei},
		err, position.ValueUSD, amounts)
	result.PositionID = tokenID
	if closed.BurnFailed && result.Success {
		result.Error = "position token burn failed; liquidity recovered"
	}
	return result
}

// ClaimFees collects accrued trading fees on the position without closing it.
func (e *Executor) ClaimFees(ctx context.Context, chain types.ChainID, tokenID uint64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	venue, ok := e.amms[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}

	position, err := venue.Position(ctx, tokenID, e.snapshotPriceFn(ctx))
	if err != nil {
		return types.Failed(err.Error())
	}
	amounts := map[string]float64{
		position.Token0: position.Fees0,
		position.Token1: position.Fees1,
	}
	feesUSD := position.ValueUSD - (position.Amount0*priceOrZero(e, ctx, position.Token0) + position.Amount1*priceOrZero(e, ctx, position.Token1))
	if feesUSD < 0 {
		feesUSD = 0
	}

	if e.dryRun {
		e.log.Info().Uint64("tokenID", tokenID).Float64("feesUSD", feesUSD).Msg("Dry-run: claim-fees validated, skipping submission")
		result := dryRunResult(feesUSD, amounts)
		result.PositionID = tokenID
		return result
	}

	outcome, err := venue.ClaimFees(ctx, tokenID)
	result := e.resultFromOutcome(ctx, chain, outcome, err, feesUSD, amounts)
	result.PositionID = tokenID
	return result
}

// snapshotPriceFn adapts the price source to the per-symbol lookup the AMM
// adapter expects. Lookup failures degrade to zero valuation; the operation
// itself does not depend on the USD figure.
func (e *Executor) snapshotPriceFn(ctx context.Context) func(string) float64 {
	return func(symbol string) float64 {
		return priceOrZero(e, ctx, symbol)
	}
}

func priceOrZero(e *Executor, ctx context.Context, symbol string) float64 {
	price, err := e.prices.Price(ctx, symbol)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("Price lookup failed during valuation")
	}
	return price
}
