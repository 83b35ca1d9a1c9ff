package executor

import (
	"context"
	"fmt"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
)

// Supply deposits amount (human units) of the reserve into the chain's
// lending market.
func (e *Executor) Supply(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.lending[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}
	reserve, ok := e.registry.ReserveBySymbol(symbol)
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownReserve, symbol))
	}
	if amount <= 0 {
		return types.Failed(fmt.Sprintf("%s: supply %f %s", ErrInvalidAmount, amount, symbol))
	}

	price, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return types.Failed(err.Error())
	}
	amountUSD := amount * price
	amounts := map[string]float64{symbol: amount}

	if e.dryRun {
		e.log.Info().Str("chain", string(chain)).Str("symbol", symbol).Float64("amountUSD", amountUSD).Msg("Dry-run: supply validated, skipping submission")
		return dryRunResult(amountUSD, amounts)
	}

	raw, err := utils.Float64ToBigInt(amount, reserve.Decimals)
	if err != nil {
		return types.Failed(err.Error())
	}
	outcome, err := market.Supply(ctx, reserve.Address, raw)
	return e.resultFromOutcome(ctx, chain, outcome, err, amountUSD, amounts)
}

// Withdraw pulls amount of the reserve back out of the lending market. When
// debt is outstanding the projected post-withdraw LTV must stay under the
// safety cap; withdrawing collateral from a levered position is otherwise a
// self-liquidation.
func (e *Executor) Withdraw(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.lending[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}
	reserve, ok := e.registry.ReserveBySymbol(symbol)
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownReserve, symbol))
	}
	if amount <= 0 {
		return types.Failed(fmt.Sprintf("%s: withdraw %f %s", ErrInvalidAmount, amount, symbol))
	}

	price, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return types.Failed(err.Error())
	}
	amountUSD := amount * price

	account, err := market.AccountData(ctx)
	if err != nil {
		return types.Failed(err.Error())
	}
	if account.TotalDebtUSD > 0 {
		remaining := account.TotalCollateralUSD - amountUSD
		if remaining <= 0 {
			return types.Failed(fmt.Sprintf("%s: withdraw would remove all collateral backing $%.2f debt", ErrLTVExceeded, account.TotalDebtUSD))
		}
		projected := account.TotalDebtUSD / remaining
		cap := e.borrowCap(account.LiquidationThreshold)
		if projected > cap {
			return types.Failed(fmt.Sprintf("%s: projected %.4f > cap %.4f", ErrLTVExceeded, projected, cap))
		}
	}

	amounts := map[string]float64{symbol: amount}
	if e.dryRun {
		e.log.Info().Str("chain", string(chain)).Str("symbol", symbol).Float64("amountUSD", amountUSD).Msg("Dry-run: withdraw validated, skipping submission")
		return dryRunResult(amountUSD, amounts)
	}

	raw, err := utils.Float64ToBigInt(amount, reserve.Decimals)
	if err != nil {
		return types.Failed(err.Error())
	}
	outcome, err := market.Withdraw(ctx, reserve.Address, raw)
	return e.resultFromOutcome(ctx, chain, outcome, err, amountUSD, amounts)
}

// Borrow draws amount of the reserve against the wallet's collateral. Refused
// when the projected LTV exceeds the lower of the venue's threshold-derived
// cap and the configured policy cap.
func (e *Executor) Borrow(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.lending[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}
	reserve, ok := e.registry.ReserveBySymbol(symbol)
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownReserve, symbol))
	}
	if amount <= 0 {
		return types.Failed(fmt.Sprintf("%s: borrow %f %s", ErrInvalidAmount, amount, symbol))
	}

	price, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return types.Failed(err.Error())
	}
	amountUSD := amount * price

	account, err := market.AccountData(ctx)
	if err != nil {
		return types.Failed(err.Error())
	}
	if account.TotalCollateralUSD <= 0 {
		return types.Failed(fmt.Sprintf("%s: no collateral deposited", ErrLTVExceeded))
	}
	projected := (account.TotalDebtUSD + amountUSD) / account.TotalCollateralUSD
	cap := e.borrowCap(account.LiquidationThreshold)
	if projected > cap {
		return types.Failed(fmt.Sprintf("%s: projected %.4f > cap %.4f", ErrLTVExceeded, projected, cap))
	}

	amounts := map[string]float64{symbol: amount}
	if e.dryRun {
		e.log.Info().Str("chain", string(chain)).Str("symbol", symbol).Float64("amountUSD", amountUSD).Float64("projectedLTV", projected).Msg("Dry-run: borrow validated, skipping submission")
		return dryRunResult(amountUSD, amounts)
	}

	raw, err := utils.Float64ToBigInt(amount, reserve.Decimals)
	if err != nil {
		return types.Failed(err.Error())
	}
	outcome, err := market.Borrow(ctx, reserve.Address, raw)
	return e.resultFromOutcome(ctx, chain, outcome, err, amountUSD, amounts)
}

// Repay pays amount of outstanding variable-rate debt back.
func (e *Executor) Repay(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.lending[chain]
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownChain, chain))
	}
	reserve, ok := e.registry.ReserveBySymbol(symbol)
	if !ok {
		return types.Failed(fmt.Sprintf("%s: %s", ErrUnknownReserve, symbol))
	}
	if amount <= 0 {
		return types.Failed(fmt.Sprintf("%s: repay %f %s", ErrInvalidAmount, amount, symbol))
	}

	account, err := market.AccountData(ctx)
	if err != nil {
		return types.Failed(err.Error())
	}
	if account.TotalDebtUSD <= 0 {
		return types.Failed(ErrNothingToRepay.Error())
	}

	price, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return types.Failed(err.Error())
	}
	amountUSD := amount * price
	amounts := map[string]float64{symbol: amount}

	if e.dryRun {
		e.log.Info().Str("chain", string(chain)).Str("symbol", symbol).Float64("amountUSD", amountUSD).Msg("Dry-run: repay validated, skipping submission")
		return dryRunResult(amountUSD, amounts)
	}

	raw, err := utils.Float64ToBigInt(amount, reserve.Decimals)
	if err != nil {
		return types.Failed(err.Error())
	}
	outcome, err := market.Repay(ctx, reserve.Address, raw)
	return e.resultFromOutcome(ctx, chain, outcome, err, amountUSD, amounts)
}

// borrowCap is the effective LTV ceiling for borrow-side operations: the
// lower of the venue-derived safe cap and the configured policy cap. A venue
// that reported no threshold falls back to the configured conservative
// default.
func (e *Executor) borrowCap(venueThreshold float64) float64 {
	threshold := venueThreshold
	if threshold <= 0 {
		threshold = e.policy.FallbackLiqThreshold
	}
	cap := types.DerivedBorrowCap(threshold)
	if e.policy.MaxBorrowLTV < cap {
		cap = e.policy.MaxBorrowLTV
	}
	return cap
}
