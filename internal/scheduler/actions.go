/*

Action runner. Bridges the decision engine's suggestions to the execution
primitives. Only idle-stable lending deposits are executed unattended; every
other suggestion kind stays advisory and is surfaced through the cycle
snapshot and the status API for an operator to act on.

*/

package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// LendingSupplier is the one execution primitive the runner invokes.
type LendingSupplier interface {
	Supply(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult
}

// PriceSource converts suggestion USD figures into token amounts.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// ExecRunner executes lending-deposit suggestions through the executor.
type ExecRunner struct {
	exec   LendingSupplier
	prices PriceSource
	stable string
	log    zerolog.Logger
}

// NewExecRunner builds the default action runner. stableSymbol is the working
// stable asset deposits are denominated in.
func NewExecRunner(exec LendingSupplier, prices PriceSource, stableSymbol string) *ExecRunner {
	return &ExecRunner{
		exec:   exec,
		prices: prices,
		stable: stableSymbol,
		log:    logger.GetForComponent("action_runner"),
	}
}

// Apply executes the suggestion if it is one of the unattended kinds. The
// second return is false for advisory-only suggestions.
func (r *ExecRunner) Apply(ctx context.Context, suggestion types.Suggestion) (types.ExecResult, bool) {
	switch suggestion.Kind {
	case types.SuggestLendingDeposit:
		return r.deposit(ctx, suggestion), true
	default:
		return types.ExecResult{}, false
	}
}

func (r *ExecRunner) deposit(ctx context.Context, suggestion types.Suggestion) types.ExecResult {
	if suggestion.AmountUSD <= 0 {
		return types.Failed("deposit suggestion carries no amount")
	}

	price, err := r.prices.Price(ctx, r.stable)
	if err != nil || price <= 0 {
		r.log.Error().Err(err).Str("symbol", r.stable).Msg("Cannot price stable asset for deposit")
		return types.Failed("stable asset price unavailable")
	}

	amount := suggestion.AmountUSD / price
	r.log.Info().
		Str("chain", string(suggestion.Chain)).
		Float64("amountUSD", suggestion.AmountUSD).
		Float64("amount", amount).
		Msg("Executing lending deposit suggestion")
	return r.exec.Supply(ctx, suggestion.Chain, r.stable, amount)
}
