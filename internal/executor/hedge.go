package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// OpenHedge opens a short perp position worth notionalUSD at the requested
// leverage. The leverage is clamped by precondition, never silently adjusted:
// a request over the policy cap fails.
func (e *Executor) OpenHedge(ctx context.Context, coin string, notionalUSD, leverage float64) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hedge == nil {
		return types.Failed(fmt.Sprintf("%s: no hedge venue configured", ErrUnknownChain))
	}
	if notionalUSD <= 0 {
		return types.Failed(fmt.Sprintf("%s: hedge notional $%f", ErrInvalidAmount, notionalUSD))
	}
	if leverage <= 0 || leverage > e.policy.MaxLeverage {
		return types.Failed(fmt.Sprintf("%s: %gx > %gx", ErrLeverageExceeded, leverage, e.policy.MaxLeverage))
	}

	if e.dryRun {
		e.log.Info().Str("coin", coin).Float64("notionalUSD", notionalUSD).Float64("leverage", leverage).Msg("Dry-run: open-hedge validated, skipping submission")
		return dryRunResult(notionalUSD, map[string]float64{coin: notionalUSD})
	}

	orderID, err := e.hedge.Open(ctx, coin, notionalUSD, leverage, e.policy.SlippageTolerancePct)
	if err != nil {
		return types.Failed(err.Error())
	}
	return types.ExecResult{
		Outcome:   types.OutcomeSuccess,
		Success:   true,
		TxHash:    orderID,
		Timestamp: time.Now(),
		AmountUSD: notionalUSD,
		Amounts:   map[string]float64{coin: notionalUSD},
	}
}

// CloseHedge buys back the full short for the coin. Closing a coin with no
// open hedge succeeds as a no-op.
func (e *Executor) CloseHedge(ctx context.Context, coin string) types.ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hedge == nil {
		return types.Failed(fmt.Sprintf("%s: no hedge venue configured", ErrUnknownChain))
	}

	positions, err := e.hedge.Positions(ctx)
	if err != nil {
		return types.Failed(err.Error())
	}
	var notionalUSD float64
	for _, pos := range positions {
		if pos.Coin == coin {
			notionalUSD = pos.NotionalUSD
		}
	}

	if e.dryRun {
		e.log.Info().Str("coin", coin).Float64("notionalUSD", notionalUSD).Msg("Dry-run: close-hedge validated, skipping submission")
		return dryRunResult(notionalUSD, map[string]float64{coin: notionalUSD})
	}

	orderID, err := e.hedge.Close(ctx, coin, e.policy.SlippageTolerancePct)
	if err != nil {
		return types.Failed(err.Error())
	}
	return types.ExecResult{
		Outcome:   types.OutcomeSuccess,
		Success:   true,
		TxHash:    orderID,
		Timestamp: time.Now(),
		AmountUSD: notionalUSD,
		Amounts:   map[string]float64{coin: notionalUSD},
	}
}
