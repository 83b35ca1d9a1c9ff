/*

Liquidity-position rebalancer. When a position's range utilization drops
below the floor, or price has left the range, the position is closed, the
recovered value is measured, and a fresh position is opened centered on the
current price. The two phases are intentionally non-atomic: a failure after
the close leaves recovered funds idle in the wallet, never a stuck or
double-counted position.

*/

package rebalancer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoVenue       = errors.New("no liquidity venue for chain")
	ErrCloseFailed   = errors.New("close phase failed")
	ErrReopenFailed  = errors.New("reopen phase failed, funds remain in wallet")
	ErrNotTriggered  = errors.New("position does not need rebalancing")
	ErrPriceRequired = errors.New("price lookup failed")
)

// Executor is the slice of the execution primitives the rebalancer drives.
type Executor interface {
	CloseLP(ctx context.Context, chain types.ChainID, tokenID uint64) types.ExecResult
	OpenLP(ctx context.Context, chain types.ChainID, key types.PoolKey, lowerPrice, upperPrice, amount0, amount1 float64) types.ExecResult
}

// PositionReader reads one venue's position state.
type PositionReader interface {
	Position(ctx context.Context, tokenID uint64, priceOf func(string) float64) (types.LiquidityPosition, error)
}

// PriceSource supplies USD prices for valuation.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Result reports one rebalance run. Closed is always populated once the close
// phase ran; NewPositionID is only set when the reopen succeeded.
type Result struct {
	Trigger       string           `json:"trigger"`
	Closed        types.ExecResult `json:"closed"`
	Reopened      types.ExecResult `json:"reopened"`
	OldPositionID uint64           `json:"old_position_id"`
	NewPositionID uint64           `json:"new_position_id,omitempty"`
	RecoveredUSD  float64          `json:"recovered_usd"`
}

// Rebalancer drives close-and-reopen cycles on liquidity positions.
type Rebalancer struct {
	exec    Executor
	readers map[types.ChainID]PositionReader
	prices  PriceSource
	policy  types.RiskPolicy
	log     zerolog.Logger
}

// New builds the rebalancer.
func New(exec Executor, readers map[types.ChainID]PositionReader, prices PriceSource, policy types.RiskPolicy) *Rebalancer {
	return &Rebalancer{
		exec:    exec,
		readers: readers,
		prices:  prices,
		policy:  policy,
		log:     logger.GetForComponent("rebalancer"),
	}
}

// NeedsRebalance reports whether the position's state triggers a rebalance,
// with a human-readable reason.
func (r *Rebalancer) NeedsRebalance(position types.LiquidityPosition) (bool, string) {
	if !position.InRange() {
		return true, fmt.Sprintf("price %.6f is outside range [%.6f, %.6f]",
			position.CurrentPrice, position.LowerPrice, position.UpperPrice)
	}
	if util := position.RangeUtilization(); util < r.policy.RangeUtilFloorPct {
		return true, fmt.Sprintf("range utilization %.1f%% is below the %.1f%% floor",
			util, r.policy.RangeUtilFloorPct)
	}
	return false, ""
}

// Rebalance closes the position and reopens it centered on the current price
// with the configured range width. Force skips the trigger check.
func (r *Rebalancer) Rebalance(ctx context.Context, chain types.ChainID, tokenID uint64, force bool) (Result, error) {
	result := Result{OldPositionID: tokenID}

	reader, ok := r.readers[chain]
	if !ok {
		return result, errors.Join(ErrNoVenue, fmt.Errorf("chain %s", chain))
	}

	position, err := reader.Position(ctx, tokenID, r.priceFn(ctx))
	if err != nil {
		return result, err
	}

	triggered, reason := r.NeedsRebalance(position)
	if !triggered && !force {
		return result, ErrNotTriggered
	}
	if reason == "" {
		reason = "forced rebalance"
	}
	result.Trigger = reason

	r.log.Info().
		Uint64("tokenID", tokenID).
		Str("pool", string(position.Pool)).
		Str("trigger", reason).
		Msg("Rebalancing liquidity position")

	// Phase 1: close and collect. After this the position id is retired and
	// the recovered assets sit in the wallet.
	result.Closed = r.exec.CloseLP(ctx, chain, tokenID)
	if !result.Closed.Success {
		return result, errors.Join(ErrCloseFailed, errors.New(result.Closed.Error))
	}
	result.RecoveredUSD = result.Closed.AmountUSD

	// Phase 2: reopen around the current price, funded by what came back.
	halfWidth := r.policy.RangeWidthPct / 2.0 / 100.0
	lower := position.CurrentPrice * (1 - halfWidth)
	upper := position.CurrentPrice * (1 + halfWidth)

	amount0 := result.Closed.Amounts[position.Token0]
	amount1 := result.Closed.Amounts[position.Token1]

	result.Reopened = r.exec.OpenLP(ctx, chain, position.Pool, lower, upper, amount0, amount1)
	if !result.Reopened.Success {
		// Intentionally non-atomic: the capital is recovered and idle, the
		// operator reopens manually or the next cycle retries.
		r.log.Error().
			Uint64("closedTokenID", tokenID).
			Float64("recoveredUSD", result.RecoveredUSD).
			Str("error", result.Reopened.Error).
			Msg("Reopen failed after close, funds remain in wallet")
		return result, errors.Join(ErrReopenFailed, errors.New(result.Reopened.Error))
	}

	result.NewPositionID = result.Reopened.PositionID
	r.log.Info().
		Uint64("oldTokenID", tokenID).
		Uint64("newTokenID", result.NewPositionID).
		Float64("recoveredUSD", result.RecoveredUSD).
		Msg("Liquidity position rebalanced")
	return result, nil
}

func (r *Rebalancer) priceFn(ctx context.Context) func(string) float64 {
	return func(symbol string) float64 {
		price, err := r.prices.Price(ctx, symbol)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("Price lookup failed during valuation")
		}
		return price
	}
}
