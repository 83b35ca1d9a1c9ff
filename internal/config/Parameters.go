/*

This file contains the default risk policy for the engine.

These parameters are designed for unattended operation over meaningful capital.
Each value is chosen to favor capital preservation over yield; an operator can
activate a different policy version through the database, never by editing code.

*/

package config

import (
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// DefaultRiskPolicy provides the baseline limits used if no active policy is
// found in the database during initialization.
//
// IMPORTANT: these defaults are deliberately conservative. Where a live venue
// value is unavailable the engine falls back to the configured number here
// rather than guessing a "more correct" one.
var DefaultRiskPolicy = types.RiskPolicy{
	// --- Leverage & lending caps ---
	MaxLeverage: 3.0, // Hedges exist to offset spot exposure, not to amplify it.
	// 3x keeps liquidation price far from mark for a short sized against spot.

	MaxDepositLTV: 0.50, // Projected LTV cap after any supply-backed borrow.
	// Half of collateral borrowed leaves room for a 30%+ collateral drawdown
	// before the venue's liquidation threshold is approached.

	MaxBorrowLTV: 0.65, // Absolute policy cap for a standalone borrow.
	// The effective cap for any borrow is the lower of this and the venue's
	// own safe threshold, so a lenient venue never loosens the policy.

	HardLTVCeiling: 0.80, // The leverage loop clamps any requested target here.
	// No caller input can push a looped position past this, regardless of what
	// the venue would technically allow.

	FallbackLiqThreshold: 0.70, // Assumed liquidation threshold when the venue
	// reports none. Conservative by intent: underestimating the threshold only
	// makes the engine refuse borrows earlier.

	// --- Allocation limits ---
	MaxStrategyAllocationPct: 35.0, // Containment for a single strategy failure.
	// If one venue is exploited or one range position bleeds, losses are
	// bounded to about a third of the book.

	MaxAssetAllocationPct: 50.0, // No single asset dominates the portfolio.

	LendingAllocationCapUSD: 5000.0, // Absolute per-venue lending cap.

	// --- Cash & gas reserves ---
	CashReserveFloorPct:    10.0, // Below 10% liquid, reduce deployed capital.
	IdleStableThresholdUSD: 250.0, // Idle stable above this should be earning.
	IdleNativeThresholdUSD: 200.0,
	GasReserveFloorUSD:     25.0, // A chain that cannot pay gas cannot unwind.

	// --- Execution safety ---
	MaxPriceImpactPct:    3.0, // Swaps abort above 3% impact. Better to skip a
	// rebalance than to pay the impact on a thin pool.
	SlippageTolerancePct: 1.0,
	NegligibleSidePct:    2.0, // A two-sided open with one side under 2% of the
	// other is guaranteed to revert or mint dust; abort before submitting.

	// --- Liquidity position management ---
	RangeWidthPct:     10.0, // New ranges span +-10% around current price.
	RangeUtilFloorPct: 25.0, // Close-and-reopen once price drifts this far.

	// --- Pool/venue eligibility ---
	MinPoolTVLUSD: 50000.0, // Positions in sub-$50k pools dominate the pool.
	MinSupplyAPY:  0.1,

	// --- Leverage loop ---
	LoopTargetFraction: 0.95, // Stop looping within 95% of the target LTV.
	LoopHaircut:        0.90, // Borrow 90% of computed headroom per iteration.
	LoopMaxIterations:  6,
	UnwindMaxSteps:     10,
	UnwindStepFraction: 0.25,

	// --- Scheduler ---
	MaxConsecutiveFailures: 5, // After 5 failed cycles the trigger halts and
	// raises an operator alert rather than looping against a broken dependency.
}
