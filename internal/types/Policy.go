/*

This file contains the risk policy: every tunable threshold the engine consults
before moving capital. Different policy versions can exist in the store; one is
active at a time.

*/

package types

// RiskPolicy holds all configurable risk limits and rebalance triggers.
// Every capital-moving primitive checks the relevant fields before submission.
type RiskPolicy struct {
	// --- Leverage & lending caps ---
	MaxLeverage      float64 `json:"max_leverage"`       // hard cap for hedge positions
	MaxDepositLTV    float64 `json:"max_deposit_ltv"`    // policy LTV cap after a supply-backed borrow
	MaxBorrowLTV     float64 `json:"max_borrow_ltv"`     // policy LTV cap for any borrow operation
	HardLTVCeiling   float64 `json:"hard_ltv_ceiling"`   // absolute ceiling the leverage loop clamps to
	FallbackLiqThreshold float64 `json:"fallback_liq_threshold"` // assumed liquidation threshold when the venue reports none

	// --- Allocation limits ---
	MaxStrategyAllocationPct float64 `json:"max_strategy_allocation_pct"` // largest share one strategy may hold
	MaxAssetAllocationPct    float64 `json:"max_asset_allocation_pct"`    // largest share one asset may hold
	LendingAllocationCapUSD  float64 `json:"lending_allocation_cap_usd"`  // absolute cap per lending venue

	// --- Cash & gas reserves ---
	CashReserveFloorPct     float64 `json:"cash_reserve_floor_pct"`    // below this, reduce deployed capital
	IdleStableThresholdUSD  float64 `json:"idle_stable_threshold_usd"` // idle stable above this triggers a deposit suggestion
	IdleNativeThresholdUSD  float64 `json:"idle_native_threshold_usd"` // idle native above this triggers a staking suggestion
	GasReserveFloorUSD      float64 `json:"gas_reserve_floor_usd"`     // per-chain working balance floor

	// --- Execution safety ---
	MaxPriceImpactPct    float64 `json:"max_price_impact_pct"`   // swaps abort above this
	SlippageTolerancePct float64 `json:"slippage_tolerance_pct"` // applied to minimum-out amounts
	NegligibleSidePct    float64 `json:"negligible_side_pct"`    // two-sided open aborts when one side is below this share of the other

	// --- Liquidity position management ---
	RangeWidthPct     float64 `json:"range_width_pct"`     // half-width of a new LP range around current price
	RangeUtilFloorPct float64 `json:"range_util_floor_pct"` // rebalance when utilization falls below this

	// --- Pool/venue eligibility ---
	MinPoolTVLUSD float64 `json:"min_pool_tvl_usd"`
	MinSupplyAPY  float64 `json:"min_supply_apy"`

	// --- Leverage loop ---
	LoopTargetFraction float64 `json:"loop_target_fraction"` // stop when LTV is within this fraction of target
	LoopHaircut        float64 `json:"loop_haircut"`         // borrow headroom safety haircut
	LoopMaxIterations  int     `json:"loop_max_iterations"`
	UnwindMaxSteps     int     `json:"unwind_max_steps"`
	UnwindStepFraction float64 `json:"unwind_step_fraction"` // collateral fraction withdrawn per unwind step

	// --- Scheduler ---
	MaxConsecutiveFailures int `json:"max_consecutive_failures"` // circuit breaker ceiling
}

// Validate rejects policies that would disable safety limits. Configuration
// errors are fatal at startup per the error taxonomy.
func (p RiskPolicy) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{p.MaxLeverage > 0, "max_leverage must be positive"},
		{p.MaxDepositLTV > 0 && p.MaxDepositLTV < 1, "max_deposit_ltv must be in (0, 1)"},
		{p.MaxBorrowLTV > 0 && p.MaxBorrowLTV < 1, "max_borrow_ltv must be in (0, 1)"},
		{p.HardLTVCeiling > 0 && p.HardLTVCeiling < 1, "hard_ltv_ceiling must be in (0, 1)"},
		{p.FallbackLiqThreshold > 0 && p.FallbackLiqThreshold < 1, "fallback_liq_threshold must be in (0, 1)"},
		{p.MaxBorrowLTV <= p.HardLTVCeiling, "max_borrow_ltv cannot exceed hard_ltv_ceiling"},
		{p.MaxStrategyAllocationPct > 0 && p.MaxStrategyAllocationPct <= 100, "max_strategy_allocation_pct must be in (0, 100]"},
		{p.CashReserveFloorPct >= 0 && p.CashReserveFloorPct < 100, "cash_reserve_floor_pct must be in [0, 100)"},
		{p.MaxPriceImpactPct > 0, "max_price_impact_pct must be positive"},
		{p.SlippageTolerancePct > 0, "slippage_tolerance_pct must be positive"},
		{p.RangeWidthPct > 0, "range_width_pct must be positive"},
		{p.LoopMaxIterations > 0, "loop_max_iterations must be positive"},
		{p.UnwindMaxSteps > 0, "unwind_max_steps must be positive"},
		{p.MaxConsecutiveFailures > 0, "max_consecutive_failures must be positive"},
	}
	for _, c := range checks {
		if !c.ok {
			return &PolicyError{Field: c.msg}
		}
	}
	return nil
}

// PolicyError names the policy field that failed validation.
type PolicyError struct {
	Field string
}

func (e *PolicyError) Error() string {
	return "invalid risk policy: " + e.Field
}
