package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPolicy() RiskPolicy {
	return RiskPolicy{
		MaxLeverage:              3.0,
		MaxDepositLTV:            0.50,
		MaxBorrowLTV:             0.65,
		HardLTVCeiling:           0.80,
		FallbackLiqThreshold:     0.70,
		MaxStrategyAllocationPct: 35.0,
		MaxAssetAllocationPct:    50.0,
		CashReserveFloorPct:      10.0,
		MaxPriceImpactPct:        3.0,
		SlippageTolerancePct:     1.0,
		RangeWidthPct:            10.0,
		LoopMaxIterations:        6,
		UnwindMaxSteps:           10,
		MaxConsecutiveFailures:   5,
	}
}

func TestPolicyValidateAcceptsSaneLimits(t *testing.T) {
	assert.NoError(t, validPolicy().Validate())
}

func TestPolicyValidateRejectsDisabledSafetyLimits(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RiskPolicy)
	}{
		{"zero leverage", func(p *RiskPolicy) { p.MaxLeverage = 0 }},
		{"deposit LTV at 1", func(p *RiskPolicy) { p.MaxDepositLTV = 1.0 }},
		{"borrow LTV above ceiling", func(p *RiskPolicy) { p.MaxBorrowLTV = 0.90 }},
		{"ceiling at 1", func(p *RiskPolicy) { p.HardLTVCeiling = 1.0; p.MaxBorrowLTV = 0.65 }},
		{"zero fallback threshold", func(p *RiskPolicy) { p.FallbackLiqThreshold = 0 }},
		{"strategy cap over 100", func(p *RiskPolicy) { p.MaxStrategyAllocationPct = 120.0 }},
		{"cash floor at 100", func(p *RiskPolicy) { p.CashReserveFloorPct = 100.0 }},
		{"zero price impact cap", func(p *RiskPolicy) { p.MaxPriceImpactPct = 0 }},
		{"zero slippage tolerance", func(p *RiskPolicy) { p.SlippageTolerancePct = 0 }},
		{"zero range width", func(p *RiskPolicy) { p.RangeWidthPct = 0 }},
		{"zero loop iterations", func(p *RiskPolicy) { p.LoopMaxIterations = 0 }},
		{"zero breaker ceiling", func(p *RiskPolicy) { p.MaxConsecutiveFailures = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := validPolicy()
			tc.mutate(&policy)
			err := policy.Validate()
			require.Error(t, err)
			var policyErr *PolicyError
			assert.ErrorAs(t, err, &policyErr)
		})
	}
}

func TestDerivedBorrowCap(t *testing.T) {
	assert.InDelta(t, 0.68, DerivedBorrowCap(0.80), 1e-9)
	assert.Zero(t, DerivedBorrowCap(0))
	assert.Zero(t, DerivedBorrowCap(-0.1))
}
