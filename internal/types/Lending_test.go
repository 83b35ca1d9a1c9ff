package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoanToValue(t *testing.T) {
	position := LendingPosition{DepositValueUSD: 1000.0, BorrowValueUSD: 400.0}
	assert.InDelta(t, 0.4, position.LoanToValue(), 1e-9)

	empty := LendingPosition{}
	assert.Zero(t, empty.LoanToValue(), "no deposits means no leverage, not a division error")

	borrowOnly := LendingPosition{BorrowValueUSD: 100.0}
	assert.Zero(t, borrowOnly.LoanToValue())
}

func TestHealthFactor(t *testing.T) {
	position := LendingPosition{
		DepositValueUSD:      1000.0,
		BorrowValueUSD:       400.0,
		LiquidationThreshold: 0.80,
	}
	assert.InDelta(t, 2.0, position.HealthFactor(), 1e-9)

	noBorrows := LendingPosition{DepositValueUSD: 1000.0, LiquidationThreshold: 0.80}
	assert.True(t, math.IsInf(noBorrows.HealthFactor(), 1), "a position with no debt cannot be liquidated")
}

func TestLendingPositionEmptyAndEquity(t *testing.T) {
	assert.True(t, LendingPosition{}.Empty())
	assert.False(t, LendingPosition{DepositValueUSD: 1.0}.Empty())

	position := LendingPosition{DepositValueUSD: 1500.0, BorrowValueUSD: 600.0}
	assert.InDelta(t, 900.0, position.NetValueUSD(), 1e-9)
}
