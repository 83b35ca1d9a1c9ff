package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInRange(t *testing.T) {
	position := LiquidityPosition{LowerPrice: 2700.0, UpperPrice: 3300.0}

	position.CurrentPrice = 3000.0
	assert.True(t, position.InRange())

	position.CurrentPrice = 2700.0
	assert.True(t, position.InRange(), "the boundary itself still earns fees")

	position.CurrentPrice = 3301.0
	assert.False(t, position.InRange())
}

func TestRangeUtilization(t *testing.T) {
	position := LiquidityPosition{LowerPrice: 2700.0, UpperPrice: 3300.0}

	position.CurrentPrice = 3000.0
	assert.InDelta(t, 100.0, position.RangeUtilization(), 1e-9, "centered price, full utilization")

	position.CurrentPrice = 2850.0
	assert.InDelta(t, 50.0, position.RangeUtilization(), 1e-9, "halfway to the edge")

	position.CurrentPrice = 2700.0
	assert.Zero(t, position.RangeUtilization(), "at the edge nothing is working")

	position.CurrentPrice = 2000.0
	assert.Zero(t, position.RangeUtilization(), "outside the range clamps to zero")

	degenerate := LiquidityPosition{LowerPrice: 3000.0, UpperPrice: 3000.0, CurrentPrice: 3000.0}
	assert.Zero(t, degenerate.RangeUtilization(), "zero-width range is never utilized")
}
