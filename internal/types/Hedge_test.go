package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHedgeAtRisk(t *testing.T) {
	// Short opened at 3000, liquidation at 3900. Mark at 3000 sits ~23% below
	// liquidation: safe.
	hedge := HedgePosition{
		Coin:             "ETH",
		Side:             HedgeShort,
		MarkPrice:        3000.0,
		LiquidationPrice: 3900.0,
	}
	assert.False(t, hedge.AtRisk())

	hedge.MarkPrice = 3200.0 // ~18% of headroom left
	assert.True(t, hedge.AtRisk())

	hedge.MarkPrice = 4000.0 // past liquidation, definitely at risk
	assert.True(t, hedge.AtRisk())
}

func TestHedgeAtRiskUnpriced(t *testing.T) {
	assert.False(t, HedgePosition{MarkPrice: 3000.0}.AtRisk(), "no liquidation price reported")
	assert.False(t, HedgePosition{LiquidationPrice: 3900.0}.AtRisk(), "no mark price reported")
}
