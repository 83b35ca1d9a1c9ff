/*

This file contains the types for perpetual hedge positions. The engine only
ever holds shorts sized to offset spot exposure, never directional longs.

*/

package types

// HedgeSide is the direction of a perpetual position.
type HedgeSide string

const (
	HedgeShort HedgeSide = "short"
)

// HedgePosition is one perpetual position on the hedging venue.
type HedgePosition struct {
	Coin             string    `json:"coin"` // e.g., "ETH"
	Side             HedgeSide `json:"side"`
	Size             float64   `json:"size"`         // absolute contracts/coins
	NotionalUSD      float64   `json:"notional_usd"` // size * mark price
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	Leverage         float64   `json:"leverage"`
	LiquidationPrice float64   `json:"liquidation_price"`
	UnrealizedPnLUSD float64   `json:"unrealized_pnl_usd"`
}

// AtRisk reports whether the mark price sits within 20% of the liquidation
// price. For a short, risk grows as mark approaches liquidation from below.
func (h HedgePosition) AtRisk() bool {
	if h.LiquidationPrice <= 0 || h.MarkPrice <= 0 {
		return false
	}
	distance := (h.LiquidationPrice - h.MarkPrice) / h.LiquidationPrice
	if distance < 0 {
		distance = 0
	}
	return distance < 0.20
}
