/*

This file contains the types for concentrated-liquidity positions. A position
is created by an open operation and destroyed by a close; there is no in-place
range adjustment, a rebalance is always close-then-reopen.

*/

package types

// LiquidityPosition is one concentrated-liquidity AMM position.
type LiquidityPosition struct {
	Chain      ChainID `json:"chain"`
	Venue      string  `json:"venue"`       // e.g., "uniswap-v3"
	PositionID uint64  `json:"position_id"` // position token id minted by the venue
	Pool       PoolKey `json:"pool"`

	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Decimals0 int    `json:"decimals0"`
	Decimals1 int    `json:"decimals1"`

	LowerPrice   float64 `json:"lower_price"` // token1 per token0
	UpperPrice   float64 `json:"upper_price"`
	CurrentPrice float64 `json:"current_price"`

	Amount0 float64 `json:"amount0"` // current underlying, human units
	Amount1 float64 `json:"amount1"`
	Fees0   float64 `json:"fees0"` // accrued, unclaimed
	Fees1   float64 `json:"fees1"`

	ValueUSD float64 `json:"value_usd"`
}

// InRange reports whether the current price sits inside [lower, upper].
func (p LiquidityPosition) InRange() bool {
	return p.CurrentPrice >= p.LowerPrice && p.CurrentPrice <= p.UpperPrice
}

// RangeUtilization measures how centered the current price is within the
// range: 100 when exactly centered, 0 at either edge or outside the range.
func (p LiquidityPosition) RangeUtilization() float64 {
	halfRange := (p.UpperPrice - p.LowerPrice) / 2
	if halfRange <= 0 {
		return 0
	}
	midpoint := (p.UpperPrice + p.LowerPrice) / 2
	distance := p.CurrentPrice - midpoint
	if distance < 0 {
		distance = -distance
	}
	util := (1 - distance/halfRange) * 100
	if util < 0 {
		return 0
	}
	if util > 100 {
		return 100
	}
	return util
}
