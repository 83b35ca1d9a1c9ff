package amm

import "math"

// The tick base: each tick is a 0.01% price step.
const tickBase = 1.0001

// tickToPrice converts a pool tick to a human-unit price of token1 per
// token0, adjusting for the decimal difference between the two tokens.
func tickToPrice(tick int64, decimals0, decimals1 int) float64 {
	raw := math.Pow(tickBase, float64(tick))
	return raw * math.Pow(10, float64(decimals0-decimals1))
}

// priceToTick converts a human-unit price to the nearest initializable tick
// for the pool's tick spacing.
func priceToTick(price float64, decimals0, decimals1 int, tickSpacing int) int64 {
	if price <= 0 || tickSpacing <= 0 {
		return 0
	}
	raw := price * math.Pow(10, float64(decimals1-decimals0))
	tick := math.Log(raw) / math.Log(tickBase)
	spacing := float64(tickSpacing)
	return int64(math.Round(tick/spacing) * spacing)
}

// amountsForLiquidity approximates the raw token amounts backing a position
// with the given liquidity at the current tick. Below the range all value sits
// in token0, above it all in token1, inside it is split by the square-root
// price distances.
func amountsForLiquidity(liquidity float64, currentTick, tickLower, tickUpper int64) (amount0, amount1 float64) {
	if liquidity <= 0 || tickLower >= tickUpper {
		return 0, 0
	}

	sqrtLower := math.Pow(tickBase, float64(tickLower)/2)
	sqrtUpper := math.Pow(tickBase, float64(tickUpper)/2)
	sqrtCurrent := math.Pow(tickBase, float64(currentTick)/2)

	switch {
	case currentTick < tickLower:
		amount0 = liquidity * (1/sqrtLower - 1/sqrtUpper)
	case currentTick >= tickUpper:
		amount1 = liquidity * (sqrtUpper - sqrtLower)
	default:
		amount0 = liquidity * (1/sqrtCurrent - 1/sqrtUpper)
		amount1 = liquidity * (sqrtCurrent - sqrtLower)
	}
	return amount0, amount1
}
