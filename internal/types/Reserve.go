/*

This file contains the types for lending-market reserves and AMM pool metadata
discovered through the registry. Reserves are immutable within a scan cycle.

*/

package types

// ChainID identifies a supported blockchain.
type ChainID string

const (
	ChainEthereum ChainID = "ethereum"
	ChainArbitrum ChainID = "arbitrum"
	ChainBase     ChainID = "base"
)

// Reserve is a single tradable asset in a lending market.
type Reserve struct {
	Symbol               string  `json:"symbol"`                // e.g., "USDC"
	Address              string  `json:"address"`               // token contract address
	Decimals             int     `json:"decimals"`              // e.g., 6
	LiquidationThreshold float64 `json:"liquidation_threshold"` // LTV at which the position is liquidatable (0.0 to 1.0)
	BorrowCap            float64 `json:"borrow_cap"`            // conservative borrow LTV cap derived from the threshold
	SupplyAPY            float64 `json:"supply_apy"`            // current supply APY (percent)
	BorrowAPY            float64 `json:"borrow_apy"`            // current variable borrow APY (percent)
	IsStakingToken       bool    `json:"is_staking_token"`      // liquid-staking token flag
	StakingAPY           float64 `json:"staking_apy"`           // base staking yield when IsStakingToken
}

// PoolKey identifies a concentrated-liquidity pool.
type PoolKey string

// PoolMeta is the registry's view of a concentrated-liquidity pool.
type PoolMeta struct {
	Key         PoolKey `json:"key"`     // e.g., "WETH/USDC-500"
	Address     string  `json:"address"` // pool contract address
	Token0      string  `json:"token0"`  // symbol
	Token1      string  `json:"token1"`  // symbol
	Address0    string  `json:"address0"`
	Address1    string  `json:"address1"`
	Decimals0   int     `json:"decimals0"`
	Decimals1   int     `json:"decimals1"`
	FeeTierBps  int     `json:"fee_tier_bps"` // e.g., 500 = 0.05%
	TickSpacing int     `json:"tick_spacing"`
	TvlUSD      float64 `json:"tvl_usd"`
}

// DerivedBorrowCap computes the conservative borrow cap for a liquidation
// threshold. The cap keeps a fixed safety margin below the liquidation point.
func DerivedBorrowCap(liquidationThreshold float64) float64 {
	if liquidationThreshold <= 0 {
		return 0
	}
	cap := liquidationThreshold * 0.85
	if cap < 0 {
		cap = 0
	}
	return cap
}
