package registry

import (
	"strings"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Seed tables used before the first successful discovery and whenever the
// live fetch is unavailable. Thresholds here are deliberately conservative;
// live-discovered values replace them on the first refresh.

// SeedReserves returns the fallback reserve table. Exposed so venue adapters
// can be constructed from the same asset list the registry falls back to.
func SeedReserves() []types.Reserve {
	return seedReserves()
}

// SeedPools returns the fallback pool table.
func SeedPools() []types.PoolMeta {
	return seedPools()
}

func seedReserves() []types.Reserve {
	return []types.Reserve{
		{
			Symbol:               "USDC",
			Address:              "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Decimals:             6,
			LiquidationThreshold: 0.78,
			BorrowCap:            types.DerivedBorrowCap(0.78),
			SupplyAPY:            2.0,
			BorrowAPY:            3.5,
		},
		{
			Symbol:               "WETH",
			Address:              "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Decimals:             18,
			LiquidationThreshold: 0.80,
			BorrowCap:            types.DerivedBorrowCap(0.80),
			SupplyAPY:            1.5,
			BorrowAPY:            2.6,
		},
		{
			Symbol:               "wstETH",
			Address:              "0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0",
			Decimals:             18,
			LiquidationThreshold: 0.79,
			BorrowCap:            types.DerivedBorrowCap(0.79),
			SupplyAPY:            0.1,
			BorrowAPY:            0.6,
			IsStakingToken:       true,
			StakingAPY:           3.2,
		},
	}
}

func seedPools() []types.PoolMeta {
	return []types.PoolMeta{
		{
			Key:         "WETH/USDC-500",
			Address:     "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640",
			Token0:      "USDC",
			Token1:      "WETH",
			Address0:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Address1:    "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Decimals0:   6,
			Decimals1:   18,
			FeeTierBps:  500,
			TickSpacing: 10,
			TvlUSD:      0, // unknown until refreshed
		},
	}
}

func equalAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

// addressFragment shortens an address for display when no symbol mapping
// exists, e.g. "0xA0b8..eB48".
func addressFragment(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + ".." + address[len(address)-4:]
}
