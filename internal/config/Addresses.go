package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Per-chain venue contract addresses loaded from environment variables.
// A venue is enabled on a chain by giving it the matching variable; a chain
// without a lending pool address simply has no lending market.
var (
	// LendingPool maps a chain name to its lending pool contract
	// (LENDING_POOL_<CHAIN>).
	LendingPool map[string]string

	// PositionManager maps a chain name to the AMM position manager contract
	// (POSITION_MANAGER_<CHAIN>).
	PositionManager map[string]string

	// WrappedNative maps a chain name to its wrapped-native token contract
	// (WRAPPED_NATIVE_<CHAIN>). Required for every configured chain: funding
	// cannot wrap gas token without it.
	WrappedNative map[string]string
)

// loadAddressConfig loads venue contract addresses from environment variables.
// This function is called by LoadConfig() in General.go.
func loadAddressConfig() error {
	LendingPool = envAddressMap("LENDING_POOL_")
	PositionManager = envAddressMap("POSITION_MANAGER_")
	WrappedNative = envAddressMap("WRAPPED_NATIVE_")

	log.Debug().
		Int("lendingPools", len(LendingPool)).
		Int("positionManagers", len(PositionManager)).
		Int("wrappedNatives", len(WrappedNative)).
		Msg("Venue address configuration loaded.")
	return nil
}

func envAddressMap(prefix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		chain := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		out[chain] = parts[1]
	}
	return out
}
