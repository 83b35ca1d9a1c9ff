package config

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// ChainRPC maps a chain name to its JSON-RPC endpoint. A chain is enabled
	// by giving it an RPC_<NAME> variable; there is no hard-coded chain list.
	ChainRPC map[string]string

	// OracleURL is the base URL of the USD price oracle API.
	OracleURL string

	// AggregatorURL is the base URL of the swap/bridge aggregator API.
	AggregatorURL string

	// HyperliquidURL is the base URL of the perpetual hedging venue.
	HyperliquidURL string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	ChainRPC = make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "RPC_") {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		chain := strings.ToLower(strings.TrimPrefix(parts[0], "RPC_"))
		ChainRPC[chain] = parts[1]
	}
	if len(ChainRPC) == 0 {
		return errors.New("at least one RPC_<CHAIN> endpoint must be configured")
	}

	OracleURL, err = getEnv("ORACLE_URL")
	if err != nil {
		return err
	}

	AggregatorURL, err = getEnv("AGGREGATOR_URL")
	if err != nil {
		return err
	}

	HyperliquidURL, err = getEnv("HYPERLIQUID_URL")
	if err != nil {
		return err
	}

	log.Debug().
		Int("chains", len(ChainRPC)).
		Str("OracleURL", OracleURL).
		Str("AggregatorURL", AggregatorURL).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
