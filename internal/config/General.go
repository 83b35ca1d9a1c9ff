package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// WalletPrivateKey is the hex-encoded signing key for the operating wallet.
	// Read once per process and reused by every chain client.
	WalletPrivateKey string

	// DryRun short-circuits every execution primitive before the state-changing
	// call. It is required, never defaulted: an operator must decide explicitly.
	DryRun bool

	// ScanIntervalMinutes drives the scheduler's periodic trigger.
	ScanIntervalMinutes uint64

	// FundingChain is the chain the orchestrator bridges stable capital from
	// when a destination chain holds nothing. Empty disables bridging.
	FundingChain string

	// StableSymbol is the stable reference asset used for funding and sizing.
	StableSymbol string

	// HedgeCoins are the coins the engine maintains short hedges for.
	HedgeCoins []string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Safety-relevant values are required and must be set; there are no silent defaults.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	WalletPrivateKey, err = getEnv("WALLET_PRIVATE_KEY")
	if err != nil {
		return err
	}

	DryRun, err = getEnvAsBool("DRY_RUN")
	if err != nil {
		return err
	}

	ScanIntervalMinutes, err = getEnvAsUint64("SCAN_INTERVAL_MINUTES")
	if err != nil {
		return err
	}
	if ScanIntervalMinutes == 0 {
		return errors.New("SCAN_INTERVAL_MINUTES must be positive")
	}

	// Optional: no funding source means the bridge fallback is skipped.
	FundingChain = os.Getenv("FUNDING_CHAIN")

	StableSymbol = os.Getenv("STABLE_SYMBOL")
	if StableSymbol == "" {
		StableSymbol = "USDC"
	}

	if coins := os.Getenv("HEDGE_COINS"); coins != "" {
		for _, c := range strings.Split(coins, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				HedgeCoins = append(HedgeCoins, strings.ToUpper(c))
			}
		}
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	// Load venue address configuration
	if err := loadAddressConfig(); err != nil {
		return err
	}

	log.Debug().
		Bool("DryRun", DryRun).
		Uint64("ScanIntervalMinutes", ScanIntervalMinutes).
		Str("FundingChain", FundingChain).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBool retrieves an environment variable as a bool. Returns error if not set or invalid.
func getEnvAsBool(key string) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}
