package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/MRT0B13/NovaOS-sub002/internal/config"
	"github.com/MRT0B13/NovaOS-sub002/internal/engine"
	"github.com/MRT0B13/NovaOS-sub002/internal/executor"
	"github.com/MRT0B13/NovaOS-sub002/internal/funding"
	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/portfolio"
	"github.com/MRT0B13/NovaOS-sub002/internal/pricing"
	"github.com/MRT0B13/NovaOS-sub002/internal/rebalancer"
	"github.com/MRT0B13/NovaOS-sub002/internal/registry"
	"github.com/MRT0B13/NovaOS-sub002/internal/scheduler"
	"github.com/MRT0B13/NovaOS-sub002/internal/state"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/amm"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/bridge"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/lending"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/perp"
	"github.com/MRT0B13/NovaOS-sub002/internal/web"
)

const (
	POLICY_CONFIG_NAME = "default_risk_policy"
	NATIVE_SYMBOL      = "ETH"
	WRAPPED_SYMBOL     = "WETH"
)

// main is the entry point for the treasury rebalancing engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Treasury rebalancing engine starting...")

	if config.DryRun {
		log.Warn().Msg("DRY_RUN is enabled: every primitive validates and simulates, nothing is submitted.")
	} else {
		log.Warn().Msg("LIVE mode. Real transactions will be broadcast.")
	}

	// Initialize database connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	ctx := context.Background()

	// Load the active risk policy, saving the conservative default when the
	// store is empty.
	policy, err := state.LoadOrSaveDefaultPolicy(ctx, POLICY_CONFIG_NAME, config.DefaultRiskPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load risk policy")
	}
	log.Info().Msg("Risk policy loaded successfully.")

	// --- 2. Chain Clients & Venue Adapters ---
	clients := make(map[types.ChainID]*evm.Client)
	for chainName, rpcURL := range config.ChainRPC {
		chain := types.ChainID(chainName)
		client, err := evm.Dial(chain, rpcURL, config.WalletPrivateKey)
		if err != nil {
			log.Fatal().Err(err).Str("chain", chainName).Msg("Failed to connect chain client")
		}
		defer client.Close()
		clients[chain] = client
		log.Info().Str("chain", chainName).Str("wallet", client.Wallet().Hex()).Msg("Chain client connected")
	}

	oracle := pricing.NewOracle(config.OracleURL)
	priceOf := func(symbol string) float64 {
		price, err := oracle.Price(context.Background(), symbol)
		if err != nil {
			return 0
		}
		return price
	}

	seedReserves := registry.SeedReserves()
	seedPools := registry.SeedPools()

	assets := make([]lending.Asset, 0, len(seedReserves))
	for _, reserve := range seedReserves {
		assets = append(assets, lending.Asset{
			Symbol:         reserve.Symbol,
			Address:        reserve.Address,
			Decimals:       reserve.Decimals,
			IsStakingToken: reserve.IsStakingToken,
			StakingAPY:     reserve.StakingAPY,
		})
	}

	markets := make(map[types.ChainID]*lending.Market)
	ammVenues := make(map[types.ChainID]*amm.Venue)
	for chain, client := range clients {
		if pool, ok := config.LendingPool[string(chain)]; ok {
			markets[chain] = lending.NewMarket(client, pool, assets)
		}
		if manager, ok := config.PositionManager[string(chain)]; ok {
			ammVenues[chain] = amm.NewVenue(client, manager, seedPools, priceOf)
		}
	}
	if len(markets) == 0 && len(ammVenues) == 0 {
		log.Fatal().Msg("No venue addresses configured; set LENDING_POOL_<CHAIN> or POSITION_MANAGER_<CHAIN>")
	}

	reg := registry.New(&compositeSource{markets: markets, amms: ammVenues})
	if err := reg.Refresh(ctx, true); err != nil {
		log.Warn().Err(err).Msg("Initial registry refresh failed, running on seed tables")
	}

	perpVenue, err := perp.NewVenue(ctx, config.WalletPrivateKey, config.HyperliquidURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize hedging venue")
	}

	bridgeClient := bridge.NewClient(config.AggregatorURL)
	router := funding.NewAggregatorRouter(bridgeClient, clients)
	_ = router // not yet wired into a funding.Orchestrator

	wallets := make(map[types.ChainID]funding.Wallet)
	for chain, client := range clients {
		wrapped, ok := config.WrappedNative[string(chain)]
		if !ok {
			log.Fatal().Str("chain", string(chain)).Msg("WRAPPED_NATIVE_<CHAIN> is required for every configured chain")
		}
		wallets[chain] = funding.NewChainWallet(client, wrapped)
	}

	// --- 3. Execution & Strategy Layers ---
	lendMap := make(map[types.ChainID]executor.LendingMarket, len(markets))
	for chain, market := range markets {
		lendMap[chain] = market
	}
	ammMap := make(map[types.ChainID]executor.LiquidityVenue, len(ammVenues))
	for chain, venue := range ammVenues {
		ammMap[chain] = venue
	}

	exec := executor.New(lendMap, ammMap, perpVenue, reg, oracle, policy, config.DryRun)

	lpReaders := make(map[types.ChainID]rebalancer.PositionReader, len(ammVenues))
	for chain, venue := range ammVenues {
		lpReaders[chain] = venue
	}
	lpRebalancer := rebalancer.New(exec, lpReaders, oracle, policy)
	lpMaintainer := rebalancer.NewMaintainer(lpRebalancer, state.PositionStore{})

	// --- 4. Portfolio Aggregation ---
	stable, ok := reg.ReserveBySymbol(config.StableSymbol)
	if !ok {
		log.Fatal().Str("symbol", config.StableSymbol).Msg("Stable asset is not in the registry")
	}
	var stakingTokens []portfolio.TrackedToken
	for _, reserve := range seedReserves {
		if reserve.IsStakingToken {
			stakingTokens = append(stakingTokens, portfolio.TrackedToken{
				Symbol:    reserve.Symbol,
				Address:   addressOf(reserve.Address),
				Decimals:  reserve.Decimals,
				IsStaking: true,
			})
		}
	}

	var balanceReaders []portfolio.BalanceReader
	for _, client := range clients {
		balanceReaders = append(balanceReaders, portfolio.NewChainBalances(
			client,
			NATIVE_SYMBOL,
			portfolio.TrackedToken{Symbol: stable.Symbol, Address: addressOf(stable.Address), Decimals: stable.Decimals},
			stakingTokens,
		))
	}
	var lendingReaders []portfolio.LendingReader
	for _, market := range markets {
		lendingReaders = append(lendingReaders, market)
	}
	liquidityReaders := make(map[types.ChainID]portfolio.LiquidityReader, len(ammVenues))
	for chain, venue := range ammVenues {
		liquidityReaders[chain] = venue
	}

	aggregator := portfolio.New(
		balanceReaders,
		lendingReaders,
		liquidityReaders,
		perpVenue,
		state.PositionStore{},
		oracle,
		reg,
	)

	// --- 5. Scheduler & Web API ---
	runner := scheduler.NewExecRunner(exec, oracle, config.StableSymbol)
	sched, err := scheduler.New(
		aggregator,
		reg,
		policyHolder{policy},
		engine.Analyse,
		runner,
		state.CycleStore{},
		time.Duration(config.ScanIntervalMinutes)*time.Minute,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	sched.AttachMaintainer(lpMaintainer)

	webPort := os.Getenv("WEB_PORT")
	webServer := web.NewWebServer(webPort, sched, POLICY_CONFIG_NAME)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	log.Info().
		Uint64("intervalMinutes", config.ScanIntervalMinutes).
		Int("chains", len(clients)).
		Int("lendingMarkets", len(markets)).
		Int("ammVenues", len(ammVenues)).
		Msg("Starting main scan loop")
	sched.RunLoop(ctx)
}

// compositeSource merges every venue's discovery read into the registry's
// single refresh call. A venue that fails fails the refresh; the registry
// falls back to its last-good tables.
type compositeSource struct {
	markets map[types.ChainID]*lending.Market
	amms    map[types.ChainID]*amm.Venue
}

func (s *compositeSource) FetchReserves(ctx context.Context) ([]types.Reserve, error) {
	var reserves []types.Reserve
	for _, market := range s.markets {
		fetched, err := market.FetchReserves(ctx)
		if err != nil {
			return nil, err
		}
		reserves = append(reserves, fetched...)
	}
	return reserves, nil
}

func (s *compositeSource) FetchPools(ctx context.Context) ([]types.PoolMeta, error) {
	var pools []types.PoolMeta
	for _, venue := range s.amms {
		fetched, err := venue.FetchPools(ctx)
		if err != nil {
			return nil, err
		}
		pools = append(pools, fetched...)
	}
	return pools, nil
}

// policyHolder serves the policy loaded at startup. Activating a different
// policy version requires a restart; the store is the mutation surface.
type policyHolder struct {
	policy types.RiskPolicy
}

func (h policyHolder) Policy() types.RiskPolicy { return h.policy }

func addressOf(hex string) common.Address {
	return common.HexToAddress(hex)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
