/*

This file contains the types for the aggregated portfolio view. A
PortfolioSnapshot is rebuilt on every scan and never persisted as the source of
truth; only position records (identifiers and open timestamps) are durable.

*/

package types

import "time"

// TokenBalance is one liquid token holding in a chain wallet.
type TokenBalance struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	ValueUSD float64 `json:"value_usd"`
}

// ChainBalance is the uninvested capital on one chain.
type ChainBalance struct {
	Chain        ChainID        `json:"chain"`
	NativeSymbol string         `json:"native_symbol"`
	NativeAmount float64        `json:"native_amount"`
	NativeUSD    float64        `json:"native_usd"`
	StableAmount float64        `json:"stable_amount"` // USDC
	StableUSD    float64        `json:"stable_usd"`
	StakedTokens []TokenBalance `json:"staked_tokens,omitempty"` // liquid-staking tokens held idle
	TotalUSD     float64        `json:"total_usd"`
}

// StrategyKind classifies an active allocation.
type StrategyKind string

const (
	StrategyLending   StrategyKind = "lending"
	StrategyLiquidity StrategyKind = "liquidity"
	StrategyHedge     StrategyKind = "hedge"
)

// StrategyAllocation is one active position annotated with its share of the
// total portfolio.
type StrategyAllocation struct {
	Kind             StrategyKind `json:"kind"`
	Chain            ChainID      `json:"chain"`
	Venue            string       `json:"venue"`
	Label            string       `json:"label"` // human-readable, e.g. "WETH/USDC-500 LP"
	ValueUSD         float64      `json:"value_usd"`
	PortfolioPct     float64      `json:"portfolio_pct"`
	UnrealizedPnLUSD float64      `json:"unrealized_pnl_usd"`

	// Risk annotations, populated per kind
	LoanToValue      float64 `json:"loan_to_value,omitempty"`
	HealthFactor     float64 `json:"health_factor,omitempty"`
	RangeUtilization float64 `json:"range_utilization,omitempty"`
	HedgeAtRisk      bool    `json:"hedge_at_risk,omitempty"`
}

// PortfolioSnapshot is the aggregate root built fresh on every scan.
type PortfolioSnapshot struct {
	Timestamp           time.Time            `json:"timestamp"`
	Balances            []ChainBalance       `json:"balances"`
	Allocations         []StrategyAllocation `json:"allocations"`
	TotalWalletUSD      float64              `json:"total_wallet_usd"`
	TotalDeployedUSD    float64              `json:"total_deployed_usd"`
	TotalPortfolioUSD   float64              `json:"total_portfolio_usd"`
	UnrealizedPnLUSD    float64              `json:"unrealized_pnl_usd"`
	RealizedPnLUSD      float64              `json:"realized_pnl_usd"`
	CashReservePct      float64              `json:"cash_reserve_pct"`      // 100 when the portfolio is empty
	TopConcentrationPct float64              `json:"top_concentration_pct"` // largest single strategy share
	Errors              []string             `json:"errors,omitempty"`      // per-source failures, snapshot still usable
}

// PositionRecord is the durable identity of an open position. The venue is the
// source of truth for whether the position still exists; the record is the
// source of truth for when it was opened and at what value.
type PositionRecord struct {
	ID            string       `json:"id"` // uuid
	Kind          StrategyKind `json:"kind"`
	Chain         ChainID      `json:"chain"`
	Venue         string       `json:"venue"`
	VenueRef      string       `json:"venue_ref"` // venue-side identifier (token id, coin, market)
	OpenedAt      time.Time    `json:"opened_at"`
	EntryValueUSD float64      `json:"entry_value_usd"`
	Closed        bool         `json:"closed"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
	ExitValueUSD  float64      `json:"exit_value_usd,omitempty"`
}
