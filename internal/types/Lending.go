/*

This file contains the types for lending-market positions. A LendingPosition is
the per-wallet aggregate of deposits and borrows in one market; loan-to-value
and health factor are derived, never stored.

*/

package types

import "math"

// DepositEntry is one supplied asset inside a lending position.
type DepositEntry struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`    // human units
	ValueUSD float64 `json:"value_usd"` // priced at snapshot time
	APY      float64 `json:"apy"`       // supply APY (percent)
}

// BorrowEntry is one borrowed asset inside a lending position.
type BorrowEntry struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	ValueUSD float64 `json:"value_usd"`
	APY      float64 `json:"apy"` // borrow APY (percent)
}

// LendingPosition aggregates one wallet's deposits and borrows in one market.
type LendingPosition struct {
	Chain                ChainID        `json:"chain"`
	Venue                string         `json:"venue"` // e.g., "aave-v3"
	Wallet               string         `json:"wallet"`
	Deposits             []DepositEntry `json:"deposits"`
	Borrows              []BorrowEntry  `json:"borrows"`
	DepositValueUSD      float64        `json:"deposit_value_usd"`
	BorrowValueUSD       float64        `json:"borrow_value_usd"`
	LiquidationThreshold float64        `json:"liquidation_threshold"` // weighted threshold reported by the venue
}

// LoanToValue returns borrowValueUsd / depositValueUsd, 0 when nothing is deposited.
func (p LendingPosition) LoanToValue() float64 {
	if p.DepositValueUSD <= 0 {
		return 0
	}
	return p.BorrowValueUSD / p.DepositValueUSD
}

// HealthFactor returns liquidationThreshold / loanToValue. A position with no
// borrows cannot be liquidated and reports +Inf.
func (p LendingPosition) HealthFactor() float64 {
	ltv := p.LoanToValue()
	if ltv <= 0 {
		return math.Inf(1)
	}
	return p.LiquidationThreshold / ltv
}

// Empty reports whether the position holds no deposits and no borrows.
func (p LendingPosition) Empty() bool {
	return p.DepositValueUSD <= 0 && p.BorrowValueUSD <= 0
}

// NetValueUSD is the equity in the position (deposits minus borrows).
func (p LendingPosition) NetValueUSD() float64 {
	return p.DepositValueUSD - p.BorrowValueUSD
}
