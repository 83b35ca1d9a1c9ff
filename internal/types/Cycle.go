/*

This file contains the persistent per-cycle snapshot written after every
scheduler run, used for performance tracking and the web dashboard.

*/

package types

import "time"

// ActionReceipt records the outcome of one executed action within a cycle.
type ActionReceipt struct {
	ReceiptID  int64      `json:"receipt_id,omitempty"` // auto-incremented by DB
	Suggestion Suggestion `json:"suggestion"`
	Result     ExecResult `json:"result"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CycleSnapshot captures the full before/after state of one scan cycle.
type CycleSnapshot struct {
	SnapshotID  int64     `json:"snapshot_id,omitempty"`
	CycleNumber int       `json:"cycle_number"`
	Timestamp   time.Time `json:"timestamp"`

	// Pre-action state
	InitialPortfolioUSD float64           `json:"initial_portfolio_usd"`
	InitialSnapshot     PortfolioSnapshot `json:"initial_snapshot"`

	// Analysis
	Suggestions []Suggestion `json:"suggestions"`

	// Outcome
	FinalPortfolioUSD float64         `json:"final_portfolio_usd"`
	ActionReceipts    []ActionReceipt `json:"action_receipts"`
	TransactionHashes []string        `json:"transaction_hashes"`
	TotalGasFeeUSD    float64         `json:"total_gas_fee_usd"`
	NetChangeUSD      float64         `json:"net_change_usd"`
	Errors            []string        `json:"errors,omitempty"`
}
