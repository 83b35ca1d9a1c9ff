/*

This file contains the result and suggestion types shared by the execution
primitives and the decision engine. Expected failures are data on these
structs, never raised errors; callers branch on the outcome.

*/

package types

import "time"

// Outcome is the tri-state result of a capital-moving operation. Unconfirmed
// means the submission went out but confirmation polling exhausted; it is
// reported distinctly so operators never double-submit.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnconfirmed Outcome = "unconfirmed"
)

// ExecResult is the structured result of one execution primitive call.
type ExecResult struct {
	Outcome   Outcome   `json:"outcome"`
	Success   bool      `json:"success"`
	TxHash    string    `json:"tx_hash,omitempty"` // empty in dry-run mode
	DryRun    bool      `json:"dry_run,omitempty"`
	GasUsed   uint64    `json:"gas_used,omitempty"`
	GasFeeUSD float64   `json:"gas_fee_usd,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Observed values, populated per operation
	AmountUSD  float64            `json:"amount_usd,omitempty"`
	Amounts    map[string]float64 `json:"amounts,omitempty"`     // symbol -> human amount
	PositionID uint64             `json:"position_id,omitempty"` // for open-LP

	// Error is the venue-reported or policy error text for failed outcomes.
	Error string `json:"error,omitempty"`
}

// Failed builds a failed result with the given reason.
func Failed(reason string) ExecResult {
	return ExecResult{Outcome: OutcomeFailed, Success: false, Error: reason, Timestamp: time.Now()}
}

// Priority ranks a rebalance suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SuggestionKind names the action a suggestion proposes.
type SuggestionKind string

const (
	SuggestReduceDeployed SuggestionKind = "reduce_deployed"
	SuggestLendingDeposit SuggestionKind = "lending_deposit"
	SuggestBridgeTopUp    SuggestionKind = "bridge_top_up"
	SuggestStakeNative    SuggestionKind = "stake_native"
	SuggestDiversify      SuggestionKind = "diversify"
)

// Suggestion is one ranked recommendation from the decision engine. The engine
// only suggests; a separate caller decides whether to act.
type Suggestion struct {
	Priority  Priority       `json:"priority"`
	Kind      SuggestionKind `json:"kind"`
	Chain     ChainID        `json:"chain,omitempty"`
	Venue     string         `json:"venue,omitempty"`
	AmountUSD float64        `json:"amount_usd,omitempty"`
	Reason    string         `json:"reason"` // human-readable, always populated
}
