/*

Leverage loop controller. Builds a levered liquid-staking position by cycling
borrow -> convert -> redeposit until the account sits within 95% of the target
loan-to-value, and unwinds it with the mirror cycle. Every step is an explicit
state with a compensating action on failure: the loop never leaves a borrow
outstanding without attempting to repay it.

*/

package leverage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/lending"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoCollateral  = errors.New("loop requires an existing collateral deposit")
	ErrTargetInvalid = errors.New("target loan-to-value is invalid")
	ErrStepFailed    = errors.New("loop step failed")
	ErrUnwindStalled = errors.New("unwind reached its step limit with debt outstanding")
	ErrPriceRequired = errors.New("price lookup failed")
)

// State names one phase of the loop state machine.
type State string

const (
	StateIdle         State = "idle"
	StateBorrowing    State = "borrowing"
	StateConverting   State = "converting"
	StateRedepositing State = "redepositing"
	StateDone         State = "done"
	StateUnwinding    State = "unwinding"
)

// Executor is the slice of the execution primitives the loop drives.
type Executor interface {
	Supply(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult
	Withdraw(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult
	Borrow(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult
	Repay(ctx context.Context, chain types.ChainID, symbol string, amount float64) types.ExecResult
}

// Converter turns one held asset into another, e.g. swapping borrowed stable
// into the staking collateral.
type Converter interface {
	Convert(ctx context.Context, chain types.ChainID, fromSymbol, toSymbol string, amountUSD float64) error
}

// AccountReader reads the lending account's aggregate state.
type AccountReader interface {
	AccountData(ctx context.Context) (lending.AccountData, error)
}

// PriceSource supplies USD prices for sizing.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Params describes one loop run.
type Params struct {
	Chain            types.ChainID
	CollateralSymbol string
	DebtSymbol       string
	TargetLTV        float64
}

// Result reports how a loop or unwind run ended.
type Result struct {
	FinalState State              `json:"final_state"`
	Iterations int                `json:"iterations"`
	FinalLTV   float64            `json:"final_ltv"`
	Actions    []types.ExecResult `json:"actions"`
	Error      string             `json:"error,omitempty"`
}

// Controller runs leverage loops against one chain's lending market.
type Controller struct {
	exec      Executor
	converter Converter
	accounts  map[types.ChainID]AccountReader
	prices    PriceSource
	policy    types.RiskPolicy
	log       zerolog.Logger
}

// NewController builds the controller.
func NewController(exec Executor, converter Converter, accounts map[types.ChainID]AccountReader, prices PriceSource, policy types.RiskPolicy) *Controller {
	return &Controller{
		exec:      exec,
		converter: converter,
		accounts:  accounts,
		prices:    prices,
		policy:    policy,
		log:       logger.GetForComponent("leverage"),
	}
}

// Run executes the loop until the account is within 95% of the target LTV or
// an iteration fails. The target is clamped to the hard ceiling before
// anything moves, regardless of what the caller asked for.
func (c *Controller) Run(ctx context.Context, params Params) Result {
	result := Result{FinalState: StateIdle}

	if params.TargetLTV <= 0 {
		result.Error = errors.Join(ErrTargetInvalid, fmt.Errorf("target %f", params.TargetLTV)).Error()
		return result
	}
	target := params.TargetLTV
	if target > c.policy.HardLTVCeiling {
		c.log.Warn().
			Float64("requested", params.TargetLTV).
			Float64("ceiling", c.policy.HardLTVCeiling).
			Msg("Target LTV clamped to hard ceiling")
		target = c.policy.HardLTVCeiling
	}

	account, ok := c.accounts[params.Chain]
	if !ok {
		result.Error = fmt.Sprintf("no lending account reader for chain %s", params.Chain)
		return result
	}

	for result.Iterations = 0; result.Iterations < c.policy.LoopMaxIterations; result.Iterations++ {
		data, err := account.AccountData(ctx)
		if err != nil {
			result.Error = errors.Join(ErrStepFailed, err).Error()
			return result
		}
		if data.TotalCollateralUSD <= 0 {
			result.Error = ErrNoCollateral.Error()
			return result
		}

		ltv := data.TotalDebtUSD / data.TotalCollateralUSD
		result.FinalLTV = ltv
		if ltv >= target*c.policy.LoopTargetFraction {
			result.FinalState = StateDone
			c.log.Info().Float64("ltv", ltv).Float64("target", target).Int("iterations", result.Iterations).Msg("Leverage loop reached target")
			return result
		}

		headroomUSD := target*data.TotalCollateralUSD - data.TotalDebtUSD
		borrowUSD := headroomUSD * c.policy.LoopHaircut
		if borrowUSD < 1 {
			// Within a dollar of target; further iterations only burn gas.
			result.FinalState = StateDone
			return result
		}

		debtPrice, err := c.prices.Price(ctx, params.DebtSymbol)
		if err != nil || debtPrice <= 0 {
			result.Error = errors.Join(ErrPriceRequired, err).Error()
			return result
		}
		borrowAmount := borrowUSD / debtPrice

		result.FinalState = StateBorrowing
		borrow := c.exec.Borrow(ctx, params.Chain, params.DebtSymbol, borrowAmount)
		result.Actions = append(result.Actions, borrow)
		if !borrow.Success {
			result.Error = fmt.Sprintf("%s: borrow: %s", ErrStepFailed, borrow.Error)
			return result
		}

		result.FinalState = StateConverting
		if err := c.converter.Convert(ctx, params.Chain, params.DebtSymbol, params.CollateralSymbol, borrowUSD); err != nil {
			c.compensateBorrow(ctx, params, borrowAmount, &result)
			result.Error = fmt.Sprintf("%s: convert: %s", ErrStepFailed, err.Error())
			return result
		}

		collateralPrice, err := c.prices.Price(ctx, params.CollateralSymbol)
		if err != nil || collateralPrice <= 0 {
			c.compensateBorrow(ctx, params, borrowAmount, &result)
			result.Error = errors.Join(ErrPriceRequired, err).Error()
			return result
		}

		result.FinalState = StateRedepositing
		redeposit := c.exec.Supply(ctx, params.Chain, params.CollateralSymbol, borrowUSD/collateralPrice)
		result.Actions = append(result.Actions, redeposit)
		if !redeposit.Success {
			c.compensateBorrow(ctx, params, borrowAmount, &result)
			result.Error = fmt.Sprintf("%s: redeposit: %s", ErrStepFailed, redeposit.Error)
			return result
		}
	}

	result.FinalState = StateDone
	return result
}

// compensateBorrow tries to repay the just-borrowed amount so a failed
// iteration never leaves an un-backed borrow outstanding. Best effort: the
// repay itself failing is recorded, not retried.
func (c *Controller) compensateBorrow(ctx context.Context, params Params, borrowAmount float64, result *Result) {
	result.FinalState = StateUnwinding
	c.log.Warn().
		Str("chain", string(params.Chain)).
		Float64("amount", borrowAmount).
		Str("symbol", params.DebtSymbol).
		Msg("Loop step failed, repaying the just-borrowed amount")

	repay := c.exec.Repay(ctx, params.Chain, params.DebtSymbol, borrowAmount)
	result.Actions = append(result.Actions, repay)
	if !repay.Success {
		c.log.Error().Str("error", repay.Error).Msg("Compensating repay failed, manual intervention needed")
	}
}

// Unwind retires the loop's debt with the mirror cycle: withdraw a fraction
// of collateral, convert it back to the debt asset, repay. Bounded by the
// configured step limit.
func (c *Controller) Unwind(ctx context.Context, params Params) Result {
	result := Result{FinalState: StateUnwinding}

	account, ok := c.accounts[params.Chain]
	if !ok {
		result.Error = fmt.Sprintf("no lending account reader for chain %s", params.Chain)
		return result
	}

	for result.Iterations = 0; result.Iterations < c.policy.UnwindMaxSteps; result.Iterations++ {
		data, err := account.AccountData(ctx)
		if err != nil {
			result.Error = errors.Join(ErrStepFailed, err).Error()
			return result
		}
		if data.TotalCollateralUSD > 0 {
			result.FinalLTV = data.TotalDebtUSD / data.TotalCollateralUSD
		}
		if data.TotalDebtUSD < 1 {
			result.FinalState = StateDone
			c.log.Info().Int("steps", result.Iterations).Msg("Unwind retired the debt")
			return result
		}

		collateralPrice, err := c.prices.Price(ctx, params.CollateralSymbol)
		if err != nil || collateralPrice <= 0 {
			result.Error = errors.Join(ErrPriceRequired, err).Error()
			return result
		}

		stepUSD := data.TotalCollateralUSD * c.policy.UnwindStepFraction
		if stepUSD > data.TotalDebtUSD {
			stepUSD = data.TotalDebtUSD
		}

		withdraw := c.exec.Withdraw(ctx, params.Chain, params.CollateralSymbol, stepUSD/collateralPrice)
		result.Actions = append(result.Actions, withdraw)
		if !withdraw.Success {
			result.Error = fmt.Sprintf("%s: withdraw: %s", ErrStepFailed, withdraw.Error)
			return result
		}

		if err := c.converter.Convert(ctx, params.Chain, params.CollateralSymbol, params.DebtSymbol, stepUSD); err != nil {
			result.Error = fmt.Sprintf("%s: convert back: %s", ErrStepFailed, err.Error())
			return result
		}

		debtPrice, err := c.prices.Price(ctx, params.DebtSymbol)
		if err != nil || debtPrice <= 0 {
			result.Error = errors.Join(ErrPriceRequired, err).Error()
			return result
		}
		repay := c.exec.Repay(ctx, params.Chain, params.DebtSymbol, stepUSD/debtPrice)
		result.Actions = append(result.Actions, repay)
		if !repay.Success {
			result.Error = fmt.Sprintf("%s: repay: %s", ErrStepFailed, repay.Error)
			return result
		}
	}

	result.Error = ErrUnwindStalled.Error()
	return result
}
