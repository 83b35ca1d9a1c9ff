/*

Funding orchestrator. Before a position opens on a chain, this component
makes the required assets exist there, trying the cheapest source first:
existing balance, then bridging stable from the funding chain, then swapping
stable into the missing side, then wrapping native. Each step only runs when
the previous ones left the requirement unmet.

In dry-run mode every route is still quoted and validated, but execution is
skipped and the quoted amounts are credited synthetically so the fallback
chain reaches the same verdict it would live.

*/

package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/bridge"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoWallet        = errors.New("no wallet configured for chain")
	ErrImpactTooHigh   = errors.New("swap price impact exceeds the ceiling")
	ErrSideNegligible  = errors.New("one side of the pair is negligible after funding")
	ErrUnknownSymbol   = errors.New("symbol is not in the registry")
	ErrFundingFailed   = errors.New("funding step failed")
	ErrNothingRequired = errors.New("requirement has no positive side")
)

// Wallet is the per-chain balance and wrap surface the orchestrator consumes.
type Wallet interface {
	TokenBalance(ctx context.Context, tokenAddress string, decimals int) (float64, error)
	NativeBalance(ctx context.Context) (float64, error)
	WrapNative(ctx context.Context, amount float64) (evm.TxOutcome, error)
	Address() string
}

// Router quotes and executes bridge/swap routes.
type Router interface {
	GetQuote(ctx context.Context, req bridge.QuoteRequest) (bridge.Quote, error)
	Execute(ctx context.Context, chain types.ChainID, req bridge.QuoteRequest, quote bridge.Quote) (evm.TxOutcome, error)
}

// ReserveLookup resolves symbols to token metadata.
type ReserveLookup interface {
	ReserveBySymbol(symbol string) (types.Reserve, bool)
}

// PriceSource supplies USD prices for sizing.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Requirement names the assets a position open needs on one chain, sized in
// USD per side. Token1 empty means a single-sided requirement.
type Requirement struct {
	Chain      types.ChainID
	Token0     string
	Token1     string
	Amount0USD float64
	Amount1USD float64
}

// Report records what the orchestrator did and the balances it ended with.
type Report struct {
	Steps       []string `json:"steps"`
	Balance0    float64  `json:"balance0"` // human units of Token0
	Balance1    float64  `json:"balance1"` // human units of Token1
	Balance0USD float64  `json:"balance0_usd"`
	Balance1USD float64  `json:"balance1_usd"`
}

// state carries the in-flight report plus the dry-run synthetic credits.
type state struct {
	report  Report
	credits map[string]float64 // symbol -> USD credited by skipped executions
}

// Orchestrator drives the funding fallback chain.
type Orchestrator struct {
	wallets       map[types.ChainID]Wallet
	router        Router
	registry      ReserveLookup
	prices        PriceSource
	policy        types.RiskPolicy
	fundingChain  types.ChainID
	stableSymbol  string
	wrappedNative string
	dryRun        bool
	log           zerolog.Logger
}

// New builds the orchestrator. fundingChain may be empty when no bridge
// source is configured; the bridge step is then skipped.
func New(
	wallets map[types.ChainID]Wallet,
	router Router,
	reg ReserveLookup,
	prices PriceSource,
	policy types.RiskPolicy,
	fundingChain types.ChainID,
	stableSymbol, wrappedNative string,
	dryRun bool,
) *Orchestrator {
	return &Orchestrator{
		wallets:       wallets,
		router:        router,
		registry:      reg,
		prices:        prices,
		policy:        policy,
		fundingChain:  fundingChain,
		stableSymbol:  stableSymbol,
		wrappedNative: wrappedNative,
		dryRun:        dryRun,
		log:           logger.GetForComponent("funding"),
	}
}

// Ensure runs the fallback chain for the requirement. On success both sides
// hold at least a non-negligible share of their target; on failure the report
// still lists the steps that did run.
func (o *Orchestrator) Ensure(ctx context.Context, req Requirement) (Report, error) {
	st := &state{credits: make(map[string]float64)}

	if req.Amount0USD <= 0 && req.Amount1USD <= 0 {
		return st.report, ErrNothingRequired
	}
	wallet, ok := o.wallets[req.Chain]
	if !ok {
		return st.report, errors.Join(ErrNoWallet, fmt.Errorf("chain %s", req.Chain))
	}

	// Step 1: existing balances.
	if err := o.readBalances(ctx, wallet, req, st); err != nil {
		return st.report, err
	}
	st.report.Steps = append(st.report.Steps, "read existing balances")

	// Step 2: bridge stable in when both sides are empty and a source exists.
	if st.report.Balance0USD == 0 && st.report.Balance1USD == 0 &&
		o.fundingChain != "" && o.fundingChain != req.Chain {
		if err := o.bridgeStable(ctx, req, st); err != nil {
			return st.report, err
		}
		if err := o.readBalances(ctx, wallet, req, st); err != nil {
			return st.report, err
		}
	}

	// Step 3: swap stable into whichever side is still missing.
	for _, side := range []struct {
		symbol    string
		haveUSD   float64
		targetUSD float64
	}{
		{req.Token0, st.report.Balance0USD, req.Amount0USD},
		{req.Token1, st.report.Balance1USD, req.Amount1USD},
	} {
		if side.symbol == "" || side.symbol == o.stableSymbol || side.haveUSD >= side.targetUSD {
			continue
		}
		if err := o.swapStableInto(ctx, req.Chain, side.symbol, side.targetUSD-side.haveUSD, st); err != nil {
			return st.report, err
		}
	}
	if err := o.readBalances(ctx, wallet, req, st); err != nil {
		return st.report, err
	}

	// Step 4: wrap native when the wrapped form is required and none is held.
	if err := o.wrapIfNeeded(ctx, wallet, req, st); err != nil {
		return st.report, err
	}

	// Final check: a two-sided open with one negligible side would revert at
	// the venue; abort here with a descriptive error instead.
	if req.Token1 != "" && req.Amount0USD > 0 && req.Amount1USD > 0 {
		larger := st.report.Balance0USD
		smaller := st.report.Balance1USD
		if smaller > larger {
			larger, smaller = smaller, larger
		}
		if larger <= 0 || smaller < larger*o.policy.NegligibleSidePct/100.0 {
			return st.report, errors.Join(ErrSideNegligible,
				fmt.Errorf("%s $%.2f vs %s $%.2f after %d funding steps",
					req.Token0, st.report.Balance0USD, req.Token1, st.report.Balance1USD, len(st.report.Steps)))
		}
	}

	return st.report, nil
}

func (o *Orchestrator) readBalances(ctx context.Context, wallet Wallet, req Requirement, st *state) error {
	var err error
	st.report.Balance0, st.report.Balance0USD, err = o.balanceOf(ctx, wallet, req.Token0, st)
	if err != nil {
		return err
	}
	if req.Token1 != "" {
		st.report.Balance1, st.report.Balance1USD, err = o.balanceOf(ctx, wallet, req.Token1, st)
	}
	return err
}

func (o *Orchestrator) balanceOf(ctx context.Context, wallet Wallet, symbol string, st *state) (float64, float64, error) {
	if symbol == "" {
		return 0, 0, nil
	}
	reserve, ok := o.registry.ReserveBySymbol(symbol)
	if !ok {
		return 0, 0, errors.Join(ErrUnknownSymbol, fmt.Errorf("symbol %s", symbol))
	}
	balance, err := wallet.TokenBalance(ctx, reserve.Address, reserve.Decimals)
	if err != nil {
		return 0, 0, errors.Join(ErrFundingFailed, err)
	}
	price, err := o.prices.Price(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}

	valueUSD := balance * price
	if credit := st.credits[symbol]; credit > 0 && price > 0 {
		valueUSD += credit
		balance += credit / price
	}
	return balance, valueUSD, nil
}

func (o *Orchestrator) bridgeStable(ctx context.Context, req Requirement, st *state) error {
	totalUSD := req.Amount0USD + req.Amount1USD
	stable, ok := o.registry.ReserveBySymbol(o.stableSymbol)
	if !ok {
		return errors.Join(ErrUnknownSymbol, fmt.Errorf("stable %s", o.stableSymbol))
	}
	source, ok := o.wallets[o.fundingChain]
	if !ok {
		return errors.Join(ErrNoWallet, fmt.Errorf("funding chain %s", o.fundingChain))
	}

	amount, err := utils.Float64ToBigInt(totalUSD, stable.Decimals)
	if err != nil {
		return err
	}
	quoteReq := bridge.QuoteRequest{
		FromChain:   o.fundingChain,
		ToChain:     req.Chain,
		FromToken:   stable.Address,
		ToToken:     stable.Address,
		FromAmount:  amount.String(),
		FromAddress: source.Address(),
	}

	quote, err := o.router.GetQuote(ctx, quoteReq)
	if err != nil {
		return errors.Join(ErrFundingFailed, err)
	}

	step := fmt.Sprintf("bridge $%.2f %s from %s", totalUSD, o.stableSymbol, o.fundingChain)
	if o.dryRun {
		st.credits[o.stableSymbol] += totalUSD
		st.report.Steps = append(st.report.Steps, step+" (dry-run)")
		o.log.Info().Str("step", step).Msg("Dry-run: bridge validated, skipping execution")
		return nil
	}

	if _, err := o.router.Execute(ctx, o.fundingChain, quoteReq, quote); err != nil {
		return errors.Join(ErrFundingFailed, err)
	}
	st.report.Steps = append(st.report.Steps, step)
	o.log.Info().Str("step", step).Msg("Funding step executed")
	return nil
}

func (o *Orchestrator) swapStableInto(ctx context.Context, chain types.ChainID, symbol string, amountUSD float64, st *state) error {
	stable, ok := o.registry.ReserveBySymbol(o.stableSymbol)
	if !ok {
		return errors.Join(ErrUnknownSymbol, fmt.Errorf("stable %s", o.stableSymbol))
	}
	target, ok := o.registry.ReserveBySymbol(symbol)
	if !ok {
		return errors.Join(ErrUnknownSymbol, fmt.Errorf("symbol %s", symbol))
	}
	wallet := o.wallets[chain]

	// Never swap more stable than is actually held.
	_, stableUSD, err := o.balanceOf(ctx, wallet, o.stableSymbol, st)
	if err != nil {
		return err
	}
	if stableUSD <= 0 {
		return errors.Join(ErrFundingFailed, fmt.Errorf("no %s on %s to swap into %s", o.stableSymbol, chain, symbol))
	}
	if amountUSD > stableUSD {
		amountUSD = stableUSD
	}

	amount, err := utils.Float64ToBigInt(amountUSD, stable.Decimals)
	if err != nil {
		return err
	}
	quoteReq := bridge.QuoteRequest{
		FromChain:   chain,
		ToChain:     chain,
		FromToken:   stable.Address,
		ToToken:     target.Address,
		FromAmount:  amount.String(),
		FromAddress: wallet.Address(),
	}

	quote, err := o.router.GetQuote(ctx, quoteReq)
	if err != nil {
		return errors.Join(ErrFundingFailed, err)
	}
	if quote.PriceImpactPct > o.policy.MaxPriceImpactPct {
		return errors.Join(ErrImpactTooHigh,
			fmt.Errorf("swap %s->%s impact %.2f%% > %.2f%%", o.stableSymbol, symbol, quote.PriceImpactPct, o.policy.MaxPriceImpactPct))
	}

	step := fmt.Sprintf("swap $%.2f %s into %s on %s", amountUSD, o.stableSymbol, symbol, chain)
	if o.dryRun {
		st.credits[symbol] += amountUSD
		st.credits[o.stableSymbol] -= amountUSD
		st.report.Steps = append(st.report.Steps, step+" (dry-run)")
		o.log.Info().Str("step", step).Msg("Dry-run: swap validated, skipping execution")
		return nil
	}

	if _, err := o.router.Execute(ctx, chain, quoteReq, quote); err != nil {
		return errors.Join(ErrFundingFailed, err)
	}
	st.report.Steps = append(st.report.Steps, step)
	o.log.Info().Str("step", step).Msg("Funding step executed")
	return nil
}

func (o *Orchestrator) wrapIfNeeded(ctx context.Context, wallet Wallet, req Requirement, st *state) error {
	needsWrapped := req.Token0 == o.wrappedNative || req.Token1 == o.wrappedNative
	if !needsWrapped {
		return nil
	}

	var haveUSD, targetUSD float64
	if req.Token0 == o.wrappedNative {
		haveUSD, targetUSD = st.report.Balance0USD, req.Amount0USD
	} else {
		haveUSD, targetUSD = st.report.Balance1USD, req.Amount1USD
	}
	if haveUSD > 0 || targetUSD <= 0 {
		return nil
	}

	nativeBalance, err := wallet.NativeBalance(ctx)
	if err != nil {
		return errors.Join(ErrFundingFailed, err)
	}
	price, err := o.prices.Price(ctx, "ETH")
	if err != nil {
		return err
	}

	// Keep the gas reserve in unwrapped native.
	availableUSD := nativeBalance*price - o.policy.GasReserveFloorUSD
	if availableUSD <= 0 {
		return nil
	}
	wrapUSD := targetUSD
	if wrapUSD > availableUSD {
		wrapUSD = availableUSD
	}
	wrapAmount := wrapUSD / price

	step := fmt.Sprintf("wrap %.6f native into %s", wrapAmount, o.wrappedNative)
	if o.dryRun {
		st.credits[o.wrappedNative] += wrapUSD
		st.report.Steps = append(st.report.Steps, step+" (dry-run)")
		o.log.Info().Str("step", step).Msg("Dry-run: wrap validated, skipping execution")
	} else {
		if _, err := wallet.WrapNative(ctx, wrapAmount); err != nil {
			return errors.Join(ErrFundingFailed, err)
		}
		st.report.Steps = append(st.report.Steps, step)
		o.log.Info().Str("step", step).Msg("Funding step executed")
	}

	return o.readBalances(ctx, wallet, req, st)
}
