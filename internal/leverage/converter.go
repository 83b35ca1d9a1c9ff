package leverage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/funding"
	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/bridge"
)

// Error definitions for zero-tolerance error handling
var (
	ErrConvertImpact = errors.New("conversion price impact exceeds the ceiling")
	ErrConvertFailed = errors.New("conversion failed")
)

// RouteConverter converts assets through the swap aggregator. For the
// liquid-staking collateral the aggregator routes through the staking wrapper
// directly when that is the best execution, so a dedicated staking adapter is
// not needed here.
type RouteConverter struct {
	router   funding.Router
	registry funding.ReserveLookup
	wallets  map[types.ChainID]funding.Wallet
	prices   PriceSource
	policy   types.RiskPolicy
	dryRun   bool
	log      zerolog.Logger
}

// NewRouteConverter builds the converter.
func NewRouteConverter(router funding.Router, reg funding.ReserveLookup, wallets map[types.ChainID]funding.Wallet, prices PriceSource, policy types.RiskPolicy, dryRun bool) *RouteConverter {
	return &RouteConverter{
		router:   router,
		registry: reg,
		wallets:  wallets,
		prices:   prices,
		policy:   policy,
		dryRun:   dryRun,
		log:      logger.GetForComponent("converter"),
	}
}

// Convert swaps amountUSD worth of fromSymbol into toSymbol on the chain.
func (c *RouteConverter) Convert(ctx context.Context, chain types.ChainID, fromSymbol, toSymbol string, amountUSD float64) error {
	from, ok := c.registry.ReserveBySymbol(fromSymbol)
	if !ok {
		return errors.Join(ErrConvertFailed, fmt.Errorf("unknown symbol %s", fromSymbol))
	}
	to, ok := c.registry.ReserveBySymbol(toSymbol)
	if !ok {
		return errors.Join(ErrConvertFailed, fmt.Errorf("unknown symbol %s", toSymbol))
	}
	wallet, ok := c.wallets[chain]
	if !ok {
		return errors.Join(ErrConvertFailed, fmt.Errorf("no wallet for chain %s", chain))
	}

	fromPrice, err := c.prices.Price(ctx, fromSymbol)
	if err != nil || fromPrice <= 0 {
		return errors.Join(ErrConvertFailed, ErrPriceRequired, err)
	}
	amount, err := utils.Float64ToBigInt(amountUSD/fromPrice, from.Decimals)
	if err != nil {
		return errors.Join(ErrConvertFailed, err)
	}

	req := bridge.QuoteRequest{
		FromChain:   chain,
		ToChain:     chain,
		FromToken:   from.Address,
		ToToken:     to.Address,
		FromAmount:  amount.String(),
		FromAddress: wallet.Address(),
	}
	quote, err := c.router.GetQuote(ctx, req)
	if err != nil {
		return errors.Join(ErrConvertFailed, err)
	}
	if quote.PriceImpactPct > c.policy.MaxPriceImpactPct {
		return errors.Join(ErrConvertImpact,
			fmt.Errorf("%s->%s impact %.2f%% > %.2f%%", fromSymbol, toSymbol, quote.PriceImpactPct, c.policy.MaxPriceImpactPct))
	}

	if c.dryRun {
		c.log.Info().
			Str("from", fromSymbol).
			Str("to", toSymbol).
			Float64("amountUSD", amountUSD).
			Msg("Dry-run: conversion validated, skipping execution")
		return nil
	}

	if _, err := c.router.Execute(ctx, chain, req, quote); err != nil {
		return errors.Join(ErrConvertFailed, err)
	}
	c.log.Info().
		Str("from", fromSymbol).
		Str("to", toSymbol).
		Float64("amountUSD", amountUSD).
		Msg("Conversion executed")
	return nil
}
