/*

Perpetual hedge adapter. Hedges are always short: they offset long exposure
held in lending collateral and LP positions. Sizing is in coin units derived
from the venue's mid price; orders are IOC with a slippage-bounded limit
price so an unfilled hedge surfaces immediately instead of resting.

*/

package perp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrVenueInit     = errors.New("hedge venue initialization failed")
	ErrStateRead     = errors.New("hedge state read failed")
	ErrNoMidPrice    = errors.New("no mid price for coin")
	ErrOrderRejected = errors.New("hedge order rejected")
	ErrBadSize       = errors.New("hedge size is invalid")
)

// Venue adapts the perpetual exchange for short hedges.
type Venue struct {
	exchange *hyperliquid.Exchange
	account  string
	leverage map[string]float64 // last leverage set per coin
	log      zerolog.Logger
}

// NewVenue connects to the exchange API and derives the account address from
// the operating wallet key.
func NewVenue(ctx context.Context, privateKeyHex, baseURL string) (*Venue, error) {
	keyHex := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, errors.Join(ErrVenueInit, err)
	}
	account := crypto.PubkeyToAddress(key.PublicKey).Hex()

	exchange := hyperliquid.NewExchange(ctx, key, baseURL, nil, "", account, nil)

	venue := &Venue{
		exchange: exchange,
		account:  account,
		leverage: make(map[string]float64),
		log:      logger.GetForComponent("perp_venue"),
	}
	venue.log.Info().Str("account", account).Msg("Hedge venue connected")
	return venue, nil
}

// AccountValueUSD returns the exchange-side margin account value.
func (v *Venue) AccountValueUSD(ctx context.Context) (float64, error) {
	state, err := v.exchange.Info().UserState(ctx, v.account)
	if err != nil {
		return 0, errors.Join(ErrStateRead, err)
	}
	return parseFloat(state.MarginSummary.TotalRawUsd), nil
}

// Positions returns the open short hedges, one per coin. No open position is
// an empty slice, never an error.
func (v *Venue) Positions(ctx context.Context) ([]types.HedgePosition, error) {
	state, err := v.exchange.Info().UserState(ctx, v.account)
	if err != nil {
		return nil, errors.Join(ErrStateRead, err)
	}

	mids, err := v.exchange.Info().AllMids(ctx)
	if err != nil {
		return nil, errors.Join(ErrStateRead, err)
	}

	var out []types.HedgePosition
	for _, ap := range state.AssetPositions {
		pos := ap.Position
		size := parseFloat(pos.Szi)
		if size >= 0 {
			// Only shorts are hedges; a zero or long position is not ours.
			continue
		}
		size = math.Abs(size)

		entry := 0.0
		if pos.EntryPx != nil {
			entry = parseFloat(*pos.EntryPx)
		}
		mark := parseFloat(mids[pos.Coin])
		if mark == 0 {
			mark = entry
		}

		lev := v.leverage[pos.Coin]
		if lev <= 0 {
			lev = 1
		}

		out = append(out, types.HedgePosition{
			Coin:             pos.Coin,
			Side:             types.HedgeShort,
			Size:             size,
			NotionalUSD:      size * mark,
			EntryPrice:       entry,
			MarkPrice:        mark,
			Leverage:         lev,
			LiquidationPrice: shortLiquidationPrice(entry, lev),
			UnrealizedPnLUSD: (entry - mark) * size,
		})
	}
	return out, nil
}

// Open places a short hedge worth notionalUSD at the given leverage. Returns
// the client order id used for the fill.
func (v *Venue) Open(ctx context.Context, coin string, notionalUSD, leverage, slippagePct float64) (string, error) {
	if notionalUSD <= 0 {
		return "", errors.Join(ErrBadSize, fmt.Errorf("notional %f", notionalUSD))
	}

	if _, err := v.exchange.UpdateLeverage(ctx, int(leverage), coin, true); err != nil {
		return "", errors.Join(ErrOrderRejected, fmt.Errorf("leverage update: %w", err))
	}
	v.leverage[coin] = leverage

	mids, err := v.exchange.Info().AllMids(ctx)
	if err != nil {
		return "", errors.Join(ErrStateRead, err)
	}
	mid := parseFloat(mids[coin])
	if mid <= 0 {
		return "", errors.Join(ErrNoMidPrice, fmt.Errorf("coin %s", coin))
	}

	size := notionalUSD / mid
	cloid, err := v.place(ctx, coin, false, size, slippagePct, false)
	if err != nil {
		return "", err
	}

	v.log.Info().
		Str("coin", coin).
		Float64("notionalUSD", notionalUSD).
		Float64("size", size).
		Float64("leverage", leverage).
		Str("cloid", cloid).
		Msg("Hedge opened")
	return cloid, nil
}

// Close buys back the full open short for the coin with a reduce-only order.
// A coin with no open short is a no-op success.
func (v *Venue) Close(ctx context.Context, coin string, slippagePct float64) (string, error) {
	positions, err := v.Positions(ctx)
	if err != nil {
		return "", err
	}

	for _, pos := range positions {
		if pos.Coin != coin {
			continue
		}
		cloid, err := v.place(ctx, coin, true, pos.Size, slippagePct, true)
		if err != nil {
			return "", err
		}
		v.log.Info().Str("coin", coin).Float64("size", pos.Size).Str("cloid", cloid).Msg("Hedge closed")
		return cloid, nil
	}

	v.log.Debug().Str("coin", coin).Msg("No open hedge to close")
	return "", nil
}

func (v *Venue) place(ctx context.Context, coin string, isBuy bool, size, slippagePct float64, reduceOnly bool) (string, error) {
	price, err := v.exchange.SlippagePrice(ctx, coin, isBuy, slippagePct/100.0, nil)
	if err != nil {
		return "", errors.Join(ErrOrderRejected, fmt.Errorf("slippage price: %w", err))
	}

	cloid := newClientOrderID()
	req := hyperliquid.CreateOrderRequest{
		Coin:          coin,
		IsBuy:         isBuy,
		Price:         price,
		Size:          size,
		ReduceOnly:    reduceOnly,
		ClientOrderID: &cloid,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}

	if _, err := v.exchange.Order(ctx, req, nil); err != nil {
		return "", errors.Join(ErrOrderRejected, err)
	}
	return cloid, nil
}

// newClientOrderID builds the venue's 128-bit hex client order id format.
func newClientOrderID() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// shortLiquidationPrice is a conservative approximation: the venue's exact
// maintenance margin schedule is not exposed, so assume liquidation when the
// price has moved 90% of the initial margin against the short.
func shortLiquidationPrice(entry, leverage float64) float64 {
	if entry <= 0 || leverage <= 0 {
		return 0
	}
	return entry * (1 + 0.9/leverage)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
