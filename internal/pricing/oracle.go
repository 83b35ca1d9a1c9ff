/*

Price oracle client. USD reference prices are fetched once per scan and held
in a per-scan cache so every component values assets against the same prices.
A last-good table backs the cache: when the oracle is unreachable the previous
scan's price is served with a warning instead of failing the whole snapshot.

*/

package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrOracleUnavailable = errors.New("price oracle is unavailable")
	ErrPriceUnknown      = errors.New("no price available for symbol")
	ErrInvalidPrice      = errors.New("oracle returned an invalid price")
)

const (
	oracleTimeout  = 10 * time.Second
	oracleMaxTries = 3
)

type priceResponse struct {
	Prices map[string]float64 `json:"prices"`
}

// Oracle fetches and caches USD reference prices.
type Oracle struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	scan     map[string]float64 // cleared at the start of every scan
	lastGood map[string]float64 // survives scans, updated on every success

	log zerolog.Logger
}

// NewOracle builds a client against the given oracle base URL.
func NewOracle(baseURL string) *Oracle {
	return &Oracle{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: oracleTimeout},
		scan:     make(map[string]float64),
		lastGood: make(map[string]float64),
		log:      logger.GetForComponent("pricing"),
	}
}

// BeginScan drops the per-scan cache. Call once at the start of each
// rebalance cycle so prices are fetched at most once per cycle.
func (o *Oracle) BeginScan() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scan = make(map[string]float64)
}

// Price returns the USD price for one symbol using the per-scan cache.
func (o *Oracle) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := o.Prices(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}
	p, ok := prices[symbol]
	if !ok {
		return 0, errors.Join(ErrPriceUnknown, fmt.Errorf("symbol %s", symbol))
	}
	return p, nil
}

// Prices returns USD prices for the given symbols. Symbols already in the
// per-scan cache are served from it; the rest are fetched in one request.
// On fetch failure the last-good price is substituted per symbol when one
// exists, and only symbols with no fallback at all surface an error.
func (o *Oracle) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string

	o.mu.Lock()
	for _, s := range symbols {
		if p, ok := o.scan[s]; ok {
			out[s] = p
		} else {
			missing = append(missing, s)
		}
	}
	o.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	fetched, fetchErr := o.fetch(ctx, missing)

	o.mu.Lock()
	defer o.mu.Unlock()

	var unresolved []string
	for _, s := range missing {
		if p, ok := fetched[s]; ok && p > 0 {
			o.scan[s] = p
			o.lastGood[s] = p
			out[s] = p
			continue
		}
		if p, ok := o.lastGood[s]; ok {
			o.log.Warn().
				Str("symbol", s).
				Float64("lastGoodPrice", p).
				Msg("Oracle miss, serving last-good price")
			o.scan[s] = p
			out[s] = p
			continue
		}
		unresolved = append(unresolved, s)
	}

	if len(unresolved) > 0 {
		err := fmt.Errorf("no price for %s", strings.Join(unresolved, ","))
		if fetchErr != nil {
			return out, errors.Join(ErrOracleUnavailable, fetchErr, err)
		}
		return out, errors.Join(ErrPriceUnknown, err)
	}
	return out, nil
}

func (o *Oracle) fetch(ctx context.Context, symbols []string) (map[string]float64, error) {
	reqURL := fmt.Sprintf("%s/v1/prices?symbols=%s", o.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	operation := func() (map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(body))
		}

		var parsed priceResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decoding oracle response: %w", err)
		}
		for sym, p := range parsed.Prices {
			if p <= 0 {
				return nil, errors.Join(ErrInvalidPrice, fmt.Errorf("%s priced at %f", sym, p))
			}
		}
		return parsed.Prices, nil
	}

	prices, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(oracleMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.log.Warn().Err(err).Dur("retryIn", next).Msg("Oracle request failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return prices, nil
}
