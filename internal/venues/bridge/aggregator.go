/*

Bridge and swap aggregator client. The aggregator is an external routing
service: it receives the desired transfer or swap and answers with a quote
plus ready-to-sign calldata for the source chain. This adapter owns the HTTP
surface and the quote sanity checks; submission goes through the shared chain
client so the one-submission rule holds.

*/

package bridge

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// Error definitions for zero-tolerance error handling
var (
	ErrQuoteFailed    = errors.New("aggregator quote failed")
	ErrQuoteInvalid   = errors.New("aggregator quote is invalid")
	ErrRouteMissing   = errors.New("aggregator found no route")
	ErrApprovalFailed = errors.New("token approval for aggregator failed")
)

const (
	aggregatorTimeout  = 15 * time.Second
	aggregatorMaxTries = 3
)

// QuoteRequest describes a desired swap (same chain) or bridge (cross chain).
type QuoteRequest struct {
	FromChain   types.ChainID `json:"from_chain"`
	ToChain     types.ChainID `json:"to_chain"`
	FromToken   string        `json:"from_token"` // token address, empty for native
	ToToken     string        `json:"to_token"`
	FromAmount  string        `json:"from_amount"` // raw units, decimal string
	FromAddress string        `json:"from_address"`
}

// Quote is the aggregator's answer: expected output and the transaction to
// sign on the source chain.
type Quote struct {
	ToAmount       *big.Int
	PriceImpactPct float64
	ApprovalTarget common.Address // spender needing allowance, zero for native input
	CallTarget     common.Address
	CallData       []byte
	ValueWei       *big.Int
}

type quoteResponse struct {
	Route *struct {
		ToAmount       string  `json:"to_amount"`
		PriceImpactPct float64 `json:"price_impact_pct"`
		ApprovalTarget string  `json:"approval_target"`
	} `json:"route"`
	Transaction *struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transaction"`
}

// Client talks to the aggregator REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds an aggregator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: aggregatorTimeout},
		log:     logger.GetForComponent("bridge_aggregator"),
	}
}

// GetQuote asks the aggregator for a route. The quote carries the price
// impact; the caller decides whether the impact is acceptable before
// executing.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Quote{}, errors.Join(ErrQuoteFailed, err)
	}

	operation := func() (quoteResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/quote", bytes.NewReader(body))
		if err != nil {
			return quoteResponse{}, backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return quoteResponse{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return quoteResponse{}, backoff.Permanent(ErrRouteMissing)
		}
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return quoteResponse{}, fmt.Errorf("aggregator returned status %d: %s", resp.StatusCode, string(payload))
		}

		var parsed quoteResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return quoteResponse{}, fmt.Errorf("decoding quote: %w", err)
		}
		return parsed, nil
	}

	parsed, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(aggregatorMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Dur("retryIn", next).Msg("Aggregator quote failed, retrying")
		}),
	)
	if err != nil {
		if errors.Is(err, ErrRouteMissing) {
			return Quote{}, ErrRouteMissing
		}
		return Quote{}, errors.Join(ErrQuoteFailed, err)
	}

	return validateQuote(parsed)
}

func validateQuote(parsed quoteResponse) (Quote, error) {
	if parsed.Route == nil || parsed.Transaction == nil {
		return Quote{}, errors.Join(ErrQuoteInvalid, errors.New("route or transaction missing"))
	}

	toAmount, ok := new(big.Int).SetString(parsed.Route.ToAmount, 10)
	if !ok || toAmount.Sign() <= 0 {
		return Quote{}, errors.Join(ErrQuoteInvalid, fmt.Errorf("to_amount %q", parsed.Route.ToAmount))
	}
	if parsed.Route.PriceImpactPct < 0 {
		return Quote{}, errors.Join(ErrQuoteInvalid, fmt.Errorf("price impact %f", parsed.Route.PriceImpactPct))
	}

	callData, err := hex.DecodeString(strings.TrimPrefix(parsed.Transaction.Data, "0x"))
	if err != nil || len(callData) < 4 {
		return Quote{}, errors.Join(ErrQuoteInvalid, errors.New("calldata is malformed"))
	}

	value := big.NewInt(0)
	if parsed.Transaction.Value != "" {
		if value, ok = new(big.Int).SetString(parsed.Transaction.Value, 10); !ok {
			return Quote{}, errors.Join(ErrQuoteInvalid, fmt.Errorf("value %q", parsed.Transaction.Value))
		}
	}

	return Quote{
		ToAmount:       toAmount,
		PriceImpactPct: parsed.Route.PriceImpactPct,
		ApprovalTarget: common.HexToAddress(parsed.Route.ApprovalTarget),
		CallTarget:     common.HexToAddress(parsed.Transaction.To),
		CallData:       callData,
		ValueWei:       value,
	}, nil
}

// Execute submits a previously obtained quote on the source chain. The
// allowance for the aggregator's spender is topped up first for token inputs.
func (c *Client) Execute(ctx context.Context, client *evm.Client, req QuoteRequest, quote Quote) (evm.TxOutcome, error) {
	if req.FromToken != "" && quote.ApprovalTarget != (common.Address{}) {
		amount, ok := new(big.Int).SetString(req.FromAmount, 10)
		if !ok {
			return evm.TxOutcome{}, errors.Join(ErrQuoteInvalid, fmt.Errorf("from_amount %q", req.FromAmount))
		}
		if err := c.ensureAllowance(ctx, client, common.HexToAddress(req.FromToken), quote.ApprovalTarget, amount); err != nil {
			return evm.TxOutcome{}, err
		}
	}

	outcome, err := client.SubmitAndWait(ctx, quote.CallTarget, quote.CallData, quote.ValueWei)
	if err != nil {
		return outcome, err
	}

	c.log.Info().
		Str("fromChain", string(req.FromChain)).
		Str("toChain", string(req.ToChain)).
		Str("txHash", outcome.Hash).
		Msg("Aggregator route executed")
	return outcome, nil
}

func (c *Client) ensureAllowance(ctx context.Context, client *evm.Client, token, spender common.Address, amount *big.Int) error {
	out, err := client.Call(ctx, token, evm.EncodeAllowance(client.Wallet(), spender))
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if evm.DecodeUint256(evm.Word(out, 0)).Cmp(amount) >= 0 {
		return nil
	}
	txHash, err := client.Submit(ctx, token, evm.EncodeApprove(spender, amount), nil)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if _, err := client.WaitMined(ctx, txHash); err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	return nil
}
