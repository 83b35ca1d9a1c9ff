package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidKey        = errors.New("wallet key is invalid")
	ErrInvalidEndpoint   = errors.New("RPC endpoint is invalid")
	ErrCallFailed        = errors.New("contract call failed")
	ErrSubmissionFailed  = errors.New("transaction submission failed")
	ErrTxReverted        = errors.New("transaction reverted on-chain")
	ErrUnconfirmed       = errors.New("transaction unconfirmed after polling exhausted")
	ErrInvalidResponse   = errors.New("response data is invalid")
)

const (
	callTimeout         = 10 * time.Second
	confirmPollInterval = 2 * time.Second
	confirmMaxPolls     = 30
)

// Client wraps one chain's JSON-RPC connection together with the operating
// wallet's signer. The key material is read once per process and reused.
type Client struct {
	chain   types.ChainID
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	log     zerolog.Logger
}

// Dial connects to a chain endpoint and derives the wallet address from the
// hex-encoded private key.
func Dial(chain types.ChainID, rpcURL, privateKeyHex string) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.Join(ErrInvalidEndpoint, fmt.Errorf("empty RPC URL for chain %s", chain))
	}

	keyHex := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidEndpoint, fmt.Errorf("dial %s: %w", chain, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, errors.Join(ErrInvalidEndpoint, fmt.Errorf("chain id query for %s: %w", chain, err))
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	client := &Client{
		chain:   chain,
		eth:     eth,
		chainID: chainID,
		key:     key,
		from:    from,
		log:     logger.GetForComponent("evm_client").With().Str("chain", string(chain)).Logger(),
	}

	client.log.Info().
		Str("wallet", from.Hex()).
		Str("chainID", chainID.String()).
		Msg("Chain client connected")

	return client, nil
}

// Chain returns the chain this client is connected to.
func (c *Client) Chain() types.ChainID { return c.chain }

// Wallet returns the operating wallet address.
func (c *Client) Wallet() common.Address { return c.from }

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Call executes a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Join(ErrCallFailed, fmt.Errorf("call %s on %s: %w", to.Hex(), c.chain, err))
	}
	return out, nil
}

// NativeBalance returns the wallet's native-token balance in wei.
func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	bal, err := c.eth.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, errors.Join(ErrCallFailed, fmt.Errorf("native balance on %s: %w", c.chain, err))
	}
	return bal, nil
}

// TokenBalance returns the wallet's raw ERC20 balance for the given token.
func (c *Client) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, EncodeBalanceOf(c.from))
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, errors.Join(ErrInvalidResponse, fmt.Errorf("balanceOf returned %d bytes", len(out)))
	}
	return DecodeUint256(out[:32]), nil
}

// Submit signs and broadcasts exactly one transaction. Retries of the
// submission itself are never performed here; the caller must re-derive fresh
// parameters before submitting again.
func (c *Client) Submit(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(callCtx, c.from)
	if err != nil {
		return common.Hash{}, errors.Join(ErrSubmissionFailed, fmt.Errorf("nonce query: %w", err))
	}

	gasPrice, err := c.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return common.Hash{}, errors.Join(ErrSubmissionFailed, fmt.Errorf("gas price query: %w", err))
	}

	gasLimit, err := c.eth.EstimateGas(callCtx, ethereum.CallMsg{
		From:  c.from,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		// Estimation failure almost always means the call would revert.
		return common.Hash{}, errors.Join(ErrSubmissionFailed, fmt.Errorf("gas estimation (likely revert): %w", err))
	}
	// Headroom over the estimate so close-to-limit executions do not fail.
	gasLimit = gasLimit + gasLimit/5

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, errors.Join(ErrSubmissionFailed, fmt.Errorf("signing: %w", err))
	}

	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		return common.Hash{}, errors.Join(ErrSubmissionFailed, fmt.Errorf("broadcast: %w", err))
	}

	c.log.Info().
		Str("txHash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("gasLimit", gasLimit).
		Msg("Transaction submitted")

	return signed.Hash(), nil
}

// TxOutcome is the confirmed result of one submission.
type TxOutcome struct {
	Hash    string
	GasUsed uint64
	FeeWei  *big.Int
}

// SubmitAndWait submits one transaction and polls for its confirmation. The
// returned outcome always carries the hash once the submission went out, even
// when confirmation fails or exhausts, so callers can report Unconfirmed with
// the identifier.
func (c *Client) SubmitAndWait(ctx context.Context, to common.Address, data []byte, value *big.Int) (TxOutcome, error) {
	txHash, err := c.Submit(ctx, to, data, value)
	if err != nil {
		return TxOutcome{}, err
	}

	receipt, err := c.WaitMined(ctx, txHash)
	if err != nil {
		return TxOutcome{Hash: txHash.Hex()}, err
	}

	fee := big.NewInt(0)
	if receipt.EffectiveGasPrice != nil {
		fee = new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	}
	return TxOutcome{Hash: txHash.Hex(), GasUsed: receipt.GasUsed, FeeWei: fee}, nil
}

// WaitMined polls for the transaction receipt at a fixed interval with a
// bounded poll count. Exhausting the polls returns ErrUnconfirmed, which
// callers must report distinctly from failure: the transaction may still land.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	for i := 0; i < confirmMaxPolls; i++ {
		pollCtx, cancel := context.WithTimeout(ctx, callTimeout)
		receipt, err := c.eth.TransactionReceipt(pollCtx, txHash)
		cancel()

		if err == nil && receipt != nil {
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return receipt, errors.Join(ErrTxReverted, fmt.Errorf("tx %s reverted", txHash.Hex()))
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.log.Warn().Err(err).Str("txHash", txHash.Hex()).Msg("Receipt poll error, continuing")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(confirmPollInterval):
		}
	}

	c.log.Warn().Str("txHash", txHash.Hex()).Msg("Confirmation polling exhausted, outcome unknown")
	return nil, ErrUnconfirmed
}
