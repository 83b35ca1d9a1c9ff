/*

Concentrated-liquidity adapter for a Uniswap v3 style venue. Positions are
NFTs owned by the operating wallet and managed through the position manager
contract. Amount math uses float approximations of the tick formulas; exact
integer math stays on-chain and the minimum-out guards protect against drift.

*/

package amm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
	"github.com/MRT0B13/NovaOS-sub002/internal/utils"
	"github.com/MRT0B13/NovaOS-sub002/internal/venues/evm"
)

// Error definitions for zero-tolerance error handling
var (
	ErrPoolRead       = errors.New("pool state read failed")
	ErrPositionRead   = errors.New("position read failed")
	ErrUnknownPool    = errors.New("pool is not configured")
	ErrMintFailed     = errors.New("position mint failed")
	ErrNoTokenID      = errors.New("mint receipt carried no position token id")
	ErrApprovalFailed = errors.New("token approval failed")
)

const submissionDeadline = 5 * time.Minute

// erc721TransferTopic identifies the NFT mint log the token id is read from.
var erc721TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Venue adapts one chain's position manager and its configured pools.
type Venue struct {
	chain           types.ChainID
	client          *evm.Client
	positionManager common.Address
	pools           []types.PoolMeta
	priceOf         func(symbol string) float64
	log             zerolog.Logger
}

// NewVenue builds the adapter. priceOf supplies USD prices for TVL estimation
// during pool discovery; position valuation uses the snapshot's own prices.
func NewVenue(client *evm.Client, positionManager string, pools []types.PoolMeta, priceOf func(string) float64) *Venue {
	return &Venue{
		chain:           client.Chain(),
		client:          client,
		positionManager: common.HexToAddress(positionManager),
		pools:           pools,
		priceOf:         priceOf,
		log: logger.GetForComponent("amm_venue").With().
			Str("chain", string(client.Chain())).Logger(),
	}
}

// Chain returns the chain this venue lives on.
func (v *Venue) Chain() types.ChainID { return v.chain }

// FetchPools refreshes TVL estimates for every configured pool from the
// pool contracts' token balances.
func (v *Venue) FetchPools(ctx context.Context) ([]types.PoolMeta, error) {
	out := make([]types.PoolMeta, 0, len(v.pools))
	for _, meta := range v.pools {
		poolAddr := common.HexToAddress(meta.Address)

		bal0, err := v.client.Call(ctx, common.HexToAddress(meta.Address0), evm.EncodeBalanceOf(poolAddr))
		if err != nil {
			return nil, errors.Join(ErrPoolRead, fmt.Errorf("pool %s token0 balance: %w", meta.Key, err))
		}
		bal1, err := v.client.Call(ctx, common.HexToAddress(meta.Address1), evm.EncodeBalanceOf(poolAddr))
		if err != nil {
			return nil, errors.Join(ErrPoolRead, fmt.Errorf("pool %s token1 balance: %w", meta.Key, err))
		}

		amount0 := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(bal0, 0)), meta.Decimals0)
		amount1 := utils.BalanceToFloat64(evm.DecodeUint256(evm.Word(bal1, 0)), meta.Decimals1)
		meta.TvlUSD = amount0*v.priceOf(meta.Token0) + amount1*v.priceOf(meta.Token1)
		out = append(out, meta)
	}
	return out, nil
}

// CurrentPrice reads the pool's spot price as token1 per token0 in human
// units.
func (v *Venue) CurrentPrice(ctx context.Context, meta types.PoolMeta) (float64, error) {
	tick, err := v.currentTick(ctx, meta)
	if err != nil {
		return 0, err
	}
	return tickToPrice(tick, meta.Decimals0, meta.Decimals1), nil
}

func (v *Venue) currentTick(ctx context.Context, meta types.PoolMeta) (int64, error) {
	out, err := v.client.Call(ctx, common.HexToAddress(meta.Address), evm.EncodeSlot0())
	if err != nil {
		return 0, errors.Join(ErrPoolRead, err)
	}
	if len(out) < 2*32 {
		return 0, errors.Join(ErrPoolRead, fmt.Errorf("slot0 returned %d bytes", len(out)))
	}
	// slot0: sqrtPriceX96 at word 0, current tick at word 1.
	return evm.DecodeInt256(evm.Word(out, 1)).Int64(), nil
}

// Position reads one managed position NFT and normalizes it. A token id whose
// liquidity and owed fees are all zero yields an empty position (ValueUSD 0),
// which callers treat as "no position", not an error.
func (v *Venue) Position(ctx context.Context, tokenID uint64, priceOf func(string) float64) (types.LiquidityPosition, error) {
	out, err := v.client.Call(ctx, v.positionManager, evm.EncodePositions(new(big.Int).SetUint64(tokenID)))
	if err != nil {
		return types.LiquidityPosition{}, errors.Join(ErrPositionRead, err)
	}
	if len(out) < 12*32 {
		return types.LiquidityPosition{}, errors.Join(ErrPositionRead, fmt.Errorf("positions returned %d bytes", len(out)))
	}

	// positions(): token0 word 2, token1 word 3, tickLower word 5, tickUpper
	// word 6, liquidity word 7, tokensOwed0 word 10, tokensOwed1 word 11.
	token0 := evm.DecodeAddress(evm.Word(out, 2))
	token1 := evm.DecodeAddress(evm.Word(out, 3))
	tickLower := evm.DecodeInt256(evm.Word(out, 5)).Int64()
	tickUpper := evm.DecodeInt256(evm.Word(out, 6)).Int64()
	liquidity := evm.DecodeUint256(evm.Word(out, 7))
	owed0 := evm.DecodeUint256(evm.Word(out, 10))
	owed1 := evm.DecodeUint256(evm.Word(out, 11))

	meta, ok := v.poolForTokens(token0, token1)
	if !ok {
		return types.LiquidityPosition{}, errors.Join(ErrUnknownPool,
			fmt.Errorf("position %d pair %s/%s", tokenID, token0.Hex(), token1.Hex()))
	}

	tick, err := v.currentTick(ctx, meta)
	if err != nil {
		return types.LiquidityPosition{}, err
	}

	liq, _ := new(big.Float).SetInt(liquidity).Float64()
	amount0, amount1 := amountsForLiquidity(liq, tick, tickLower, tickUpper)
	amount0 /= math.Pow(10, float64(meta.Decimals0))
	amount1 /= math.Pow(10, float64(meta.Decimals1))

	fees0 := utils.BalanceToFloat64(owed0, meta.Decimals0)
	fees1 := utils.BalanceToFloat64(owed1, meta.Decimals1)

	price0 := priceOf(meta.Token0)
	price1 := priceOf(meta.Token1)

	return types.LiquidityPosition{
		Chain:        v.chain,
		Venue:        "amm",
		PositionID:   tokenID,
		Pool:         meta.Key,
		Token0:       meta.Token0,
		Token1:       meta.Token1,
		Decimals0:    meta.Decimals0,
		Decimals1:    meta.Decimals1,
		LowerPrice:   tickToPrice(tickLower, meta.Decimals0, meta.Decimals1),
		UpperPrice:   tickToPrice(tickUpper, meta.Decimals0, meta.Decimals1),
		CurrentPrice: tickToPrice(tick, meta.Decimals0, meta.Decimals1),
		Amount0:      amount0,
		Amount1:      amount1,
		Fees0:        fees0,
		Fees1:        fees1,
		ValueUSD:     (amount0+fees0)*price0 + (amount1+fees1)*price1,
	}, nil
}

// OpenResult reports the outcome of a mint.
type OpenResult struct {
	TokenID uint64
	TxHash  string
	GasUsed uint64
	FeeWei  *big.Int
}

// Open mints a new position centered on the given price range. Amounts are
// raw token units; minimum-out amounts apply the slippage tolerance.
func (v *Venue) Open(ctx context.Context, meta types.PoolMeta, lowerPrice, upperPrice float64, amount0, amount1 *big.Int, slippagePct float64) (OpenResult, error) {
	if err := v.ensureAllowance(ctx, common.HexToAddress(meta.Address0), amount0); err != nil {
		return OpenResult{}, err
	}
	if err := v.ensureAllowance(ctx, common.HexToAddress(meta.Address1), amount1); err != nil {
		return OpenResult{}, err
	}

	tickLower := priceToTick(lowerPrice, meta.Decimals0, meta.Decimals1, meta.TickSpacing)
	tickUpper := priceToTick(upperPrice, meta.Decimals0, meta.Decimals1, meta.TickSpacing)
	if tickLower >= tickUpper {
		tickUpper = tickLower + int64(meta.TickSpacing)
	}

	params := evm.MintParams{
		Token0:         common.HexToAddress(meta.Address0),
		Token1:         common.HexToAddress(meta.Address1),
		FeeTier:        uint64(meta.FeeTierBps),
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     applySlippage(amount0, slippagePct),
		Amount1Min:     applySlippage(amount1, slippagePct),
		Recipient:      v.client.Wallet(),
		Deadline:       big.NewInt(time.Now().Add(submissionDeadline).Unix()),
	}

	txHash, err := v.client.Submit(ctx, v.positionManager, evm.EncodeMint(params), nil)
	if err != nil {
		return OpenResult{}, errors.Join(ErrMintFailed, err)
	}
	receipt, err := v.client.WaitMined(ctx, txHash)
	if err != nil {
		return OpenResult{TxHash: txHash.Hex()}, err
	}
	fee := big.NewInt(0)
	if receipt.EffectiveGasPrice != nil {
		fee = new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	}

	tokenID, err := mintedTokenID(receipt, v.client.Wallet())
	if err != nil {
		return OpenResult{TxHash: txHash.Hex(), GasUsed: receipt.GasUsed, FeeWei: fee}, err
	}

	v.log.Info().
		Uint64("tokenID", tokenID).
		Str("pool", string(meta.Key)).
		Int64("tickLower", tickLower).
		Int64("tickUpper", tickUpper).
		Msg("Liquidity position opened")

	return OpenResult{TokenID: tokenID, TxHash: txHash.Hex(), GasUsed: receipt.GasUsed, FeeWei: fee}, nil
}

// CloseResult reports the outcome of the close-and-collect protocol.
type CloseResult struct {
	TxHashes   []string
	GasUsed    uint64
	FeeWei     *big.Int
	BurnFailed bool
}

/// Close runs the close-and-collect protocol: decrease liquidity to zero,
// collect principal plus fees, then burn the emptied NFT. A failed burn is
// non-fatal since the liquidity is already recovered.
func (v *Venue) Close(ctx context.Context, tokenID uint64) (CloseResult, error) {
	result := CloseResult{FeeWei: big.NewInt(0)}
	id := new(big.Int).SetUint64(tokenID)

	out, err := v.client.Call(ctx, v.positionManager, evm.EncodePositions(id))
	if err != nil {
		return result, errors.Join(ErrPositionRead, err)
	}
	liquidity := evm.DecodeUint256(evm.Word(out, 7))

	if liquidity.Sign() > 0 {
		deadline := big.NewInt(time.Now().Add(submissionDeadline).Unix())
		calldata := evm.EncodeDecreaseLiquidity(id, liquidity, big.NewInt(0), big.NewInt(0), deadline)
		outcome, err := v.client.SubmitAndWait(ctx, v.positionManager, calldata, nil)
		if outcome.Hash != "" {
			result.TxHashes = append(result.TxHashes, outcome.Hash)
		}
		if err != nil {
			return result, err
		}
		result.GasUsed += outcome.GasUsed
		result.FeeWei.Add(result.FeeWei, outcome.FeeWei)
	}

	outcome, err := v.client.SubmitAndWait(ctx, v.positionManager, evm.EncodeCollect(id, v.client.Wallet()), nil)
	if outcome.Hash != "" {
		result.TxHashes = append(result.TxHashes, outcome.Hash)
	}
	if err != nil {
		return result, err
	}
	result.GasUsed += outcome.GasUsed
	result.FeeWei.Add(result.FeeWei, outcome.FeeWei)

	// Burn of the emptied NFT. Dust still owed makes this revert; liquidity
	// is already back in the wallet, so log and continue.
	burn, err := v.client.SubmitAndWait(ctx, v.positionManager, evm.EncodeBurnPosition(id), nil)
	if burn.Hash != "" {
		result.TxHashes = append(result.TxHashes, burn.Hash)
	}
	if err != nil {
		v.log.Warn().Err(err).Uint64("tokenID", tokenID).Msg("Position burn failed, liquidity already recovered")
		result.BurnFailed = true
		return result, nil
	}
	result.GasUsed += burn.GasUsed
	result.FeeWei.Add(result.FeeWei, burn.FeeWei)
	return result, nil
}

// ClaimFees collects accrued fees without touching the principal liquidity.
func (v *Venue) ClaimFees(ctx context.Context, tokenID uint64) (evm.TxOutcome, error) {
	id := new(big.Int).SetUint64(tokenID)
	return v.client.SubmitAndWait(ctx, v.positionManager, evm.EncodeCollect(id, v.client.Wallet()), nil)
}

func (v *Venue) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	out, err := v.client.Call(ctx, token, evm.EncodeAllowance(v.client.Wallet(), v.positionManager))
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if evm.DecodeUint256(evm.Word(out, 0)).Cmp(amount) >= 0 {
		return nil
	}
	txHash, err := v.client.Submit(ctx, token, evm.EncodeApprove(v.positionManager, amount), nil)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if _, err := v.client.WaitMined(ctx, txHash); err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	return nil
}

func (v *Venue) poolForTokens(token0, token1 common.Address) (types.PoolMeta, bool) {
	for _, meta := range v.pools {
		if common.HexToAddress(meta.Address0) == token0 && common.HexToAddress(meta.Address1) == token1 {
			return meta, true
		}
	}
	return types.PoolMeta{}, false
}

// mintedTokenID extracts the position token id from the ERC721 mint log in
// the mint receipt.
func mintedTokenID(receipt *gethtypes.Receipt, recipient common.Address) (uint64, error) {
	for _, entry := range receipt.Logs {
		if len(entry.Topics) != 4 || entry.Topics[0] != erc721TransferTopic {
			continue
		}
		from := common.BytesToAddress(entry.Topics[1].Bytes())
		to := common.BytesToAddress(entry.Topics[2].Bytes())
		if from != (common.Address{}) || to != recipient {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[3].Bytes()).Uint64(), nil
	}
	return 0, ErrNoTokenID
}

func applySlippage(amount *big.Int, slippagePct float64) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	keep := 1.0 - slippagePct/100.0
	if keep < 0 {
		keep = 0
	}
	out, _ := new(big.Float).Mul(new(big.Float).SetInt(amount), big.NewFloat(keep)).Int(nil)
	return out
}
