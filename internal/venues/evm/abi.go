package evm

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Hand-encoded calldata for the small, fixed set of contract methods the
// engine touches. The selectors are the first four bytes of the keccak256 of
// the canonical signature.
var (
	// ERC20
	selBalanceOf = mustSelector("70a08231") // balanceOf(address)
	selApprove   = mustSelector("095ea7b3") // approve(address,uint256)
	selAllowance = mustSelector("dd62ed3e") // allowance(address,address)

	// Wrapped native token
	selDeposit = mustSelector("d0e30db0") // deposit()

	// Aave v3 style lending pool
	selSupply             = mustSelector("617ba037") // supply(address,uint256,address,uint16)
	selWithdraw           = mustSelector("69328dec") // withdraw(address,uint256,address)
	selBorrow             = mustSelector("a415bcad") // borrow(address,uint256,uint256,uint16,address)
	selRepay              = mustSelector("573ade81") // repay(address,uint256,uint256,address)
	selGetUserAccountData = mustSelector("bf92857c") // getUserAccountData(address)
	selGetReserveData     = mustSelector("35ea6a75") // getReserveData(address)

	// Uniswap v3 pool and position manager
	selSlot0             = mustSelector("3850c7bd") // slot0()
	selPositions          = mustSelector("99fbab88") // positions(uint256)
	selMint              = mustSelector("88316456") // mint((address,address,uint24,int24,int24,uint256,uint256,uint256,uint256,address,uint256))
	selDecreaseLiquidity = mustSelector("0c49ccbe") // decreaseLiquidity((uint256,uint128,uint256,uint256,uint256))
	selCollect           = mustSelector("fc6f7865") // collect((uint256,address,uint128,uint128))
	selBurn              = mustSelector("42966c68") // burn(uint256)
)

func mustSelector(h string) []byte {
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != 4 {
		panic("bad selector literal: " + h)
	}
	return b
}

// MaxUint128 is used as the "collect everything" amount in position manager
// collect calls.
var MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// EncodeAddress left-pads an address to a 32-byte ABI word.
func EncodeAddress(addr common.Address) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr.Bytes())
	return word
}

// EncodeUint256 left-pads an unsigned integer to a 32-byte ABI word.
func EncodeUint256(v *big.Int) []byte {
	word := make([]byte, 32)
	v.FillBytes(word)
	return word
}

// EncodeInt24 writes a signed 24-bit tick as a sign-extended 32-byte word.
func EncodeInt24(v int64) []byte {
	word := make([]byte, 32)
	b := big.NewInt(v)
	if b.Sign() < 0 {
		// Two's complement within 256 bits.
		b = new(big.Int).Add(b, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	b.FillBytes(word)
	return word
}

// DecodeUint256 reads a 32-byte ABI word as an unsigned integer.
func DecodeUint256(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}

// DecodeInt256 reads a 32-byte ABI word as a signed integer.
func DecodeInt256(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if len(word) == 32 && word[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return v
}

// DecodeAddress reads an address out of a 32-byte ABI word.
func DecodeAddress(word []byte) common.Address {
	return common.BytesToAddress(word[12:32])
}

// Word extracts the i-th 32-byte word from ABI return data.
func Word(data []byte, i int) []byte {
	start := i * 32
	if start+32 > len(data) {
		return make([]byte, 32)
	}
	return data[start : start+32]
}

func packCall(selector []byte, words ...[]byte) []byte {
	out := make([]byte, 0, 4+32*len(words))
	out = append(out, selector...)
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

// EncodeBalanceOf builds calldata for ERC20 balanceOf.
func EncodeBalanceOf(owner common.Address) []byte {
	return packCall(selBalanceOf, EncodeAddress(owner))
}

// EncodeApprove builds calldata for ERC20 approve.
func EncodeApprove(spender common.Address, amount *big.Int) []byte {
	return packCall(selApprove, EncodeAddress(spender), EncodeUint256(amount))
}

// EncodeAllowance builds calldata for ERC20 allowance.
func EncodeAllowance(owner, spender common.Address) []byte {
	return packCall(selAllowance, EncodeAddress(owner), EncodeAddress(spender))
}

// EncodeWrapDeposit builds calldata for a wrapped-native deposit. The native
// amount rides along as transaction value.
func EncodeWrapDeposit() []byte {
	return packCall(selDeposit)
}

// EncodeSupply builds calldata for a lending pool supply.
func EncodeSupply(asset common.Address, amount *big.Int, onBehalfOf common.Address) []byte {
	return packCall(selSupply,
		EncodeAddress(asset),
		EncodeUint256(amount),
		EncodeAddress(onBehalfOf),
		EncodeUint256(big.NewInt(0)), // referralCode
	)
}

// EncodeWithdraw builds calldata for a lending pool withdraw.
func EncodeWithdraw(asset common.Address, amount *big.Int, to common.Address) []byte {
	return packCall(selWithdraw, EncodeAddress(asset), EncodeUint256(amount), EncodeAddress(to))
}

// EncodeBorrow builds calldata for a variable-rate borrow.
func EncodeBorrow(asset common.Address, amount *big.Int, onBehalfOf common.Address) []byte {
	return packCall(selBorrow,
		EncodeAddress(asset),
		EncodeUint256(amount),
		EncodeUint256(big.NewInt(2)), // variable interest rate mode
		EncodeUint256(big.NewInt(0)), // referralCode
		EncodeAddress(onBehalfOf),
	)
}

// EncodeRepay builds calldata for a variable-rate repay.
func EncodeRepay(asset common.Address, amount *big.Int, onBehalfOf common.Address) []byte {
	return packCall(selRepay,
		EncodeAddress(asset),
		EncodeUint256(amount),
		EncodeUint256(big.NewInt(2)), // variable interest rate mode
		EncodeAddress(onBehalfOf),
	)
}

// EncodeGetUserAccountData builds calldata for the lending pool account query.
func EncodeGetUserAccountData(user common.Address) []byte {
	return packCall(selGetUserAccountData, EncodeAddress(user))
}

// EncodeGetReserveData builds calldata for the lending pool reserve query.
func EncodeGetReserveData(asset common.Address) []byte {
	return packCall(selGetReserveData, EncodeAddress(asset))
}

// EncodeSlot0 builds calldata for the pool's slot0 query.
func EncodeSlot0() []byte {
	return packCall(selSlot0)
}

// EncodePositions builds calldata for the position manager positions query.
func EncodePositions(tokenID *big.Int) []byte {
	return packCall(selPositions, EncodeUint256(tokenID))
}

// MintParams carries the position manager mint tuple.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	FeeTier        uint64 // in hundredths of a bip, e.g. 3000 for 0.3%
	TickLower      int64
	TickUpper      int64
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

// EncodeMint builds calldata for a position manager mint.
func EncodeMint(p MintParams) []byte {
	return packCall(selMint,
		EncodeAddress(p.Token0),
		EncodeAddress(p.Token1),
		EncodeUint256(new(big.Int).SetUint64(p.FeeTier)),
		EncodeInt24(p.TickLower),
		EncodeInt24(p.TickUpper),
		EncodeUint256(p.Amount0Desired),
		EncodeUint256(p.Amount1Desired),
		EncodeUint256(p.Amount0Min),
		EncodeUint256(p.Amount1Min),
		EncodeAddress(p.Recipient),
		EncodeUint256(p.Deadline),
	)
}

// EncodeDecreaseLiquidity builds calldata for removing liquidity from a
// position.
func EncodeDecreaseLiquidity(tokenID, liquidity, amount0Min, amount1Min, deadline *big.Int) []byte {
	return packCall(selDecreaseLiquidity,
		EncodeUint256(tokenID),
		EncodeUint256(liquidity),
		EncodeUint256(amount0Min),
		EncodeUint256(amount1Min),
		EncodeUint256(deadline),
	)
}

// EncodeCollect builds calldata for collecting all owed tokens on a position.
func EncodeCollect(tokenID *big.Int, recipient common.Address) []byte {
	return packCall(selCollect,
		EncodeUint256(tokenID),
		EncodeAddress(recipient),
		EncodeUint256(MaxUint128),
		EncodeUint256(MaxUint128),
	)
}

// EncodeBurnPosition builds calldata for burning an emptied position NFT.
func EncodeBurnPosition(tokenID *big.Int) []byte {
	return packCall(selBurn, EncodeUint256(tokenID))
}
