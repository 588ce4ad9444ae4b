package intent

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/registry"
	"IntentForge/internal/units"
	"IntentForge/internal/web3/abis"
)

// MaxTick is the largest tick a Uniswap pool accepts.
const MaxTick = 887272

const (
	defaultFeeTier uint32 = 3000

	// Uniswap V4 action codes, see v4-periphery Actions.sol.
	actionMintPosition byte = 0x02
	actionSettlePair   byte = 0x0d

	warnZeroAmountMin = "amountMin is set to 0. For production use, set proper slippage protection."
	warnFullRange     = "Full-range positions may earn less fees than concentrated positions."
	warnV4New         = "Uniswap V4 is relatively new. Verify the pool exists before adding liquidity."
	warnV4Bounds      = "Slippage bounds are the full deposit amounts and liquidity is derived from the token0 amount. Verify the position before confirming."
)

// TickSpacing returns the pool tick spacing of a fee tier.
func TickSpacing(fee uint32) int64 {
	switch fee {
	case 100:
		return 1
	case 500:
		return 10
	case 3000:
		return 60
	case 10000:
		return 200
	default:
		return 60
	}
}

// FullRangeTicks returns the widest tick window aligned to the fee tier's
// spacing. The window is symmetric around zero.
func FullRangeTicks(fee uint32) (lower, upper int64) {
	spacing := TickSpacing(fee)
	upper = (MaxTick / spacing) * spacing
	return -upper, upper
}

type mintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

// position is a canonicalised pair: token0 has the smaller address.
type position struct {
	token0, token1   registry.TokenInfo
	amount0, amount1 *big.Int
	fee              uint32
	lower, upper     int64
}

func (c *Compiler) position(params LiquidityParams, chainID uint64) (position, error) {
	tokenA, err := c.resolveSwapToken(params.Token0, chainID)
	if err != nil {
		return position{}, err
	}
	tokenB, err := c.resolveSwapToken(params.Token1, chainID)
	if err != nil {
		return position{}, err
	}
	if tokenA.Address == tokenB.Address {
		return position{}, paramErrorf("liquidity pair needs two different tokens, got %s twice", tokenA.Symbol)
	}
	amountA, err := scaleAmount(params.Amount0, tokenA)
	if err != nil {
		return position{}, err
	}
	amountB, err := scaleAmount(params.Amount1, tokenB)
	if err != nil {
		return position{}, err
	}
	fee := params.FeeTier
	if fee == 0 {
		fee = defaultFeeTier
	}
	pos := position{token0: tokenA, token1: tokenB, amount0: amountA, amount1: amountB, fee: fee}
	if bytes.Compare(tokenA.Address.Bytes(), tokenB.Address.Bytes()) > 0 {
		pos.token0, pos.token1 = tokenB, tokenA
		pos.amount0, pos.amount1 = amountB, amountA
	}
	pos.lower, pos.upper = FullRangeTicks(fee)
	return pos, nil
}

func (pos position) pair() string {
	return pos.token0.Symbol + "/" + pos.token1.Symbol
}

// approvals returns one approval per token, each requiring its deposit.
func (pos position) approvals(spender common.Address) ([]TransactionStep, error) {
	first, err := BuildApprovalStep(pos.token0, spender, nil, true, pos.amount0)
	if err != nil {
		return nil, err
	}
	second, err := BuildApprovalStep(pos.token1, spender, nil, true, pos.amount1)
	if err != nil {
		return nil, err
	}
	return []TransactionStep{first, second}, nil
}

func (pos position) describe(p *plan) {
	p.detail("Pool", pos.pair())
	p.detail(pos.token0.Symbol+" Amount", formatAmount(pos.amount0, pos.token0))
	p.detail(pos.token1.Symbol+" Amount", formatAmount(pos.amount1, pos.token1))
	p.detail("Fee Tier", feeLabel(pos.fee))
	p.detail("Range", "Full Range")
}

// AddLiquidityV3 mints a full-range position through the V3 position manager.
func (c *Compiler) AddLiquidityV3(params LiquidityParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	p, err := c.begin(KindAddLiquidityV3, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	manager, err := c.contract(registry.UniswapV3NftManager, chainID)
	if err != nil {
		return nil, err
	}
	pos, err := c.position(params, chainID)
	if err != nil {
		return nil, err
	}
	data, err := abis.NonfungiblePositionManager.Pack("mint", mintParams{
		Token0:         pos.token0.Address,
		Token1:         pos.token1.Address,
		Fee:            big.NewInt(int64(pos.fee)),
		TickLower:      big.NewInt(pos.lower),
		TickUpper:      big.NewInt(pos.upper),
		Amount0Desired: pos.amount0,
		Amount1Desired: pos.amount1,
		Amount0Min:     new(big.Int),
		Amount1Min:     new(big.Int),
		Recipient:      user,
		Deadline:       c.deadlineAt(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode mint: %w", err)
	}
	approvals, err := pos.approvals(manager)
	if err != nil {
		return nil, err
	}
	p.add(approvals...)
	p.add(TransactionStep{To: manager, Data: data, Value: new(big.Int), Label: "Add liquidity " + pos.pair()})

	p.summary("Add %s liquidity on Uniswap V3", pos.pair())
	p.detail("Action", "Uniswap V3 Add Liquidity")
	pos.describe(p)
	p.detail("NFT Manager", shortenAddress(manager))
	p.detail("Steps", "3 (approve + approve + mint)")
	p.warn(warnUnlimitedApproval)
	p.warn(warnZeroAmountMin)
	p.warn(warnFullRange)
	return p.build(), nil
}

// AddLiquidityV4 mints a full-range position through the V4 position
// manager with a MINT_POSITION + SETTLE_PAIR action batch.
func (c *Compiler) AddLiquidityV4(params LiquidityParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	p, err := c.begin(KindAddLiquidityV4, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	manager, err := c.contract(registry.UniswapV4PositionManager, chainID)
	if err != nil {
		return nil, err
	}
	pos, err := c.position(params, chainID)
	if err != nil {
		return nil, err
	}
	// MINT_POSITION caps liquidity and both slippage bounds at uint128.
	for _, amount := range []struct {
		token registry.TokenInfo
		value *big.Int
	}{{pos.token0, pos.amount0}, {pos.token1, pos.amount1}} {
		if err := units.CheckBits(amount.value, 128); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeParam, err, fmt.Sprintf("%s amount too large for Uniswap V4", amount.token.Symbol))
		}
	}
	hook := common.Address{}
	if params.HookAddress != "" {
		hook = common.HexToAddress(params.HookAddress)
	}
	unlockData, err := encodeV4Mint(pos, hook, user)
	if err != nil {
		return nil, err
	}
	data, err := abis.V4PositionManager.Pack("modifyLiquidities", unlockData, c.deadlineAt())
	if err != nil {
		return nil, fmt.Errorf("encode modifyLiquidities: %w", err)
	}
	approvals, err := pos.approvals(manager)
	if err != nil {
		return nil, err
	}
	p.add(approvals...)
	p.add(TransactionStep{To: manager, Data: data, Value: new(big.Int), Label: "Add V4 liquidity " + pos.pair()})

	hookLabel := "None"
	if hook != (common.Address{}) {
		hookLabel = shortenAddress(hook)
	}
	p.summary("Add %s liquidity on Uniswap V4", pos.pair())
	p.detail("Action", "Uniswap V4 Add Liquidity")
	pos.describe(p)
	p.detail("Hook", hookLabel)
	p.detail("Position Manager", shortenAddress(manager))
	p.detail("Steps", "3 (approve + approve + modifyLiquidities)")
	p.warn(warnUnlimitedApproval)
	p.warn(warnV4Bounds)
	p.warn(warnFullRange)
	p.warn(warnV4New)
	return p.build(), nil
}

// encodeV4Mint builds abi.encode(bytes actions, bytes[] params) for
// modifyLiquidities. The pool key is a static tuple, so its fields are
// encoded inline ahead of the mint parameters.
func encodeV4Mint(pos position, hook, owner common.Address) ([]byte, error) {
	mintArgs, err := abis.Arguments(
		"address", "address", "uint24", "int24", "address",
		"int24", "int24", "uint256", "uint128", "uint128", "address", "bytes",
	)
	if err != nil {
		return nil, err
	}
	mint, err := mintArgs.Pack(
		pos.token0.Address, pos.token1.Address,
		big.NewInt(int64(pos.fee)), big.NewInt(TickSpacing(pos.fee)), hook,
		big.NewInt(pos.lower), big.NewInt(pos.upper),
		pos.amount0, pos.amount0, pos.amount1,
		owner, []byte{},
	)
	if err != nil {
		return nil, fmt.Errorf("encode mint position: %w", err)
	}
	settleArgs, err := abis.Arguments("address", "address")
	if err != nil {
		return nil, err
	}
	settle, err := settleArgs.Pack(pos.token0.Address, pos.token1.Address)
	if err != nil {
		return nil, fmt.Errorf("encode settle pair: %w", err)
	}
	unlockArgs, err := abis.Arguments("bytes", "bytes[]")
	if err != nil {
		return nil, err
	}
	unlock, err := unlockArgs.Pack([]byte{actionMintPosition, actionSettlePair}, [][]byte{mint, settle})
	if err != nil {
		return nil, fmt.Errorf("encode unlock data: %w", err)
	}
	return unlock, nil
}
