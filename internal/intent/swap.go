package intent

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"IntentForge/internal/registry"
	"IntentForge/internal/web3/abis"
)

const (
	swapFeeTier     uint32  = 3000
	defaultSlippage float64 = 0.5

	warnZeroMinOut = "amountOutMinimum is set to 0. In production, use a quote to set proper slippage protection."
)

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Swap compiles a Uniswap V3 exactInputSingle swap. Native input is wrapped
// by the router, so the amount rides along as msg.value and no approval is
// needed; ERC20 input approves the router first.
func (c *Compiler) Swap(params SwapParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	p, err := c.begin(KindSwap, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	rawIn, err := c.resolveToken(params.TokenIn, chainID)
	if err != nil {
		return nil, err
	}
	tokenIn, err := c.resolveSwapToken(params.TokenIn, chainID)
	if err != nil {
		return nil, err
	}
	tokenOut, err := c.resolveSwapToken(params.TokenOut, chainID)
	if err != nil {
		return nil, err
	}
	if tokenIn.Address == tokenOut.Address {
		return nil, paramErrorf("cannot swap %s for itself", tokenIn.Symbol)
	}
	router, err := c.contract(registry.UniswapV3Router, chainID)
	if err != nil {
		return nil, err
	}
	amountIn, err := scaleAmount(params.Amount, rawIn)
	if err != nil {
		return nil, err
	}
	slippage := defaultSlippage
	if params.Slippage != nil {
		slippage = *params.Slippage
	}

	data, err := abis.UniswapV3Router.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn.Address,
		TokenOut:          tokenOut.Address,
		Fee:               big.NewInt(int64(swapFeeTier)),
		Recipient:         user,
		Deadline:          c.deadlineAt(),
		AmountIn:          amountIn,
		AmountOutMinimum:  new(big.Int),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("encode exactInputSingle: %w", err)
	}

	amountLabel := formatAmount(amountIn, rawIn)
	action := TransactionStep{
		To:    router,
		Data:  data,
		Value: new(big.Int),
		Label: fmt.Sprintf("Swap %s for %s", amountLabel, tokenOut.Symbol),
	}
	if rawIn.IsNative() {
		action.Value = new(big.Int).Set(amountIn)
	}
	if err := p.spend(rawIn, router, amountIn, action); err != nil {
		return nil, err
	}

	p.summary("Swap %s for %s on Uniswap V3", amountLabel, tokenOut.Symbol)
	p.detail("Action", "Swap (exactInputSingle)")
	p.detail("Token In", amountLabel)
	p.detail("Token Out", tokenOut.Symbol)
	p.detail("Slippage", percentLabel(slippage))
	p.detail("Fee Tier", feeLabel(swapFeeTier))
	p.detail("Router", shortenAddress(router))
	p.detail("Recipient", shortenAddress(user))
	p.warn(warnZeroMinOut)
	if rawIn.IsNative() {
		p.warn(fmt.Sprintf("Sending %s as msg.value", amountLabel))
	}
	return p.build(), nil
}
