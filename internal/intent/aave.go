package intent

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"IntentForge/internal/registry"
	"IntentForge/internal/web3/abis"
)

const (
	rateModeStable   = 1
	rateModeVariable = 2

	warnBorrowCollateral = "Ensure you have sufficient collateral deposited before borrowing."
	warnBorrowInterest   = "Borrowing accrues interest. Monitor your health factor to avoid liquidation."
	warnWithdrawHealth   = "Withdrawing collateral lowers your health factor. Make sure open borrows stay safe from liquidation."
)

func rateModeLabel(mode int) string {
	if mode == rateModeStable {
		return "Stable"
	}
	return "Variable"
}

// Aave compiles supply, borrow, repay or withdraw against the Aave V3 pool.
// Supply and repay spend the user's tokens and approve the pool first;
// borrow and withdraw move assets to the user and need no approval.
func (c *Compiler) Aave(kind Kind, params AaveParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	switch kind {
	case KindSupplyAave, KindBorrowAave, KindRepayAave, KindWithdrawAave:
	default:
		return nil, paramErrorf("%s is not an Aave operation", kind)
	}
	p, err := c.begin(kind, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	token, err := c.resolveToken(params.Token, chainID)
	if err != nil {
		return nil, err
	}
	if token.IsNative() {
		return nil, paramErrorf("Aave V3 pools take ERC20 assets only; use W%s instead of %s", token.Symbol, token.Symbol)
	}
	pool, err := c.contract(registry.AaveV3Pool, chainID)
	if err != nil {
		return nil, err
	}
	amount, err := scaleAmount(params.Amount, token)
	if err != nil {
		return nil, err
	}
	rateMode := params.InterestRateMode
	if rateMode == 0 {
		rateMode = rateModeVariable
	}
	amountLabel := formatAmount(amount, token)

	switch kind {
	case KindSupplyAave:
		data, err := abis.AaveV3Pool.Pack("supply", token.Address, amount, user, uint16(0))
		if err != nil {
			return nil, fmt.Errorf("encode supply: %w", err)
		}
		action := TransactionStep{To: pool, Data: data, Value: new(big.Int), Label: fmt.Sprintf("Supply %s to Aave", amountLabel)}
		if err := p.spend(token, pool, amount, action); err != nil {
			return nil, err
		}
		p.summary("Supply %s to Aave V3", amountLabel)
		p.detail("Action", "Aave V3 Supply")
		p.detail("Token", token.Symbol)
		p.detail("Amount", amountLabel)
		p.detail("Pool", shortenAddress(pool))
		p.detail("On Behalf Of", shortenAddress(user))

	case KindBorrowAave:
		data, err := abis.AaveV3Pool.Pack("borrow", token.Address, amount, big.NewInt(int64(rateMode)), uint16(0), user)
		if err != nil {
			return nil, fmt.Errorf("encode borrow: %w", err)
		}
		p.add(TransactionStep{To: pool, Data: data, Value: new(big.Int), Label: fmt.Sprintf("Borrow %s from Aave", amountLabel)})
		p.summary("Borrow %s from Aave V3", amountLabel)
		p.detail("Action", "Aave V3 Borrow")
		p.detail("Token", fmt.Sprintf("%s (%s)", token.Symbol, shortenAddress(token.Address)))
		p.detail("Amount", amountLabel)
		p.detail("Rate Mode", rateModeLabel(rateMode))
		p.detail("Pool", shortenAddress(pool))
		p.detail("Steps", "1 (borrow)")
		p.warn(warnBorrowCollateral)
		p.warn(warnBorrowInterest)

	case KindRepayAave:
		data, err := abis.AaveV3Pool.Pack("repay", token.Address, amount, big.NewInt(int64(rateMode)), user)
		if err != nil {
			return nil, fmt.Errorf("encode repay: %w", err)
		}
		action := TransactionStep{To: pool, Data: data, Value: new(big.Int), Label: fmt.Sprintf("Repay %s to Aave", amountLabel)}
		if err := p.spend(token, pool, amount, action); err != nil {
			return nil, err
		}
		p.summary("Repay %s to Aave V3", amountLabel)
		p.detail("Action", "Aave V3 Repay")
		p.detail("Token", token.Symbol)
		p.detail("Amount", amountLabel)
		p.detail("Rate Mode", rateModeLabel(rateMode))
		p.detail("Pool", shortenAddress(pool))

	case KindWithdrawAave:
		data, err := abis.AaveV3Pool.Pack("withdraw", token.Address, amount, user)
		if err != nil {
			return nil, fmt.Errorf("encode withdraw: %w", err)
		}
		p.add(TransactionStep{To: pool, Data: data, Value: new(big.Int), Label: fmt.Sprintf("Withdraw %s from Aave", amountLabel)})
		p.summary("Withdraw %s from Aave V3", amountLabel)
		p.detail("Action", "Aave V3 Withdraw")
		p.detail("Token", token.Symbol)
		p.detail("Amount", amountLabel)
		p.detail("Pool", shortenAddress(pool))
		p.detail("To", shortenAddress(user))
		p.warn(warnWithdrawHealth)
	}
	return p.build(), nil
}
