package intent

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"

	"IntentForge/internal/registry"
	"IntentForge/internal/web3/abis"
)

const warnUnlimitedApproval = "Unlimited approval grants full access to your tokens for this contract."

// BuildApprovalStep encodes approve(spender, amount) on token. When unlimited
// is set the payload carries MaxUint256 and allowance is ignored.
// minRequired is the allowance the following step consumes; nil means the
// encoded amount. It may never exceed the encoded amount.
func BuildApprovalStep(token registry.TokenInfo, spender common.Address, allowance *big.Int, unlimited bool, minRequired *big.Int) (TransactionStep, error) {
	if token.IsNative() {
		return TransactionStep{}, paramErrorf("%s is the native asset and needs no approval", token.Symbol)
	}
	if spender == (common.Address{}) {
		return TransactionStep{}, paramErrorf("approval spender is required")
	}
	amount := allowance
	if unlimited {
		amount = new(big.Int).Set(gethmath.MaxBig256)
	}
	if amount == nil || amount.Sign() < 0 {
		return TransactionStep{}, paramErrorf("invalid approval amount for %s", token.Symbol)
	}
	required := minRequired
	if required == nil {
		required = amount
	}
	if required.Sign() < 0 || required.Cmp(amount) > 0 {
		return TransactionStep{}, paramErrorf("required allowance %s exceeds approved amount %s", required, amount)
	}
	data, err := abis.ERC20.Pack("approve", spender, amount)
	if err != nil {
		return TransactionStep{}, fmt.Errorf("encode approve: %w", err)
	}
	return TransactionStep{
		To:    token.Address,
		Data:  data,
		Value: new(big.Int),
		Label: fmt.Sprintf("Approve %s for %s", token.Symbol, shortenAddress(spender)),
		ApproveCheck: &ApproveCheck{
			Token:             token.Address,
			Spender:           spender,
			MinRequiredAmount: new(big.Int).Set(required),
		},
	}, nil
}

// withApproval returns [approval, action], or [action] when token is native.
// The approval is unlimited and requires exactly amount.
func withApproval(token registry.TokenInfo, spender common.Address, amount *big.Int, action TransactionStep) ([]TransactionStep, error) {
	if token.IsNative() {
		return []TransactionStep{action}, nil
	}
	approval, err := BuildApprovalStep(token, spender, nil, true, amount)
	if err != nil {
		return nil, err
	}
	return []TransactionStep{approval, action}, nil
}
