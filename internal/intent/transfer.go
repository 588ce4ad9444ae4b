package intent

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/registry"
	"IntentForge/internal/units"
	"IntentForge/internal/web3/abis"
)

const warnCheckRecipient = "Double-check the recipient address before confirming."

// Transfer sends the native asset as a plain value transfer or an ERC20
// through transfer(to, amount).
func (c *Compiler) Transfer(params TransferParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	p, err := c.begin(KindTransfer, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	token, err := c.resolveToken(params.Token, chainID)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(params.To)
	if to == (common.Address{}) {
		return nil, paramErrorf("recipient cannot be the zero address")
	}
	amount, err := scaleAmount(params.Amount, token)
	if err != nil {
		return nil, err
	}
	amountLabel := formatAmount(amount, token)
	label := fmt.Sprintf("Send %s to %s", amountLabel, shortenAddress(to))

	if token.IsNative() {
		p.add(TransactionStep{To: to, Data: []byte{}, Value: amount, Label: label})
		p.detail("Action", "Native ETH Transfer")
	} else {
		data, err := abis.ERC20.Pack("transfer", to, amount)
		if err != nil {
			return nil, fmt.Errorf("encode transfer: %w", err)
		}
		p.add(TransactionStep{To: token.Address, Data: data, Value: new(big.Int), Label: label})
		p.detail("Action", "ERC20 Transfer")
		p.detail("Token", token.Symbol)
	}
	p.summary("Send %s to %s", amountLabel, shortenAddress(to))
	p.detail("Amount", amountLabel)
	p.detail("To", shortenAddress(to))
	p.warn(warnCheckRecipient)
	return p.build(), nil
}

// Approve sets an explicit allowance. The step carries no approve check:
// the user asked for this exact allowance, including a revoke to zero.
func (c *Compiler) Approve(params ApproveParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	p, err := c.begin(KindApprove, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	token, err := c.resolveToken(params.Token, chainID)
	if err != nil {
		return nil, err
	}
	if token.IsNative() {
		return nil, paramErrorf("%s is the native asset and needs no approval", token.Symbol)
	}
	spender := common.HexToAddress(params.Spender)

	unlimited := isUnlimited(params.Amount)
	var amount *big.Int
	amountLabel := "Unlimited (MaxUint256)"
	if unlimited {
		amount = new(big.Int).Set(gethmath.MaxBig256)
	} else {
		amount, err = parseApprovalAmount(params.Amount, token)
		if err != nil {
			return nil, err
		}
		amountLabel = formatAmount(amount, token)
	}
	step, err := BuildApprovalStep(token, spender, amount, unlimited, nil)
	if err != nil {
		return nil, err
	}
	step.ApproveCheck = nil
	p.add(step)

	p.summary("Approve %s for %s", token.Symbol, shortenAddress(spender))
	p.detail("Action", "ERC20 Approve")
	p.detail("Token", token.Symbol)
	p.detail("Amount", amountLabel)
	p.detail("Spender", shortenAddress(spender))
	if unlimited {
		p.warn(warnUnlimitedApproval)
	}
	return p.build(), nil
}

func isUnlimited(amount string) bool {
	switch strings.ToLower(strings.TrimSpace(amount)) {
	case "", "max", "unlimited":
		return true
	}
	return false
}

// parseApprovalAmount allows zero, which revokes the allowance.
func parseApprovalAmount(amount string, token registry.TokenInfo) (*big.Int, error) {
	value, err := units.ParseUnits(amount, token.Decimals)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParam, err, fmt.Sprintf("invalid %s amount", token.Symbol))
	}
	return value, nil
}
