package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"IntentForge/internal/intent"
)

// AllowanceReader reads ERC20 allowances.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// NeedsApproval reports whether an approval step still has to run: the
// current allowance of owner for check.Spender is below MinRequiredAmount.
// On read errors it returns true together with the error.
func NeedsApproval(ctx context.Context, reader AllowanceReader, owner common.Address, check intent.ApproveCheck) (bool, error) {
	current, err := reader.Allowance(ctx, check.Token, owner, check.Spender)
	if err != nil {
		return true, err
	}
	if current == nil || check.MinRequiredAmount == nil {
		return true, nil
	}
	return current.Cmp(check.MinRequiredAmount) < 0, nil
}
