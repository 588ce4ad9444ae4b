package intent

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/units"
	"IntentForge/internal/web3/abis"
)

const (
	warnVerifyDistributor = "Verify the merkle distributor contract address before claiming."
	warnClaimOnce         = "Each claim index can only be claimed once."
)

// ClaimMerkle compiles claim(index, account, amount, proof) on a Merkle
// distributor. Amounts are raw integers, no decimal scaling applies.
func (c *Compiler) ClaimMerkle(params ClaimParams, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	p, err := c.begin(KindClaimMerkle, &params, chainID, user)
	if err != nil {
		return nil, err
	}
	distributor := common.HexToAddress(params.ContractAddress)
	if distributor == (common.Address{}) {
		return nil, paramErrorf("distributor cannot be the zero address")
	}
	index, err := units.ParseInteger(params.Index)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParam, err, "invalid claim index")
	}
	amount, err := units.ParseInteger(params.Amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParam, err, "invalid claim amount")
	}
	proof := make([][32]byte, len(params.Proof))
	for i, node := range params.Proof {
		proof[i] = common.HexToHash(node)
	}
	symbol := params.TokenSymbol
	if symbol == "" {
		symbol = "tokens"
	}

	data, err := abis.MerkleDistributor.Pack("claim", index, user, amount, proof)
	if err != nil {
		return nil, fmt.Errorf("encode claim: %w", err)
	}
	p.add(TransactionStep{To: distributor, Data: data, Value: new(big.Int), Label: "Claim " + symbol})

	p.summary("Claim %s from Merkle distributor", symbol)
	p.detail("Action", "Merkle Claim")
	p.detail("Contract", shortenAddress(distributor))
	p.detail("Index", index.String())
	p.detail("Amount (wei)", amount.String())
	p.detail("Proof Length", strconv.Itoa(len(proof))+" nodes")
	p.detail("Steps", "1 (claim)")
	p.warn(warnVerifyDistributor)
	p.warn(warnClaimOnce)
	return p.build(), nil
}
