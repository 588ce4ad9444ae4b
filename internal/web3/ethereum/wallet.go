package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"IntentForge/internal/execution"
)

// KeyedWallet signs with a local secp256k1 key and broadcasts through the
// client of one chain.
type KeyedWallet struct {
	key    *ecdsa.PrivateKey
	from   common.Address
	client *Client

	mu sync.Mutex
}

// ParsePrivateKey accepts a hex key with or without 0x.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("私钥为空")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return key, nil
}

// NewKeyedWallet binds key to the chain served by client.
func NewKeyedWallet(key *ecdsa.PrivateKey, client *Client) (*KeyedWallet, error) {
	if key == nil {
		return nil, errors.New("私钥为空")
	}
	if client == nil {
		return nil, errors.New("未提供链客户端")
	}
	return &KeyedWallet{key: key, from: crypto.PubkeyToAddress(key.PublicKey), client: client}, nil
}

// Address returns the signing account.
func (w *KeyedWallet) Address() common.Address {
	return w.from
}

// SendTransaction builds an EIP-1559 transaction from the node's nonce, gas
// estimate and fee suggestion, signs it and broadcasts it. Calls are
// serialised so concurrent sends never reuse a nonce.
func (w *KeyedWallet) SendTransaction(ctx context.Context, req execution.TxRequest) (common.Hash, error) {
	if req.ChainID != w.client.ChainID() {
		return common.Hash{}, fmt.Errorf("chain id mismatch: wallet is on %d, request targets %d", w.client.ChainID(), req.ChainID)
	}
	backend, err := w.client.ready()
	if err != nil {
		return common.Hash{}, err
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get latest header: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	to := req.To
	gas, err := backend.EstimateGas(ctx, gethcore.CallMsg{From: w.from, To: &to, Data: req.Data, Value: value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	chainID := new(big.Int).SetUint64(req.ChainID)
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

var _ execution.Wallet = (*KeyedWallet)(nil)
