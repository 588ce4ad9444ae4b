package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"IntentForge/internal/config"
	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
	"IntentForge/internal/web3"
	"IntentForge/internal/web3/ethereum"
)

// Registry manages chain clients and wallets keyed by chain id.
type Registry struct {
	clients map[uint64]*ethereum.Client
	wallets map[uint64]*ethereum.KeyedWallet
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// A configured private key yields one keyed wallet per chain.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	var key *ecdsa.PrivateKey
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		key, err = ethereum.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(defs.Chains))
	for name := range defs.Chains {
		names = append(names, name)
	}
	sort.Strings(names)

	clients := make([]*ethereum.Client, 0, len(names))
	for _, name := range names {
		chain := defs.Chains[name]
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeClients(clients)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		poll, _ := chain.Poll()
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:         name,
			ChainID:      chain.ChainID,
			RPCURL:       chain.RPCURL,
			PollInterval: poll,
			Notes:        chain.Description,
		})
		if err != nil {
			closeClients(clients)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	return NewRegistryFromClients(key, clients...)
}

// NewRegistryFromClients builds a registry around existing clients, for
// tests and embedded use. key may be nil for a read-only registry.
func NewRegistryFromClients(key *ecdsa.PrivateKey, clients ...*ethereum.Client) (*Registry, error) {
	r := &Registry{
		clients: make(map[uint64]*ethereum.Client, len(clients)),
		wallets: make(map[uint64]*ethereum.KeyedWallet, len(clients)),
	}
	for _, client := range clients {
		if _, dup := r.clients[client.ChainID()]; dup {
			return nil, fmt.Errorf("链 ID %d 重复配置", client.ChainID())
		}
		r.clients[client.ChainID()] = client
		if key == nil {
			continue
		}
		wallet, err := ethereum.NewKeyedWallet(key, client)
		if err != nil {
			return nil, err
		}
		r.wallets[client.ChainID()] = wallet
	}
	return r, nil
}

// Client returns the chain client serving chainID.
func (r *Registry) Client(chainID uint64) (*ethereum.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	client, ok := r.clients[chainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainConfig, fmt.Sprintf("链 %d 未配置 RPC 端点", chainID))
	}
	return client, nil
}

// Wallet returns the signing wallet of chainID.
func (r *Registry) Wallet(chainID uint64) (*ethereum.KeyedWallet, error) {
	if _, err := r.Client(chainID); err != nil {
		return nil, err
	}
	wallet, ok := r.wallets[chainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名私钥")
	}
	return wallet, nil
}

// NewEngine builds an execution engine for chainID. Approval steps are
// skipped when the wallet's allowance already covers them.
func (r *Registry) NewEngine(chainID uint64, opts ...execution.Option) (*execution.Engine, error) {
	client, err := r.Client(chainID)
	if err != nil {
		return nil, err
	}
	wallet, err := r.Wallet(chainID)
	if err != nil {
		return nil, err
	}
	all := append([]execution.Option{execution.WithAllowanceCheck(client, wallet.Address())}, opts...)
	return execution.New(wallet, client, all...), nil
}

// Snapshots reports the head of every configured chain. Chains that fail
// to answer are skipped.
func (r *Registry) Snapshots(ctx context.Context) []web3.ChainSnapshot {
	out := make([]web3.ChainSnapshot, 0, len(r.clients))
	for _, id := range r.ChainIDs() {
		snapshot, err := r.clients[id].FetchChainSnapshot(ctx)
		if err != nil {
			continue
		}
		out = append(out, snapshot)
	}
	return out
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
		delete(r.wallets, id)
	}
}

// ChainIDs returns the registered chain ids in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	if r == nil {
		return nil
	}
	ids := make([]uint64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func closeClients(clients []*ethereum.Client) {
	for _, client := range clients {
		client.Close()
	}
}
