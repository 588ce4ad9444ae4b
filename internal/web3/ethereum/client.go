package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"IntentForge/internal/web3"
	"IntentForge/internal/web3/abis"
)

// Backend is the RPC surface used by Client and KeyedWallet. Both
// *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	gethcore.ContractCaller
	gethcore.GasEstimator
	gethcore.TransactionSender
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
}

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	ChainID      uint64
	RPCURL       string
	PollInterval time.Duration
	Notes        string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name    string
	notes   string
	chainID uint64
	poll    time.Duration
	backend Backend
	rpc     *gethrpc.Client
	mu      sync.Mutex
}

// NewClient dials the configured RPC endpoint and checks that the node
// serves the expected chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	remote, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if cfg.ChainID != 0 && remote.Uint64() != cfg.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("节点链 ID %d 与配置的 %d 不一致", remote.Uint64(), cfg.ChainID)
	}

	return newClient(cfg, remote.Uint64(), eth, rpcClient), nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing
// purposes. The caller keeps ownership of the backend.
func NewSimulatedClient(name string, backend *simulated.Backend, poll time.Duration) (*Client, error) {
	eth := backend.Client()
	id, err := eth.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return newClient(Config{Name: name, PollInterval: poll, Notes: "simulated backend"}, id.Uint64(), eth, nil), nil
}

func newClient(cfg Config, chainID uint64, backend Backend, rpcClient *gethrpc.Client) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = web3.DefaultPollInterval
	}
	return &Client{
		name:    cfg.Name,
		notes:   cfg.Notes,
		chainID: chainID,
		poll:    poll,
		backend: backend,
		rpc:     rpcClient,
	}
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// ChainID returns the chain id served by the node.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// Backend exposes the underlying RPC client.
func (c *Client) Backend() Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
	c.backend = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.ready()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{ChainID: c.chainID, BlockNumber: blockNumber, Notes: c.notes}, nil
}

// WaitForReceipt polls for the receipt of hash until it is mined or ctx is
// done. Lookup errors such as a missing receipt, a node that is still
// indexing or a dropped connection keep the wait going. Reverted
// transactions are returned with a failed status, not as an error.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err == nil, errors.Is(err, gethcore.NotFound):
		case errors.Is(err, gethrpc.ErrClientQuit):
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		default:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("等待交易回执中止: %w (最近一次查询错误: %v)", ctx.Err(), lastErr)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Allowance reads ERC20 allowance(owner, spender) on token.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	data, err := abis.ERC20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("编码 allowance 调用失败: %w", err)
	}
	out, err := backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	values, err := abis.ERC20.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("解析授权额度失败: %w", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("授权额度类型异常: %T", values[0])
	}
	return amount, nil
}

func (c *Client) ready() (Backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

var _ web3.Client = (*Client)(nil)
