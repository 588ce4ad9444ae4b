package operation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
	"IntentForge/internal/intent"
	"IntentForge/internal/observability/alerting"
)

const testAccount = "0x1111111111111111111111111111111111111111"

func samplePrepared(chainID uint64, steps int) *intent.PreparedTransaction {
	ptx := &intent.PreparedTransaction{
		ChainID: chainID,
		HumanReadable: intent.HumanReadable{
			Kind:    intent.KindTransfer,
			Summary: "Send 1 USDC",
		},
	}
	for i := 0; i < steps; i++ {
		ptx.Steps = append(ptx.Steps, intent.TransactionStep{
			To:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Data:  []byte{0xa9, 0x05, 0x9c, 0xbb},
			Label: fmt.Sprintf("Step %d", i+1),
		})
	}
	return ptx
}

type fakeWallet struct {
	mu      sync.Mutex
	counter int64
	err     error
}

func (w *fakeWallet) SendTransaction(_ context.Context, _ execution.TxRequest) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return common.Hash{}, w.err
	}
	w.counter++
	return common.BigToHash(big.NewInt(w.counter)), nil
}

type fakeChain struct {
	mu       sync.Mutex
	reverted bool
	onWait   func(hash common.Hash)
}

func (c *fakeChain) WaitForReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	hook := c.onWait
	reverted := c.reverted
	c.mu.Unlock()
	if hook != nil {
		hook(hash)
	}
	status := types.ReceiptStatusSuccessful
	if reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash}, nil
}

func engineFactory(wallet execution.Wallet, chain execution.Chain) EngineFactory {
	return func(chainID uint64, opts ...execution.Option) (*execution.Engine, error) {
		if chainID != 1 {
			return nil, xerrors.Newf(xerrors.CodeChainConfig, "链 %d 未配置", chainID)
		}
		return execution.New(wallet, chain, opts...), nil
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

type recordingProducer struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingProducer) Publish(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}
