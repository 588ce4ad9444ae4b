package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"IntentForge/internal/execution"
	"IntentForge/internal/intent"
)

var (
	// Returns 42 as a uint256 for any call.
	constantRuntime = common.FromHex("0x602a60005260206000f3")
	// Reverts every call.
	revertRuntime = common.FromHex("0x60006000fd")

	constantAddr = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	revertAddr   = common.HexToAddress("0x00000000000000000000000000000000000c0de2")
)

type testChain struct {
	backend *simulated.Backend
	client  *Client
	wallet  *KeyedWallet
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	balance, _ := new(big.Int).SetString("100000000000000000000", 10)
	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		from:         {Balance: balance},
		constantAddr: {Code: constantRuntime, Balance: new(big.Int)},
		revertAddr:   {Code: revertRuntime, Balance: new(big.Int)},
	})
	t.Cleanup(func() { _ = backend.Close() })

	client, err := NewSimulatedClient("simulated", backend, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("simulated client: %v", err)
	}
	t.Cleanup(client.Close)
	wallet, err := NewKeyedWallet(key, client)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return &testChain{backend: backend, client: client, wallet: wallet}
}

// mine commits blocks until the returned stop function is called.
func (c *testChain) mine(t *testing.T) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.backend.Commit()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func TestWalletSendAndWaitForReceipt(t *testing.T) {
	chain := newTestChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	hash, err := chain.wallet.SendTransaction(ctx, execution.TxRequest{
		To:      recipient,
		Value:   big.NewInt(1_000_000_000),
		ChainID: chain.client.ChainID(),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	chain.backend.Commit()

	receipt, err := chain.client.WaitForReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful || receipt.TxHash != hash {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	got, err := chain.client.Backend().BalanceAt(ctx, recipient, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Int64() != 1_000_000_000 {
		t.Fatalf("recipient balance %s", got)
	}

	snapshot, err := chain.client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ChainID != chain.client.ChainID() || snapshot.BlockNumber == 0 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	chain := newTestChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := chain.client.WaitForReceipt(ctx, common.HexToHash("0x1234"))
	if err == nil {
		t.Fatalf("expected context error for unknown hash")
	}
}

// receiptBackend answers TransactionReceipt from a scripted list of errors
// before returning the receipt. Other Backend methods are not used.
type receiptBackend struct {
	Backend
	mu    sync.Mutex
	errs  []error
	calls int
}

func (b *receiptBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, err
	}
	return &coretypes.Receipt{TxHash: hash, Status: coretypes.ReceiptStatusSuccessful}, nil
}

func TestWaitForReceiptKeepsPollingThroughLookupErrors(t *testing.T) {
	backend := &receiptBackend{errs: []error{
		errors.New("transaction indexing is in progress"),
		gethcore.NotFound,
		errors.New("Post \"http://node\": connection reset by peer"),
	}}
	client := newClient(Config{Name: "scripted", PollInterval: time.Millisecond}, 1, backend, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hash := common.HexToHash("0xabcd")
	receipt, err := client.WaitForReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if receipt.TxHash != hash || backend.calls != 4 {
		t.Fatalf("receipt %+v after %d lookups", receipt, backend.calls)
	}
}

func TestWaitForReceiptReportsLastErrorOnContextEnd(t *testing.T) {
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = errors.New("transaction indexing is in progress")
	}
	client := newClient(Config{Name: "scripted", PollInterval: time.Millisecond}, 1, &receiptBackend{errs: errs}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.WaitForReceipt(ctx, common.HexToHash("0xabcd"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !strings.Contains(err.Error(), "indexing") {
		t.Fatalf("last lookup error missing from %q", err)
	}
}

func TestAllowanceReadsContract(t *testing.T) {
	chain := newTestChain(t)
	amount, err := chain.client.Allowance(context.Background(), constantAddr, chain.wallet.Address(), revertAddr)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if amount.Int64() != 42 {
		t.Fatalf("allowance %s, want 42", amount)
	}
	if _, err := chain.client.Allowance(context.Background(), revertAddr, chain.wallet.Address(), constantAddr); err == nil {
		t.Fatalf("reverting token must return an error")
	}
}

func TestWalletRejectsWrongChainAndReverts(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()
	_, err := chain.wallet.SendTransaction(ctx, execution.TxRequest{To: constantAddr, ChainID: chain.client.ChainID() + 1})
	if err == nil || execution.Classify(err).Message != execution.MsgWrongChain {
		t.Fatalf("expected wrong chain classification, got %v", err)
	}
	_, err = chain.wallet.SendTransaction(ctx, execution.TxRequest{To: revertAddr, Data: []byte{1}, ChainID: chain.client.ChainID()})
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "revert") {
		t.Fatalf("expected gas estimation revert, got %v", err)
	}
	if execution.Classify(err).Message != execution.MsgGasEstimate {
		t.Fatalf("classified as %q", execution.Classify(err).Message)
	}
}

func TestEngineOnSimulatedChain(t *testing.T) {
	chain := newTestChain(t)
	stop := chain.mine(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ptx := &intent.PreparedTransaction{
		ChainID: chain.client.ChainID(),
		Steps: []intent.TransactionStep{
			{To: common.HexToAddress("0x3333333333333333333333333333333333333333"), Value: big.NewInt(1), Label: "first"},
			{To: constantAddr, Data: []byte{0xde, 0xad}, Value: new(big.Int), Label: "second"},
		},
	}
	engine := execution.New(chain.wallet, chain.client)
	state, err := engine.Execute(ctx, ptx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status != execution.StatusConfirmed || len(state.Progress.CompletedHashes) != 2 {
		t.Fatalf("unexpected final state %+v", state)
	}
}
