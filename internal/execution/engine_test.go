package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/intent"
)

type fakeWallet struct {
	mu      sync.Mutex
	calls   []TxRequest
	errs    map[int]error
	onSend  func(call int)
	counter int
}

func (w *fakeWallet) SendTransaction(_ context.Context, req TxRequest) (common.Hash, error) {
	w.mu.Lock()
	call := len(w.calls)
	w.calls = append(w.calls, req)
	err := w.errs[call]
	hook := w.onSend
	w.counter++
	hash := common.BigToHash(big.NewInt(int64(w.counter)))
	w.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (w *fakeWallet) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

type fakeChain struct {
	mu       sync.Mutex
	reverted map[common.Hash]bool
	errs     map[common.Hash]error
	onWait   func(hash common.Hash)
}

func (c *fakeChain) WaitForReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	hook := c.onWait
	err := c.errs[hash]
	reverted := c.reverted[hash]
	c.mu.Unlock()
	if hook != nil {
		hook(hash)
	}
	if err != nil {
		return nil, err
	}
	status := types.ReceiptStatusSuccessful
	if reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash}, nil
}

type fakeAllowance struct {
	amount *big.Int
	err    error
}

func (a fakeAllowance) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return a.amount, a.err
}

func plan(labels ...string) *intent.PreparedTransaction {
	ptx := &intent.PreparedTransaction{ChainID: 1}
	for i, label := range labels {
		ptx.Steps = append(ptx.Steps, intent.TransactionStep{
			To:    common.BigToAddress(big.NewInt(int64(i + 100))),
			Data:  []byte{byte(i)},
			Value: big.NewInt(int64(i)),
			Label: label,
		})
	}
	return ptx
}

func hashN(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func TestExecuteSingleStepConfirms(t *testing.T) {
	wallet := &fakeWallet{}
	var observed []State
	engine := New(wallet, &fakeChain{}, WithObserver(func(s State) { observed = append(observed, s) }))

	state, err := engine.Execute(context.Background(), plan("Send 1 ETH"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status != StatusConfirmed {
		t.Fatalf("status %s, want confirmed", state.Status)
	}
	if len(state.Progress.CompletedHashes) != 1 || state.Progress.CompletedHashes[0] != hashN(1) {
		t.Fatalf("completed hashes %v", state.Progress.CompletedHashes)
	}
	if wallet.calls[0].ChainID != 1 || wallet.calls[0].To != common.BigToAddress(big.NewInt(100)) {
		t.Fatalf("unexpected wallet request %+v", wallet.calls[0])
	}
	want := []Status{StatusIdle, StatusSending, StatusConfirming, StatusConfirmed}
	if len(observed) != len(want) {
		t.Fatalf("observed %d snapshots, want %d", len(observed), len(want))
	}
	for i, s := range observed {
		if s.Status != want[i] {
			t.Fatalf("snapshot %d status %s, want %s", i, s.Status, want[i])
		}
	}
	if observed[1].Progress.CurrentLabel != "Send 1 ETH" || observed[1].Progress.TotalSteps != 1 {
		t.Fatalf("dispatch progress %+v", observed[1].Progress)
	}
}

func TestExecuteUserRejection(t *testing.T) {
	wallet := &fakeWallet{errs: map[int]error{1: errors.New("MetaMask Tx Signature: User rejected the request.")}}
	engine := New(wallet, &fakeChain{})

	state, err := engine.Execute(context.Background(), plan("Approve", "Supply"))
	if state.Status != StatusWalletRejected {
		t.Fatalf("status %s, want wallet_rejected", state.Status)
	}
	if state.Error != MsgRejected {
		t.Fatalf("error message %q", state.Error)
	}
	if !xerrors.HasCode(err, xerrors.CodeWalletRejected) {
		t.Fatalf("expected wallet rejected code, got %v", err)
	}
	if len(state.Progress.CompletedHashes) != 1 || wallet.callCount() != 2 {
		t.Fatalf("execution must stop at the failing step")
	}
}

func TestCancelBetweenSteps(t *testing.T) {
	wallet := &fakeWallet{}
	chain := &fakeChain{}
	engine := New(wallet, chain)
	chain.onWait = func(hash common.Hash) {
		if hash == hashN(1) {
			if err := engine.Cancel(); err != nil {
				t.Errorf("cancel: %v", err)
			}
		}
	}

	state, err := engine.Execute(context.Background(), plan("one", "two", "three"))
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if state.Status != StatusCancelled {
		t.Fatalf("status %s, want cancelled", state.Status)
	}
	if len(state.Progress.CompletedHashes) != 1 {
		t.Fatalf("completed %d, want 1", len(state.Progress.CompletedHashes))
	}
	if wallet.callCount() != 1 {
		t.Fatalf("wallet called %d times after cancel", wallet.callCount())
	}
	if err := engine.Retry(); err == nil {
		t.Fatalf("retry from cancelled must fail")
	}
}

func TestCancelWhileIdle(t *testing.T) {
	engine := New(&fakeWallet{}, &fakeChain{})
	if err := engine.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if engine.State().Status != StatusCancelled {
		t.Fatalf("idle cancel must be immediate")
	}
	if _, err := engine.Execute(context.Background(), plan("x")); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("execute after cancel must conflict, got %v", err)
	}
	if err := engine.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if state, err := engine.Execute(context.Background(), plan("x")); err != nil || state.Status != StatusConfirmed {
		t.Fatalf("execute after reset: %v %s", err, state.Status)
	}
}

func TestRevertedReceiptNamesStep(t *testing.T) {
	chain := &fakeChain{reverted: map[common.Hash]bool{hashN(2): true}}
	engine := New(&fakeWallet{}, chain)

	state, err := engine.Execute(context.Background(), plan("Approve USDC", "Supply 100 USDC to Aave"))
	if state.Status != StatusChainFailed {
		t.Fatalf("status %s", state.Status)
	}
	if state.Error != "Step 2 (Supply 100 USDC to Aave) reverted on-chain" {
		t.Fatalf("error %q", state.Error)
	}
	if !xerrors.HasCode(err, xerrors.CodeChainFailure) {
		t.Fatalf("expected chain failure code, got %v", err)
	}
}

func TestReceiptWaitError(t *testing.T) {
	chain := &fakeChain{errs: map[common.Hash]error{hashN(1): errors.New("transaction ran out of gas")}}
	engine := New(&fakeWallet{}, chain)
	state, _ := engine.Execute(context.Background(), plan("x"))
	if state.Status != StatusChainFailed || state.Error != MsgOutOfGas {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestReceiptWaitDeadlineIsNotAChainFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chain := &fakeChain{errs: map[common.Hash]error{hashN(1): context.DeadlineExceeded}}
	chain.onWait = func(common.Hash) { cancel() }
	engine := New(&fakeWallet{}, chain)

	state, err := engine.Execute(ctx, plan("Swap", "Deposit"))
	if err != nil {
		t.Fatalf("abandoned receipt wait is not an error: %v", err)
	}
	if state.Status != StatusCancelled {
		t.Fatalf("status %s, want cancelled", state.Status)
	}
	if state.LastHash != hashN(1) || len(state.Progress.CompletedHashes) != 0 {
		t.Fatalf("broadcast hash must be kept: %+v", state)
	}
}

func TestRetryRestartsFromFirstStep(t *testing.T) {
	wallet := &fakeWallet{errs: map[int]error{1: errors.New("nonce too low")}}
	engine := New(wallet, &fakeChain{})
	ptx := plan("one", "two")

	state, _ := engine.Execute(context.Background(), ptx)
	if state.Status != StatusSendError || state.Error != MsgNonce {
		t.Fatalf("unexpected first attempt %+v", state)
	}
	if _, err := engine.Execute(context.Background(), ptx); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("execute without retry must conflict, got %v", err)
	}
	if err := engine.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s := engine.State(); s.Status != StatusIdle || s.Error != "" || len(s.Progress.CompletedHashes) != 0 {
		t.Fatalf("retry must clear state: %+v", s)
	}
	state, err := engine.Execute(context.Background(), ptx)
	if err != nil || state.Status != StatusConfirmed {
		t.Fatalf("second attempt: %v %+v", err, state)
	}
	if wallet.callCount() != 4 {
		t.Fatalf("retry must restart from the first step, wallet saw %d calls", wallet.callCount())
	}
	if wallet.calls[2].To != wallet.calls[0].To {
		t.Fatalf("second attempt did not start at step one")
	}
}

func TestApprovalSkippedWhenAllowanceSuffices(t *testing.T) {
	ptx := plan("Approve USDC", "Supply")
	ptx.Steps[0].ApproveCheck = &intent.ApproveCheck{
		Token:             common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Spender:           common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
		MinRequiredAmount: big.NewInt(100),
	}
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	wallet := &fakeWallet{}
	var observed []State
	engine := New(wallet, &fakeChain{},
		WithAllowanceCheck(fakeAllowance{amount: big.NewInt(100)}, owner),
		WithObserver(func(s State) { observed = append(observed, s) }))
	state, err := engine.Execute(context.Background(), ptx)
	if err != nil || state.Status != StatusConfirmed {
		t.Fatalf("execute: %v %+v", err, state)
	}
	if len(observed) < 2 || observed[1].Progress.CurrentLabel != "Approve USDC" || observed[1].Progress.CurrentStepIndex != 0 {
		t.Fatalf("skip snapshot must carry the skipped step label: %+v", observed)
	}
	if wallet.callCount() != 1 || len(state.SkippedSteps) != 1 || state.SkippedSteps[0] != 0 {
		t.Fatalf("approval should be skipped: calls=%d skipped=%v", wallet.callCount(), state.SkippedSteps)
	}

	wallet = &fakeWallet{}
	engine = New(wallet, &fakeChain{}, WithAllowanceCheck(fakeAllowance{amount: big.NewInt(99)}, owner))
	if _, err := engine.Execute(context.Background(), ptx); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if wallet.callCount() != 2 {
		t.Fatalf("insufficient allowance must keep the approval")
	}

	wallet = &fakeWallet{}
	engine = New(wallet, &fakeChain{}, WithAllowanceCheck(fakeAllowance{err: errors.New("rpc down")}, owner))
	if _, err := engine.Execute(context.Background(), ptx); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if wallet.callCount() != 2 {
		t.Fatalf("a failed allowance read must keep the approval")
	}
}

func TestExecuteRejectsInvalidPlan(t *testing.T) {
	engine := New(&fakeWallet{}, &fakeChain{})
	if _, err := engine.Execute(context.Background(), &intent.PreparedTransaction{ChainID: 1}); err == nil {
		t.Fatalf("empty plan must be rejected")
	}
	if engine.State().Status != StatusIdle {
		t.Fatalf("invalid plan must not change state")
	}
}

func TestContextCancelledStopsAtBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wallet := &fakeWallet{onSend: func(int) { cancel() }}
	engine := New(wallet, &fakeChain{})
	state, err := engine.Execute(ctx, plan("one", "two"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status != StatusCancelled || wallet.callCount() != 1 {
		t.Fatalf("context cancel must stop before step two: %+v calls=%d", state, wallet.callCount())
	}
}

func TestConcurrentStateReads(t *testing.T) {
	engine := New(&fakeWallet{}, &fakeChain{})
	labels := make([]string, 20)
	for i := range labels {
		labels[i] = fmt.Sprintf("step %d", i)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s := engine.State()
			_ = len(s.Progress.CompletedHashes)
		}
	}()
	state, err := engine.Execute(context.Background(), plan(labels...))
	<-done
	if err != nil || len(state.Progress.CompletedHashes) != 20 {
		t.Fatalf("execute: %v %d", err, len(state.Progress.CompletedHashes))
	}
}

func TestTransitionRejectsInvalidEvents(t *testing.T) {
	idle := State{Status: StatusIdle}
	if _, err := Transition(idle, Event{Type: EventBroadcast}); err == nil {
		t.Fatalf("broadcast from idle must fail")
	}
	if _, err := Transition(idle, Event{Type: EventRetry}); err == nil {
		t.Fatalf("retry from idle must fail")
	}
	confirmed := State{Status: StatusConfirmed}
	if _, err := Transition(confirmed, Event{Type: EventCancel}); err == nil {
		t.Fatalf("cancel after confirmation must fail")
	}
	sending := State{Status: StatusSending, Progress: Progress{TotalSteps: 1}}
	if _, err := Transition(sending, Event{Type: EventSendFailed, Status: StatusConfirmed}); err == nil {
		t.Fatalf("send failure must end in a failure state")
	}
	failed := State{Status: StatusSendError, Error: "x", Progress: Progress{TotalSteps: 2, CompletedHashes: []common.Hash{hashN(1)}}}
	next, err := Transition(failed, Event{Type: EventCancel})
	if err != nil || next.Status != StatusCancelled {
		t.Fatalf("cancel from a failure state: %v %s", err, next.Status)
	}
	if failed.Status != StatusSendError {
		t.Fatalf("transition mutated its input")
	}
}

func TestTransitionSkipSetsLabel(t *testing.T) {
	s := State{Status: StatusSending, Progress: Progress{TotalSteps: 3, CurrentStepIndex: 0, CurrentLabel: "Swap"}}
	next, err := Transition(s, Event{Type: EventStepSkipped, Index: 1, Label: "Approve WETH"})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if next.Progress.CurrentStepIndex != 1 || next.Progress.CurrentLabel != "Approve WETH" || next.Status != StatusSending {
		t.Fatalf("unexpected progress %+v", next)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status Status
		msg    string
	}{
		{errors.New("User denied transaction signature"), StatusWalletRejected, MsgRejected},
		{errors.New("ACTION_REJECTED"), StatusWalletRejected, MsgRejected},
		{errors.New("request declined by user"), StatusWalletRejected, MsgRejected},
		{errors.New("insufficient funds for gas * price + value"), StatusSendError, MsgInsufficient},
		{errors.New("gas required exceeds allowance (30000000)"), StatusSendError, MsgGasEstimate},
		{errors.New("execution reverted: STF"), StatusSendError, MsgGasEstimate},
		{errors.New("nonce too low: next nonce 5, tx nonce 4"), StatusSendError, MsgNonce},
		{errors.New("replacement transaction underpriced"), StatusSendError, MsgNonce},
		{errors.New("Post \"http://node\": dial tcp: connection refused"), StatusSendError, MsgNetwork},
		{context.DeadlineExceeded, StatusSendError, MsgNetwork},
		{errors.New("invalid chain id for signer"), StatusSendError, MsgWrongChain},
		{rpcError{code: 4001, msg: "no"}, StatusWalletRejected, MsgRejected},
		{rpcError{code: 4902, msg: "Unrecognized"}, StatusSendError, MsgWrongChain},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		if got.Status != tc.status || got.Message != tc.msg {
			t.Fatalf("Classify(%q) = %s %q, want %s %q", tc.err, got.Status, got.Message, tc.status, tc.msg)
		}
	}

	long := errors.New(strings.Repeat("x", 500))
	got := Classify(long)
	if got.Status != StatusSendError || !strings.HasPrefix(got.Message, "Transaction failed: ") {
		t.Fatalf("generic classification %+v", got)
	}
	if n := len([]rune(strings.TrimPrefix(got.Message, "Transaction failed: "))); n != maxErrorRunes+3 {
		t.Fatalf("generic message not truncated: %d runes", n)
	}
}

func TestClassifyReceiptError(t *testing.T) {
	if ClassifyReceiptError(errors.New("execution reverted")) != MsgReverted {
		t.Fatalf("revert")
	}
	if ClassifyReceiptError(errors.New("out of gas")) != MsgOutOfGas {
		t.Fatalf("out of gas")
	}
	if msg := ClassifyReceiptError(errors.New("boom")); msg != "Transaction failed on-chain: boom" {
		t.Fatalf("generic %q", msg)
	}
}

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }
