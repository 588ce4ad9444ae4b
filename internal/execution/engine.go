package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/intent"
	"IntentForge/pkg/logger"
)

// TxRequest is what the engine asks the wallet to sign and broadcast.
type TxRequest struct {
	To      common.Address
	Data    []byte
	Value   *big.Int
	ChainID uint64
}

// Wallet signs and broadcasts a transaction, returning its hash.
type Wallet interface {
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// Chain waits for the receipt of a broadcast transaction.
type Chain interface {
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Observer receives a snapshot after every state change.
type Observer func(State)

// Option customises an Engine.
type Option func(*Engine)

// WithObserver registers a progress observer. Observers run synchronously on
// the goroutine calling Execute.
func WithObserver(fn Observer) Option {
	return func(e *Engine) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// WithAllowanceCheck lets the engine skip approval steps whose allowance is
// already in place for owner.
func WithAllowanceCheck(reader AllowanceReader, owner common.Address) Option {
	return func(e *Engine) {
		e.allowance = reader
		e.owner = owner
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine executes one prepared transaction at a time.
type Engine struct {
	wallet    Wallet
	chain     Chain
	allowance AllowanceReader
	owner     common.Address
	observers []Observer
	log       *slog.Logger

	mu              sync.Mutex
	state           State
	running         bool
	cancelRequested bool
}

// New builds an engine around caller-owned wallet and chain clients.
func New(wallet Wallet, chain Chain, opts ...Option) *Engine {
	e := &Engine{
		wallet: wallet,
		chain:  chain,
		log:    logger.Named("execution"),
		state:  State{Status: StatusIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// State returns a snapshot safe to read from any goroutine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Execute runs every step of ptx in order and blocks until the execution
// confirms, fails, or is cancelled at a step boundary. Failures are returned
// as classified *errors.Error values and recorded in the state; a
// cancellation is not an error.
func (e *Engine) Execute(ctx context.Context, ptx *intent.PreparedTransaction) (State, error) {
	if err := ptx.Validate(); err != nil {
		return e.State(), err
	}
	if e.wallet == nil || e.chain == nil {
		return e.State(), xerrors.New(xerrors.CodeInitializationFailure, "execution engine has no wallet or chain client")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return e.State(), xerrors.New(xerrors.CodeConflict, "an execution is already running")
	}
	if e.state.Status != StatusIdle {
		status := e.state.Status
		e.mu.Unlock()
		return e.State(), xerrors.Newf(xerrors.CodeConflict, "execution is %s; call Retry or Reset first", status)
	}
	e.running = true
	e.cancelRequested = false
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.apply(Event{Type: EventStart, Total: len(ptx.Steps)}); err != nil {
		return e.State(), err
	}
	for i, step := range ptx.Steps {
		if e.shouldStop(ctx) {
			if err := e.apply(Event{Type: EventCancel}); err != nil {
				return e.State(), err
			}
			e.log.Info("execution cancelled", "chain_id", ptx.ChainID, "step", i+1, "total", len(ptx.Steps))
			return e.State(), nil
		}

		if e.skippable(ctx, step) {
			if err := e.apply(Event{Type: EventStepSkipped, Index: i, Label: step.Label}); err != nil {
				return e.State(), err
			}
			continue
		}

		if err := e.apply(Event{Type: EventDispatch, Index: i, Label: step.Label}); err != nil {
			return e.State(), err
		}
		hash, err := e.wallet.SendTransaction(ctx, TxRequest{
			To:      step.To,
			Data:    step.Data,
			Value:   step.ValueOrZero(),
			ChainID: ptx.ChainID,
		})
		if err != nil {
			class := Classify(err)
			if applyErr := e.apply(Event{Type: EventSendFailed, Status: class.Status, Message: class.Message}); applyErr != nil {
				return e.State(), applyErr
			}
			e.log.Warn("step send failed", "step", i+1, "label", step.Label, "status", class.Status, "error", err)
			return e.State(), xerrors.Wrap(class.Code, err, class.Message)
		}
		if err := e.apply(Event{Type: EventBroadcast, Hash: hash}); err != nil {
			return e.State(), err
		}

		receipt, err := e.chain.WaitForReceipt(ctx, hash)
		if err != nil && ctx.Err() != nil {
			// The broadcast transaction may still be mined; it is only the wait that stops.
			if applyErr := e.apply(Event{Type: EventCancel}); applyErr != nil {
				return e.State(), applyErr
			}
			e.log.Info("receipt wait abandoned", "step", i+1, "hash", hash.Hex(), "error", err)
			return e.State(), nil
		}
		if err != nil {
			message := ClassifyReceiptError(err)
			if applyErr := e.apply(Event{Type: EventReceiptFailed, Message: message}); applyErr != nil {
				return e.State(), applyErr
			}
			e.log.Warn("waiting for receipt failed", "step", i+1, "hash", hash.Hex(), "error", err)
			return e.State(), xerrors.Wrap(xerrors.CodeChainFailure, err, message,
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		}
		if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
			message := fmt.Sprintf("Step %d (%s) reverted on-chain", i+1, step.Label)
			if err := e.apply(Event{Type: EventReceipt, Success: false, Message: message}); err != nil {
				return e.State(), err
			}
			return e.State(), xerrors.New(xerrors.CodeChainFailure, message,
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		}
		if err := e.apply(Event{Type: EventReceipt, Success: true}); err != nil {
			return e.State(), err
		}
	}
	return e.State(), nil
}

// Cancel stops the execution at the next step boundary. An idle or failed
// engine is cancelled immediately. In-flight signatures and broadcast
// transactions are not retracted.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	if e.running {
		e.cancelRequested = true
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.apply(Event{Type: EventCancel})
}

// Retry resets a failed execution to idle. The next Execute starts again
// from the first step; steps confirmed in the failed attempt are not undone.
func (e *Engine) Retry() error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		return xerrors.New(xerrors.CodeConflict, "cannot retry while an execution is running")
	}
	return e.apply(Event{Type: EventRetry})
}

// Reset discards the current state so a new prepared transaction can run.
func (e *Engine) Reset() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return xerrors.New(xerrors.CodeConflict, "cannot reset while an execution is running")
	}
	e.state = State{Status: StatusIdle}
	e.cancelRequested = false
	snapshot := e.state.Clone()
	e.mu.Unlock()
	e.publish(snapshot)
	return nil
}

func (e *Engine) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

func (e *Engine) skippable(ctx context.Context, step intent.TransactionStep) bool {
	if step.ApproveCheck == nil || e.allowance == nil {
		return false
	}
	needed, err := NeedsApproval(ctx, e.allowance, e.owner, *step.ApproveCheck)
	if err != nil {
		e.log.Warn("allowance check failed, keeping approval", "token", step.ApproveCheck.Token.Hex(), "error", err)
		return false
	}
	return !needed
}

// apply runs Transition under the lock, then audits and publishes outside it.
func (e *Engine) apply(ev Event) error {
	e.mu.Lock()
	prev := e.state.Status
	next, err := Transition(e.state, ev)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = next
	snapshot := next.Clone()
	e.mu.Unlock()

	logger.Audit().Info("execution transition",
		"event", ev.Type.String(),
		"from", string(prev),
		"to", string(snapshot.Status),
		"step", snapshot.Progress.CurrentStepIndex,
		"total", snapshot.Progress.TotalSteps,
		"hash", snapshot.LastHash.Hex(),
	)
	e.publish(snapshot)
	return nil
}

func (e *Engine) publish(snapshot State) {
	for _, observer := range e.observers {
		observer(snapshot.Clone())
	}
}
