// Package execution drives a prepared transaction through wallet signing and
// chain confirmation, one step at a time.
package execution

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusSending        Status = "sending"
	StatusConfirming     Status = "confirming"
	StatusConfirmed      Status = "confirmed"
	StatusWalletRejected Status = "wallet_rejected"
	StatusSendError      Status = "send_error"
	StatusChainFailed    Status = "chain_failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports states that end an execution for good.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Failed reports states that Retry can recover from.
func (s Status) Failed() bool {
	switch s {
	case StatusWalletRejected, StatusSendError, StatusChainFailed:
		return true
	}
	return false
}

// Progress is published after every dispatch and every receipt.
type Progress struct {
	CurrentStepIndex int           `json:"currentStepIndex"`
	TotalSteps       int           `json:"totalSteps"`
	CurrentLabel     string        `json:"currentLabel"`
	CompletedHashes  []common.Hash `json:"completedTransactionHashes"`
}

// State is a snapshot of an execution.
type State struct {
	Status       Status      `json:"status"`
	Error        string      `json:"error,omitempty"`
	Progress     Progress    `json:"progress"`
	LastHash     common.Hash `json:"lastHash"`
	SkippedSteps []int       `json:"skippedSteps,omitempty"`
}

// Clone copies the slices so snapshots never alias engine state.
func (s State) Clone() State {
	s.Progress.CompletedHashes = append([]common.Hash(nil), s.Progress.CompletedHashes...)
	s.SkippedSteps = append([]int(nil), s.SkippedSteps...)
	return s
}

// EventType enumerates the inputs of Transition.
type EventType int

const (
	EventStart EventType = iota + 1
	EventDispatch
	EventBroadcast
	EventSendFailed
	EventReceipt
	EventReceiptFailed
	EventStepSkipped
	EventCancel
	EventRetry
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventDispatch:
		return "dispatch"
	case EventBroadcast:
		return "broadcast"
	case EventSendFailed:
		return "send_failed"
	case EventReceipt:
		return "receipt"
	case EventReceiptFailed:
		return "receipt_failed"
	case EventStepSkipped:
		return "step_skipped"
	case EventCancel:
		return "cancel"
	case EventRetry:
		return "retry"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one external input to the state machine. Only the fields the
// event type uses are read.
type Event struct {
	Type    EventType
	Total   int         // Start
	Index   int         // Dispatch, StepSkipped
	Label   string      // Dispatch, StepSkipped
	Hash    common.Hash // Broadcast
	Status  Status      // SendFailed: wallet_rejected or send_error
	Success bool        // Receipt
	Message string      // SendFailed, Receipt, ReceiptFailed
}

// Transition applies ev to s and returns the next state. It never mutates s.
func Transition(s State, ev Event) (State, error) {
	next := s.Clone()
	switch ev.Type {
	case EventStart:
		if s.Status != StatusIdle {
			return s, invalidTransition(s, ev)
		}
		if ev.Total <= 0 {
			return s, xerrors.New(xerrors.CodeInvalidArgument, "execution needs at least one step")
		}
		next = State{Status: StatusIdle, Progress: Progress{TotalSteps: ev.Total, CompletedHashes: []common.Hash{}}}

	case EventDispatch:
		if s.Status != StatusIdle && s.Status != StatusSending {
			return s, invalidTransition(s, ev)
		}
		if ev.Index < 0 || ev.Index >= s.Progress.TotalSteps {
			return s, xerrors.Newf(xerrors.CodeInvalidArgument, "step index %d out of range", ev.Index)
		}
		next.Status = StatusSending
		next.Progress.CurrentStepIndex = ev.Index
		next.Progress.CurrentLabel = ev.Label

	case EventBroadcast:
		if s.Status != StatusSending {
			return s, invalidTransition(s, ev)
		}
		next.Status = StatusConfirming
		next.LastHash = ev.Hash

	case EventSendFailed:
		if s.Status != StatusSending {
			return s, invalidTransition(s, ev)
		}
		if ev.Status != StatusWalletRejected && ev.Status != StatusSendError {
			return s, xerrors.Newf(xerrors.CodeInvalidArgument, "send failure cannot end in %s", ev.Status)
		}
		next.Status = ev.Status
		next.Error = ev.Message

	case EventReceipt:
		if s.Status != StatusConfirming {
			return s, invalidTransition(s, ev)
		}
		if !ev.Success {
			next.Status = StatusChainFailed
			next.Error = ev.Message
			break
		}
		next.Progress.CompletedHashes = append(next.Progress.CompletedHashes, s.LastHash)
		next.Status = advance(s.Progress.CurrentStepIndex, s.Progress.TotalSteps)

	case EventReceiptFailed:
		if s.Status != StatusConfirming {
			return s, invalidTransition(s, ev)
		}
		next.Status = StatusChainFailed
		next.Error = ev.Message

	case EventStepSkipped:
		if s.Status != StatusIdle && s.Status != StatusSending {
			return s, invalidTransition(s, ev)
		}
		next.SkippedSteps = append(next.SkippedSteps, ev.Index)
		next.Progress.CurrentStepIndex = ev.Index
		next.Progress.CurrentLabel = ev.Label
		next.Status = advance(ev.Index, s.Progress.TotalSteps)

	case EventCancel:
		if s.Status.Terminal() {
			return s, invalidTransition(s, ev)
		}
		next.Status = StatusCancelled

	case EventRetry:
		if !s.Status.Failed() {
			return s, invalidTransition(s, ev)
		}
		next = State{Status: StatusIdle}

	default:
		return s, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown event %s", ev.Type)
	}
	return next, nil
}

// advance moves past a finished step: back to sending, or confirmed after
// the last one.
func advance(index, total int) Status {
	if index+1 >= total {
		return StatusConfirmed
	}
	return StatusSending
}

func invalidTransition(s State, ev Event) error {
	return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("cannot apply %s while %s", ev.Type, s.Status),
		xerrors.WithMetadata("status", string(s.Status)),
		xerrors.WithMetadata("event", ev.Type.String()))
}
