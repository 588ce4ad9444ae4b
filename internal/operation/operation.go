package operation

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
	"IntentForge/internal/intent"
)

// Status 表示操作记录在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Finished 表示记录不会再被执行，除非显式重试。
func (s Status) Finished() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Retryable 表示记录可以通过 Retry 重新排队。
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusRejected
}

// Record 是一次提交执行的操作历史。
type Record struct {
	ID              string                      `json:"id"`
	Kind            intent.Kind                 `json:"kind"`
	Summary         string                      `json:"summary"`
	ChainID         uint64                      `json:"chainId"`
	Account         string                      `json:"account"`
	Prepared        *intent.PreparedTransaction `json:"prepared"`
	Status          Status                      `json:"status"`
	Execution       execution.State             `json:"execution"`
	TxHashes        []string                    `json:"txHashes"`
	ErrorCode       string                      `json:"errorCode,omitempty"`
	LastError       string                      `json:"lastError,omitempty"`
	Attempts        int                         `json:"attempts"`
	CancelRequested bool                        `json:"cancelRequested,omitempty"`
	CreatedAt       int64                       `json:"createdAt"`
	UpdatedAt       int64                       `json:"updatedAt"`
}

// Outcome 是一次执行结束时写回记录的结果。
type Outcome struct {
	Status    Status
	Execution execution.State
	ErrorCode xerrors.Code
	LastError string
}

const (
	CodeOperationNotFound   xerrors.Code = "OPERATION_NOT_FOUND"
	CodeOperationConflict   xerrors.Code = "OPERATION_CONFLICT"
	CodeOperationFinished   xerrors.Code = "OPERATION_FINISHED"
	CodeOperationPublish    xerrors.Code = "OPERATION_PUBLISH_FAILED"
	CodeOperationProcessing xerrors.Code = "OPERATION_PROCESSING_FAILED"
)

var (
	// ErrOperationNotFound 表示指定的操作不存在。
	ErrOperationNotFound = xerrors.New(CodeOperationNotFound, "operation not found")
	// ErrOperationConflict 表示操作在当前状态下无法进行所请求的动作。
	ErrOperationConflict = xerrors.New(CodeOperationConflict, "operation conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrOperationFinished 表示操作已经结束，不会再被领取。
	ErrOperationFinished = xerrors.New(CodeOperationFinished, "operation already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
)

func init() {
	xerrors.Register(CodeOperationNotFound, xerrors.Attributes{
		Message:  "operation not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOperationConflict, xerrors.Attributes{
		Message:  "operation conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeOperationFinished, xerrors.Attributes{
		Message:  "operation already finished",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOperationPublish, xerrors.Attributes{
		Message:   "failed to publish operation",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeOperationProcessing, xerrors.Attributes{
		Message:   "operation processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusExecuting, StatusConfirmed, StatusFailed, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus 解析外部传入的状态字符串。
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !IsValidStatus(status) {
		return "", xerrors.Newf(xerrors.CodeParam, "unknown operation status %q", raw)
	}
	return status, nil
}

// StatusFor 将执行引擎的最终状态映射为记录状态。
func StatusFor(state execution.State) Status {
	switch state.Status {
	case execution.StatusConfirmed:
		return StatusConfirmed
	case execution.StatusCancelled:
		return StatusCancelled
	case execution.StatusWalletRejected:
		return StatusRejected
	case execution.StatusSendError, execution.StatusChainFailed:
		return StatusFailed
	case execution.StatusSending, execution.StatusConfirming:
		return StatusExecuting
	default:
		return StatusPending
	}
}

// txHashes 汇总已确认的交易哈希，以及最后一笔已广播但未确认的哈希。
func txHashes(state execution.State) []string {
	out := make([]string, 0, len(state.Progress.CompletedHashes)+1)
	seen := make(map[common.Hash]struct{}, len(state.Progress.CompletedHashes)+1)
	for _, hash := range state.Progress.CompletedHashes {
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, hash.Hex())
	}
	if state.LastHash != (common.Hash{}) {
		if _, ok := seen[state.LastHash]; !ok {
			out = append(out, state.LastHash.Hex())
		}
	}
	return out
}

func cloneRecord(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	clone := *rec
	clone.Prepared = rec.Prepared.Clone()
	clone.Execution = rec.Execution.Clone()
	clone.TxHashes = append([]string(nil), rec.TxHashes...)
	return &clone
}
