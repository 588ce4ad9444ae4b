package operation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
	"IntentForge/internal/intent"
	"IntentForge/pkg/logger"
)

// SubmitRequest 描述一次执行提交。
type SubmitRequest struct {
	Prepared *intent.PreparedTransaction `json:"prepared"`
	Account  string                      `json:"account"`
}

// Service 负责操作记录的提交、查询、取消与重试。
type Service struct {
	store     Store
	producer  Producer
	supported func(chainID uint64) bool
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithChainFilter 限制可提交的链，通常传入签名端的链列表。
func WithChainFilter(supported func(chainID uint64) bool) ServiceOption {
	return func(s *Service) {
		s.supported = supported
	}
}

// NewService 构造操作服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{store: store, producer: producer}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 校验预备交易，创建记录并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化")
	}
	if err := req.Prepared.Validate(); err != nil {
		return nil, err
	}
	account := strings.TrimSpace(req.Account)
	if !common.IsHexAddress(account) {
		return nil, xerrors.New(xerrors.CodeParam, "账户地址无效")
	}
	if s.supported != nil && !s.supported(req.Prepared.ChainID) {
		return nil, xerrors.Newf(xerrors.CodeChainConfig, "链 %d 未配置签名端", req.Prepared.ChainID)
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Kind:      req.Prepared.HumanReadable.Kind,
		Summary:   req.Prepared.HumanReadable.Summary,
		ChainID:   req.Prepared.ChainID,
		Account:   common.HexToAddress(account).Hex(),
		Prepared:  req.Prepared.Clone(),
		Status:    StatusPending,
		Execution: execution.State{Status: execution.StatusIdle},
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, rec); err != nil {
		return nil, err
	}
	logger.Audit().Info("操作入队成功",
		slog.String("operation_id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.Uint64("chain_id", rec.ChainID),
		slog.String("account", rec.Account),
		slog.Int("steps", len(rec.Prepared.Steps)),
	)
	return cloneRecord(rec), nil
}

// Get 返回指定操作。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的操作列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Cancel 取消尚未开始或已失败的操作；执行中的操作在下一个步骤边界停止。
func (s *Service) Cancel(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	rec, err := s.store.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("操作取消请求",
		slog.String("operation_id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.Bool("deferred", rec.CancelRequested),
	)
	return rec, nil
}

// Retry 将失败或被拒绝的操作重新排队，从第一步重新执行。
func (s *Service) Retry(ctx context.Context, id string) (*Record, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化")
	}
	rec, err := s.store.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, rec); err != nil {
		return nil, err
	}
	logger.Audit().Info("操作重新入队",
		slog.String("operation_id", rec.ID),
		slog.Int("attempts", rec.Attempts),
	)
	return rec, nil
}

// WaitUntilFinished 轮询直到操作结束或 ctx 结束。
func (s *Service) WaitUntilFinished(ctx context.Context, id string, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status.Finished() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, rec *Record) error {
	err := s.producer.Publish(ctx, rec.ID)
	if err == nil {
		return nil
	}
	logger.L().Error("操作入队失败", slog.Any("error", err), slog.String("operation_id", rec.ID))
	wrapped := xerrors.Wrap(CodeOperationPublish, err, "发布操作到队列失败")
	if markErr := s.store.MarkFinished(ctx, rec.ID, Outcome{
		Status:    StatusFailed,
		Execution: rec.Execution,
		ErrorCode: CodeOperationPublish,
		LastError: xerrors.Describe(wrapped),
	}); markErr != nil {
		logger.L().Error("回写入队失败状态出错", slog.Any("error", markErr), slog.String("operation_id", rec.ID))
	}
	return wrapped
}
