package operation

import (
	"context"

	"IntentForge/internal/execution"
)

// Store 抽象了操作记录的持久化接口。
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// Claim 将 pending 记录切换为 executing 并增加尝试次数。
	Claim(ctx context.Context, id string) (*Record, error)
	// UpdateProgress 保存执行中的进度快照，返回最新记录。
	UpdateProgress(ctx context.Context, id string, state execution.State) (*Record, error)
	MarkFinished(ctx context.Context, id string, outcome Outcome) error
	// RequestCancel 立即取消未开始的记录，对执行中的记录只设置取消标记。
	RequestCancel(ctx context.Context, id string) (*Record, error)
	// Requeue 将失败或被拒绝的记录恢复为 pending。
	Requeue(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了操作状态的统计信息。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Executing       int   `json:"executing"`
	Confirmed       int   `json:"confirmed"`
	Failed          int   `json:"failed"`
	Rejected        int   `json:"rejected"`
	Cancelled       int   `json:"cancelled"`
	OldestUpdatedAt int64 `json:"oldestUpdatedAt,omitempty"`
	NewestUpdatedAt int64 `json:"newestUpdatedAt,omitempty"`
}

func (s *Stats) add(rec *Record) {
	s.Total++
	switch rec.Status {
	case StatusPending:
		s.Pending++
	case StatusExecuting:
		s.Executing++
	case StatusConfirmed:
		s.Confirmed++
	case StatusFailed:
		s.Failed++
	case StatusRejected:
		s.Rejected++
	case StatusCancelled:
		s.Cancelled++
	}
	if rec.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = rec.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (rec.UpdatedAt != 0 && rec.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = rec.UpdatedAt
	}
}
