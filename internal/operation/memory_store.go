package operation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
)

// MemoryStore 以内存方式保存操作记录，适用于单实例部署与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, rec *Record) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作记录不能为空")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrOperationConflict
	}
	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Get 返回操作记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return cloneRecord(rec), nil
}

// Claim 将记录状态更新为执行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	switch rec.Status {
	case StatusPending:
	case StatusExecuting:
		return cloneRecord(rec), ErrOperationConflict
	default:
		return cloneRecord(rec), ErrOperationFinished
	}
	rec.Status = StatusExecuting
	rec.Attempts++
	rec.LastError = ""
	rec.ErrorCode = ""
	rec.UpdatedAt = time.Now().Unix()
	return cloneRecord(rec), nil
}

// UpdateProgress 保存执行进度。
func (m *MemoryStore) UpdateProgress(_ context.Context, id string, state execution.State) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	if rec.Status != StatusExecuting {
		return cloneRecord(rec), ErrOperationConflict
	}
	rec.Execution = state.Clone()
	rec.TxHashes = txHashes(state)
	rec.UpdatedAt = time.Now().Unix()
	return cloneRecord(rec), nil
}

// MarkFinished 写入最终结果。
func (m *MemoryStore) MarkFinished(_ context.Context, id string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrOperationNotFound
	}
	rec.Status = outcome.Status
	rec.Execution = outcome.Execution.Clone()
	rec.TxHashes = txHashes(outcome.Execution)
	rec.ErrorCode = string(outcome.ErrorCode)
	rec.LastError = outcome.LastError
	rec.CancelRequested = false
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

// RequestCancel 取消记录或为执行中的记录设置取消标记。
func (m *MemoryStore) RequestCancel(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	switch rec.Status {
	case StatusExecuting:
		rec.CancelRequested = true
	case StatusPending, StatusFailed, StatusRejected:
		rec.Status = StatusCancelled
		rec.Execution.Status = execution.StatusCancelled
		rec.CancelRequested = false
	default:
		return cloneRecord(rec), ErrOperationConflict
	}
	rec.UpdatedAt = time.Now().Unix()
	return cloneRecord(rec), nil
}

// Requeue 将失败的记录恢复为待执行。
func (m *MemoryStore) Requeue(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	if !rec.Status.Retryable() {
		return cloneRecord(rec), ErrOperationConflict
	}
	rec.Status = StatusPending
	rec.Execution = execution.State{Status: execution.StatusIdle}
	rec.ErrorCode = ""
	rec.LastError = ""
	rec.CancelRequested = false
	rec.UpdatedAt = time.Now().Unix()
	return cloneRecord(rec), nil
}

// List 返回符合过滤条件的记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		if !matchesListFilters(rec, opts) {
			continue
		}
		results = append(results, cloneRecord(rec))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.CreatedAt == b.CreatedAt {
					return a.ID < b.ID
				}
				return a.CreatedAt < b.CreatedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Record{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的记录数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, rec := range m.records {
		if !matchesListFilters(rec, opts) {
			continue
		}
		stats.add(rec)
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
