package operation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
	"IntentForge/internal/intent"
)

const recordColumns = `id, kind, summary, chain_id, account, prepared, status, execution, tx_hashes,
    error_code, last_error, attempts, cancel_requested, created_at, updated_at`

// MySQLConfig 描述 MySQL 存储的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 记录操作历史。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 连接数据库并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return store, nil
}

// Create 插入新的操作记录。
func (s *MySQLStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作记录不能为空")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作 ID 不能为空")
	}

	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	prepared, err := json.Marshal(rec.Prepared)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码预备交易失败")
	}
	state, hashes, err := encodeProgress(rec.Execution)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO operations
    (id, kind, summary, chain_id, account, prepared, status, execution, tx_hashes, error_code, last_error, attempts, cancel_requested, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		rec.ID,
		string(rec.Kind),
		rec.Summary,
		rec.ChainID,
		rec.Account,
		string(prepared),
		string(rec.Status),
		state,
		hashes,
		rec.ErrorCode,
		rec.LastError,
		rec.Attempts,
		rec.CancelRequested,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOperationConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入操作记录失败")
	}
	return nil
}

// Get 查询指定操作。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM operations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作记录失败")
	}
	return rec, nil
}

// Claim 将记录标记为执行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Record, error) {
	const stmt = `UPDATE operations SET status = ?, attempts = attempts + 1, last_error = '', error_code = '', updated_at = ?
    WHERE id = ? AND status = ?`

	affected, err := s.exec(ctx, "领取操作失败", stmt, string(StatusExecuting), time.Now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if rec.Status == StatusExecuting {
			return rec, ErrOperationConflict
		}
		return rec, ErrOperationFinished
	}
	return rec, nil
}

// UpdateProgress 保存执行进度。
func (s *MySQLStore) UpdateProgress(ctx context.Context, id string, state execution.State) (*Record, error) {
	encoded, hashes, err := encodeProgress(state)
	if err != nil {
		return nil, err
	}
	const stmt = `UPDATE operations SET execution = ?, tx_hashes = ?, updated_at = ? WHERE id = ? AND status = ?`
	if _, err := s.exec(ctx, "更新执行进度失败", stmt, encoded, hashes, time.Now().Unix(), id, string(StatusExecuting)); err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusExecuting {
		return rec, ErrOperationConflict
	}
	return rec, nil
}

// MarkFinished 写入最终结果。
func (s *MySQLStore) MarkFinished(ctx context.Context, id string, outcome Outcome) error {
	encoded, hashes, err := encodeProgress(outcome.Execution)
	if err != nil {
		return err
	}
	const stmt = `UPDATE operations SET status = ?, execution = ?, tx_hashes = ?, error_code = ?, last_error = ?, cancel_requested = 0, updated_at = ?
    WHERE id = ?`
	affected, err := s.exec(ctx, "写入操作结果失败", stmt,
		string(outcome.Status),
		encoded,
		hashes,
		string(outcome.ErrorCode),
		outcome.LastError,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		// MySQL 对未变化的行返回 0，需要确认记录是否存在。
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RequestCancel 取消记录或为执行中的记录设置取消标记。
func (s *MySQLStore) RequestCancel(ctx context.Context, id string) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var affected int64
	switch rec.Status {
	case StatusExecuting:
		affected, err = s.exec(ctx, "设置取消标记失败",
			`UPDATE operations SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
			time.Now().Unix(), id, string(StatusExecuting))
	case StatusPending, StatusFailed, StatusRejected:
		state := rec.Execution.Clone()
		state.Status = execution.StatusCancelled
		encoded, hashes, encErr := encodeProgress(state)
		if encErr != nil {
			return nil, encErr
		}
		affected, err = s.exec(ctx, "取消操作失败",
			`UPDATE operations SET status = ?, execution = ?, tx_hashes = ?, cancel_requested = 0, updated_at = ? WHERE id = ? AND status = ?`,
			string(StatusCancelled), encoded, hashes, time.Now().Unix(), id, string(rec.Status))
	default:
		return rec, ErrOperationConflict
	}
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return rec, ErrOperationConflict
	}
	return s.Get(ctx, id)
}

// Requeue 将失败的记录恢复为待执行。
func (s *MySQLStore) Requeue(ctx context.Context, id string) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Retryable() {
		return rec, ErrOperationConflict
	}
	encoded, hashes, err := encodeProgress(execution.State{Status: execution.StatusIdle})
	if err != nil {
		return nil, err
	}
	const stmt = `UPDATE operations SET status = ?, execution = ?, tx_hashes = ?, error_code = '', last_error = '', cancel_requested = 0, updated_at = ?
    WHERE id = ? AND status = ?`
	affected, err := s.exec(ctx, "重新排队失败", stmt,
		string(StatusPending), encoded, hashes, time.Now().Unix(), id, string(rec.Status))
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return rec, ErrOperationConflict
	}
	return s.Get(ctx, id)
}

// List 返回符合过滤条件的记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + recordColumns + ` FROM operations`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作记录失败")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历操作记录失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS executing,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS confirmed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS rejected,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM operations`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending),
		string(StatusExecuting),
		string(StatusConfirmed),
		string(StatusFailed),
		string(StatusRejected),
		string(StatusCancelled),
	}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Executing,
		&stats.Confirmed,
		&stats.Failed,
		&stats.Rejected,
		&stats.Cancelled,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) exec(ctx context.Context, message, stmt string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		kind      string
		status    string
		summary   sql.NullString
		prepared  string
		state     sql.NullString
		hashes    sql.NullString
		lastError sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&kind,
		&summary,
		&rec.ChainID,
		&rec.Account,
		&prepared,
		&status,
		&state,
		&hashes,
		&rec.ErrorCode,
		&lastError,
		&rec.Attempts,
		&rec.CancelRequested,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Kind = intent.Kind(kind)
	rec.Status = Status(status)
	rec.Summary = summary.String
	rec.LastError = lastError.String

	var ptx intent.PreparedTransaction
	if err := json.Unmarshal([]byte(prepared), &ptx); err != nil {
		return nil, fmt.Errorf("解析预备交易失败: %w", err)
	}
	rec.Prepared = &ptx
	if state.Valid && strings.TrimSpace(state.String) != "" {
		if err := json.Unmarshal([]byte(state.String), &rec.Execution); err != nil {
			return nil, fmt.Errorf("解析执行状态失败: %w", err)
		}
	}
	if hashes.Valid && strings.TrimSpace(hashes.String) != "" {
		if err := json.Unmarshal([]byte(hashes.String), &rec.TxHashes); err != nil {
			return nil, fmt.Errorf("解析交易哈希失败: %w", err)
		}
	}
	return &rec, nil
}

func encodeProgress(state execution.State) (string, string, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return "", "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行状态失败")
	}
	hashes, err := json.Marshal(txHashes(state))
	if err != nil {
		return "", "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码交易哈希失败")
	}
	return string(encoded), string(hashes), nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, 0, len(opts.Kinds))
		for _, kind := range opts.Kinds {
			placeholders = append(placeholders, "?")
			args = append(args, string(kind))
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.ChainID != 0 {
		conditions = append(conditions, "chain_id = ?")
		args = append(args, opts.ChainID)
	}
	if opts.Account != "" {
		conditions = append(conditions, "LOWER(account) = ?")
		args = append(args, opts.Account)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
