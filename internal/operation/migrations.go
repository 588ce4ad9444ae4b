package operation

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"IntentForge/deploy/migrations"
)

const (
	// schemaLockName 是多个守护进程共享一个库时串行升级表结构的命名锁。
	schemaLockName    = "intentforge.operations.schema"
	schemaLockTimeout = 30
)

var embeddedMigrations fs.FS = migrations.Files

// schemaChange 对应 deploy/migrations 下的一个文件，每个文件只包含一条 DDL。
type schemaChange struct {
	version   int
	name      string
	statement string
}

// migrate 将 operations 表升级到内置的最新版本。当前版本记录在
// operations_schema 的单行中；MySQL 的 DDL 会隐式提交，因此逐条执行并在每条
// 成功后推进版本号。
func (s *MySQLStore) migrate(ctx context.Context) error {
	changes, err := loadSchemaChanges(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("获取数据库连接失败: %w", err)
	}
	defer conn.Close()

	var locked sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, schemaLockName, schemaLockTimeout).Scan(&locked); err != nil {
		return fmt.Errorf("获取表结构锁失败: %w", err)
	}
	if !locked.Valid || locked.Int64 != 1 {
		return fmt.Errorf("等待表结构锁超时: %s", schemaLockName)
	}
	defer func() {
		var released sql.NullInt64
		_ = conn.QueryRowContext(context.Background(), `SELECT RELEASE_LOCK(?)`, schemaLockName).Scan(&released)
	}()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS operations_schema (
        id TINYINT NOT NULL PRIMARY KEY,
        version INT NOT NULL,
        updated_at BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("创建 operations_schema 表失败: %w", err)
	}

	current := 0
	err = conn.QueryRowContext(ctx, `SELECT version FROM operations_schema WHERE id = 1`).Scan(&current)
	if err != nil && !stdErrors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("读取表结构版本失败: %w", err)
	}

	for _, change := range changes {
		if change.version <= current {
			continue
		}
		if _, err := conn.ExecContext(ctx, change.statement); err != nil {
			return fmt.Errorf("执行迁移 %s 失败: %w", change.name, err)
		}
		if _, err := conn.ExecContext(ctx, `INSERT INTO operations_schema (id, version, updated_at) VALUES (1, ?, ?)
    ON DUPLICATE KEY UPDATE version = VALUES(version), updated_at = VALUES(updated_at)`,
			change.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("记录表结构版本 %d 失败: %w", change.version, err)
		}
		current = change.version
	}
	return nil
}

// loadSchemaChanges 读取形如 0002_add_index.sql 的文件并按版本排序。
func loadSchemaChanges(fsys fs.FS) ([]schemaChange, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	changes := make([]schemaChange, 0, len(names))
	seen := make(map[int]string, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("迁移文件名缺少版本前缀: %s", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("迁移文件版本无效: %s", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移版本 %d 重复: %s 与 %s", version, other, name)
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statement := strings.TrimSuffix(strings.TrimSpace(string(content)), ";")
		if statement == "" {
			continue
		}
		if strings.Contains(statement, ";") {
			return nil, fmt.Errorf("迁移文件 %s 只能包含一条语句", name)
		}
		changes = append(changes, schemaChange{version: version, name: name, statement: statement})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].version < changes[j].version })
	return changes, nil
}
