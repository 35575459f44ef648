package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/chatwatch/backend/internal/infrastructure/config"
	_ "modernc.org/sqlite"
)

// dsnPragmas 所有连接共享的 PRAGMA
const dsnPragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// OpenDB 打开读写数据库连接并初始化表结构
func OpenDB(dbPath string) (*sql.DB, error) {
	if err := config.EnsureDir(dbPath); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?%s&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath, dsnPragmas)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := InitDatabase(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenReadOnly 以只读模式打开数据库（review 模式使用）
// 数据库文件必须已存在，不会创建表
func OpenReadOnly(dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found at %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&%s", dbPath, dsnPragmas)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ProvideDB 为依赖注入提供数据库连接
func ProvideDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	return OpenDB(cfg.Path)
}

// schema 表结构
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		peer_id INTEGER NOT NULL,
		access_hash INTEGER NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL DEFAULT '',
		category TEXT,
		suggested_name TEXT,
		cursor INTEGER NOT NULL DEFAULT 0,
		access_state TEXT NOT NULL DEFAULT 'active',
		members_synced_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		message_id INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		urgent INTEGER,
		embedding BLOB,
		PRIMARY KEY (conversation_id, message_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages(conversation_id, message_id)
		WHERE urgent IS NULL AND embedding IS NULL AND text <> '';`,
	`CREATE INDEX IF NOT EXISTS idx_messages_urgent ON messages(conversation_id) WHERE urgent = 1;`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		bio TEXT,
		last_seen INTEGER,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		PRIMARY KEY (conversation_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS monitor_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		conversation_id INTEGER,
		kind TEXT,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_created ON monitor_events(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_members_user ON conversation_members(user_id);`,
}

// addedColumns 旧版本数据库缺少的列
var addedColumns = []struct {
	table, column, ddl string
}{
	{"users", "bio", "ALTER TABLE users ADD COLUMN bio TEXT"},
	{"users", "last_seen", "ALTER TABLE users ADD COLUMN last_seen INTEGER"},
}

// InitDatabase 初始化表结构
func InitDatabase(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	for _, c := range addedColumns {
		exists, err := columnExists(db, c.table, c.column)
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", c.table, err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	return n > 0, err
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
