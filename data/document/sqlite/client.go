// Package sqlite 基于 SQLite 的 JSON 文档存储驱动
//
// 每个集合对应一张表 (id TEXT PRIMARY KEY, doc TEXT)：
//   - 主键条件（_id 等值 / $in）下推为 SQL，其余条件由 filter 包在内存求值
//   - 会话事务映射为 *sql.Tx，通过 ctx 传递
//   - 内存库（:memory:）限制为单连接，保证所有操作看到同一份数据
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"docodm/data/document"
	"docodm/errors"
	"docodm/logging"
)

func init() {
	document.Register(document.DriverSQLite, func(ctx context.Context, cfg document.ConnectionConfig) (document.IClient, error) {
		return Open(ctx, cfg)
	})
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// execer *sql.DB 与 *sql.Tx 的公共子集
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Client SQLite 文档存储客户端
type Client struct {
	db     *sql.DB
	logger logging.Logger

	mu     sync.Mutex
	tables map[string]bool
}

// Open 打开数据库：database 为文件路径或 :memory:，url 作为完整 DSN 优先
func Open(ctx context.Context, cfg document.ConnectionConfig) (*Client, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = cfg.Database
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	} else if cfg.Pool.MaxSize > 0 {
		db.SetMaxOpenConns(int(cfg.Pool.MaxSize))
	}
	if cfg.Pool.MinSize > 0 {
		db.SetMaxIdleConns(int(cfg.Pool.MinSize))
	}
	if cfg.Pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.Pool.MaxIdleTime)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Client{
		db:     db,
		logger: logging.Component("document.sqlite"),
		tables: make(map[string]bool),
	}, nil
}

// Driver 返回驱动名
func (c *Client) Driver() string { return document.DriverSQLite }

// Collection 返回集合句柄；集合名只允许字母、数字与下划线
func (c *Client) Collection(name string) document.ICollection {
	return &Collection{client: c, name: name}
}

// StartSession 开启会话
func (c *Client) StartSession(ctx context.Context) (document.ISession, error) {
	return newSession(c), nil
}

// Ping 检查连接
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// Close 关闭数据库
func (c *Client) Close(ctx context.Context) error { return c.db.Close() }

// Raw 返回底层 *sql.DB
func (c *Client) Raw() *sql.DB { return c.db }

// runner 返回当前 ctx 应使用的执行器：会话事务中使用 *sql.Tx
func (c *Client) runner(ctx context.Context) execer {
	if tx := txFrom(ctx, c); tx != nil {
		return tx
	}
	return c.db
}

// ensureTable 首次访问集合时建表
func (c *Client) ensureTable(ctx context.Context, name string) error {
	if !tableNamePattern.MatchString(name) {
		return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid collection name %q", name))
	}
	run := c.runner(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tables[name] {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, quote(name))
	if _, err := run.ExecContext(ctx, ddl); err != nil {
		return err
	}
	c.tables[name] = true
	c.logger.Debug(ctx, "集合表已就绪", logging.String("collection", name))
	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}

// statement squirrel 构建器的公共接口
type statement interface {
	ToSql() (string, []any, error)
}

func (c *Client) exec(ctx context.Context, stmt statement) (sql.Result, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, err
	}
	res, err := c.runner(ctx).ExecContext(ctx, query, args...)
	return res, mapError(err)
}

func (c *Client) query(ctx context.Context, stmt sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.runner(ctx).QueryContext(ctx, query, args...)
	return rows, mapError(err)
}

// mapError SQLite 忙/锁冲突视为可重试的瞬时错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return &document.TransientError{Err: err}
	}
	return err
}
