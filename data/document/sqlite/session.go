package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"

	"docodm/data/document"
	"docodm/errors"
)

type txKey struct{}

type boundTx struct {
	client *Client
	tx     *sql.Tx
}

func withTx(ctx context.Context, c *Client, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, boundTx{client: c, tx: tx})
}

// txFrom 取出 ctx 上属于该客户端的事务
func txFrom(ctx context.Context, c *Client) *sql.Tx {
	if b, ok := ctx.Value(txKey{}).(boundTx); ok && b.client == c {
		return b.tx
	}
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s.client == c {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.tx
	}
	return nil
}

type sessionKey struct{}

// Session 会话：事务期间持有一个 *sql.Tx
type Session struct {
	id     string
	client *Client

	mu    sync.Mutex
	tx    *sql.Tx
	ended bool
}

func newSession(c *Client) *Session {
	return &Session{id: uuid.NewString(), client: c}
}

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// StartTransaction 开启事务
func (s *Session) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.NewError(errors.ErrCodeDatabase, "session has ended")
	}
	if s.tx != nil {
		return errors.NewError(errors.ErrCodeDatabase, "transaction already in progress")
	}
	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	s.tx = tx
	return nil
}

// CommitTransaction 提交事务
func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.NewError(errors.ErrCodeDatabase, "no transaction in progress")
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		s.client.forgetTables()
	}
	return mapError(err)
}

// AbortTransaction 回滚事务
func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	// 事务内创建的表随回滚消失
	s.client.forgetTables()
	return mapError(err)
}

// EndSession 结束会话，未提交的事务被回滚
func (s *Session) EndSession(ctx context.Context) {
	_ = s.AbortTransaction(ctx)
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

// WithTransaction 托管事务
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts *document.TxOptions) error {
	return document.RunWithRetry(ctx, s, fn, opts)
}

// Bind 返回绑定本会话的 ctx
func (s *Session) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func (c *Client) forgetTables() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]bool)
}
