package mongo

import (
	"context"
	"encoding/hex"

	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"docodm/data/document"
)

// Session MongoDB 会话
type Session struct {
	sess mongo.Session
}

// ID 返回逻辑会话 ID（lsid.id 的十六进制）
func (s *Session) ID() string {
	raw := s.sess.ID()
	if v, err := raw.LookupErr("id"); err == nil {
		if _, data, ok := v.BinaryOK(); ok {
			return hex.EncodeToString(data)
		}
	}
	return raw.String()
}

// StartTransaction 开启事务
func (s *Session) StartTransaction(ctx context.Context) error {
	return mapError(s.sess.StartTransaction())
}

// CommitTransaction 提交事务
func (s *Session) CommitTransaction(ctx context.Context) error {
	return mapError(s.sess.CommitTransaction(ctx))
}

// AbortTransaction 回滚事务
func (s *Session) AbortTransaction(ctx context.Context) error {
	return mapError(s.sess.AbortTransaction(ctx))
}

// EndSession 结束会话
func (s *Session) EndSession(ctx context.Context) {
	s.sess.EndSession(ctx)
}

// WithTransaction 托管事务：驱动负责瞬时错误与提交结果未知时的重试
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts *document.TxOptions) error {
	txOpts := mopt.Transaction()
	if opts != nil {
		if opts.MaxCommitTime > 0 {
			mct := opts.MaxCommitTime
			txOpts.SetMaxCommitTime(&mct)
		}
		if opts.RetryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.RetryTimeout)
			defer cancel()
		}
	}
	_, err := s.sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	}, txOpts)
	return mapError(err)
}

// Bind 返回绑定本会话的 SessionContext
func (s *Session) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}
