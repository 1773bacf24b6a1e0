package odm

import (
	"context"
	"sync"
	"time"

	"docodm/data/document"
	"docodm/errors"
	"docodm/logging"
)

// Tx 事务句柄
//
// 通过 Tx 构造的查询、实例与集合都经由同一会话执行。缓存失效与变更事件推迟到提交成功后执行，回滚时丢弃。
// 事务只覆盖默认连接；在事务内访问其他命名连接上的模型会返回错误。
type Tx struct {
	scope

	client  document.IClient
	session document.ISession

	mu      sync.Mutex
	done    bool
	pending []effect
}

// TxOption 事务选项
type TxOption func(*document.TxOptions)

// WithMaxCommitTime 提交超时
func WithMaxCommitTime(d time.Duration) TxOption {
	return func(o *document.TxOptions) { o.MaxCommitTime = d }
}

// WithRetryTimeout 瞬时错误重试的总时长
func WithRetryTimeout(d time.Duration) TxOption {
	return func(o *document.TxOptions) { o.RetryTimeout = d }
}

func newTx(db *DB, sess document.ISession) *Tx {
	tx := &Tx{client: db.client, session: sess}
	tx.scope = scope{db: db, tx: tx}
	return tx
}

// Transaction 托管事务：fn 返回错误时回滚，瞬时事务错误整体重试，结束后关闭会话
//
// 重试时 fn 会被再次调用，fn 内不应有事务之外的副作用。
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, opts ...TxOption) error {
	if db.client == nil {
		return errors.NewConnectionError("default", "no default connection")
	}
	var txOpts document.TxOptions
	for _, opt := range opts {
		opt(&txOpts)
	}

	sess, err := db.client.StartSession(ctx)
	if err != nil {
		return errors.WrapDatabaseError(errors.Normalize(err), "startSession", "transaction")
	}
	defer sess.EndSession(ctx)

	tx := newTx(db, sess)
	var fnErr error
	attempts := 0
	err = sess.WithTransaction(ctx, func(ctx context.Context) error {
		attempts++
		tx.reset()
		fnErr = fn(ctx, tx)
		return fnErr
	}, &txOpts)

	tx.mu.Lock()
	tx.done = true
	pending := tx.pending
	tx.pending = nil
	tx.mu.Unlock()

	if err != nil {
		db.logger.Warn(ctx, "事务回滚",
			logging.Error(err),
			logging.String("session", sess.ID()),
			logging.Int("attempts", attempts),
		)
		if fnErr != nil && err == fnErr {
			return err
		}
		return errors.WrapDatabaseError(errors.Normalize(err), "commitTransaction", "transaction")
	}
	db.logger.Debug(ctx, "事务提交",
		logging.String("session", sess.ID()),
		logging.Int("attempts", attempts),
		logging.Int("effects", len(pending)),
	)
	db.apply(ctx, pending)
	return nil
}

// Begin 手动事务：返回已开启事务的句柄，调用方必须 Commit 或 Rollback
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	if db.client == nil {
		return nil, errors.NewConnectionError("default", "no default connection")
	}
	sess, err := db.client.StartSession(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "startSession", "transaction")
	}
	if err := sess.StartTransaction(ctx); err != nil {
		sess.EndSession(ctx)
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "startTransaction", "transaction")
	}
	return newTx(db, sess), nil
}

// Commit 提交并结束会话；成功后执行推迟的副作用
func (tx *Tx) Commit(ctx context.Context) error {
	pending, err := tx.finish()
	if err != nil {
		return err
	}
	defer tx.session.EndSession(ctx)
	if err := tx.session.CommitTransaction(ctx); err != nil {
		_ = tx.session.AbortTransaction(ctx)
		return errors.WrapDatabaseError(errors.Normalize(err), "commitTransaction", "transaction")
	}
	tx.db.apply(ctx, pending)
	return nil
}

// Rollback 回滚并结束会话，丢弃推迟的副作用
func (tx *Tx) Rollback(ctx context.Context) error {
	if _, err := tx.finish(); err != nil {
		return err
	}
	defer tx.session.EndSession(ctx)
	if err := tx.session.AbortTransaction(ctx); err != nil {
		return errors.WrapDatabaseError(errors.Normalize(err), "abortTransaction", "transaction")
	}
	return nil
}

func (tx *Tx) finish() ([]effect, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, errors.NewError(errors.ErrCodeConflict, "transaction already finished")
	}
	tx.done = true
	pending := tx.pending
	tx.pending = nil
	return pending, nil
}

// IsDone 是否已提交或回滚
func (tx *Tx) IsDone() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

// Session 底层会话
func (tx *Tx) Session() document.ISession { return tx.session }

// Collection 返回绑定本事务会话的集合句柄
func (tx *Tx) Collection(name string) document.ICollection {
	return &txCollection{ICollection: tx.client.Collection(name), session: tx.session}
}

func (tx *Tx) enqueue(effects ...effect) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending = append(tx.pending, effects...)
}

// reset 托管事务重试前清空上一次尝试累积的副作用
func (tx *Tx) reset() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending = nil
}

// txCollection 每个操作都绑定事务会话
type txCollection struct {
	document.ICollection
	session document.ISession
}

func (c *txCollection) InsertOne(ctx context.Context, doc document.Document) (any, error) {
	return c.ICollection.InsertOne(c.session.Bind(ctx), doc)
}

func (c *txCollection) UpdateOne(ctx context.Context, f document.Filter, u document.Update) (int64, error) {
	return c.ICollection.UpdateOne(c.session.Bind(ctx), f, u)
}

func (c *txCollection) UpdateMany(ctx context.Context, f document.Filter, u document.Update) (int64, error) {
	return c.ICollection.UpdateMany(c.session.Bind(ctx), f, u)
}

func (c *txCollection) DeleteOne(ctx context.Context, f document.Filter) (int64, error) {
	return c.ICollection.DeleteOne(c.session.Bind(ctx), f)
}

func (c *txCollection) DeleteMany(ctx context.Context, f document.Filter) (int64, error) {
	return c.ICollection.DeleteMany(c.session.Bind(ctx), f)
}

func (c *txCollection) Find(ctx context.Context, f document.Filter, opts *document.FindOptions) ([]document.Document, error) {
	return c.ICollection.Find(c.session.Bind(ctx), f, opts)
}

func (c *txCollection) FindOne(ctx context.Context, f document.Filter, opts *document.FindOptions) (document.Document, error) {
	return c.ICollection.FindOne(c.session.Bind(ctx), f, opts)
}

func (c *txCollection) CountDocuments(ctx context.Context, f document.Filter) (int64, error) {
	return c.ICollection.CountDocuments(c.session.Bind(ctx), f)
}

func (c *txCollection) Distinct(ctx context.Context, field string, f document.Filter) ([]any, error) {
	return c.ICollection.Distinct(c.session.Bind(ctx), field, f)
}
