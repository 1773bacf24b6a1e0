package odm

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/cache"
	"docodm/data/document"
	"docodm/data/document/memory"
	"docodm/errors"
	"docodm/messaging"
)

func TestTransaction_CommitAndRollback(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	err := f.db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		user, err := tx.Create(ctx, f.user, map[string]any{"name": "John"})
		if err != nil {
			return err
		}
		assert.Same(t, tx, user.Transaction())
		_, err = user.Relation("posts").Create(ctx, map[string]any{"title": "inside"})
		return err
	})
	require.NoError(t, err)

	users, err := f.db.Query(f.user).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
	posts, err := f.db.Query(f.post).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), posts)

	boom := stdErrors.New("boom")
	err = f.db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Create(ctx, f.user, map[string]any{"name": "Ghost"}); err != nil {
			return err
		}
		n, err := tx.Query(f.user).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "事务内可见自身写入")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ghost, err := f.db.FindBy(ctx, f.user, "name", "Ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost, "回滚后写入不可见")
}

func TestTransaction_ManualBeginCommit(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user, err := f.db.Create(ctx, f.user, map[string]any{"name": "John", "age": 1})
	require.NoError(t, err)

	tx, err := f.db.Begin(ctx)
	require.NoError(t, err)
	user.UseTransaction(tx)
	user.Set("age", 2)
	require.NoError(t, user.Save(ctx))

	outside, err := f.db.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, outside.Get("age"), "提交前事务外不可见")

	inside, err := tx.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, inside.Get("age"))

	raw := tx.Collection("user")
	_, err = raw.InsertOne(ctx, document.Document{"_id": "raw", "name": "Raw"})
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.True(t, tx.IsDone())

	committed, err := f.db.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, committed.Get("age"))
	rawDoc, err := f.db.Find(ctx, f.user, "raw")
	require.NoError(t, err)
	assert.NotNil(t, rawDoc)

	err = tx.Commit(ctx)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConflict))
	user.Set("age", 3)
	err = user.Save(ctx)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConflict), "已结束的事务不能再使用")

	user.UseTransaction(nil)
	require.NoError(t, user.Save(ctx))
}

func TestTransaction_ManualRollback(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	tx, err := f.db.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Create(ctx, f.user, map[string]any{"name": "Temp"})
	require.NoError(t, err)
	n, err := tx.Query(f.user).Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback(ctx))

	count, err := f.db.Query(f.user).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Error(t, tx.Rollback(ctx))
}

func TestTransaction_EffectsDeferredUntilCommit(t *testing.T) {
	tr, log := newEventTransport(t)
	c := cache.NewLocal(100, time.Minute)
	f := newFixture(t, WithPublisher(tr), WithCache(c))
	ctx := t.Context()

	user, err := f.db.Create(ctx, f.user, map[string]any{"name": "John"})
	require.NoError(t, err)
	_, err = f.db.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	require.Len(t, log.ops(), 1)

	err = f.db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		m, err := tx.Find(ctx, f.user, user.Key())
		if err != nil {
			return err
		}
		m.Set("name", "Jane")
		if err := m.Save(ctx); err != nil {
			return err
		}
		assert.Len(t, log.ops(), 1, "提交前不发布事件")
		cached, ok, err := c.Get(ctx, "user", user.Key())
		require.NoError(t, err)
		require.True(t, ok, "提交前不失效缓存")
		assert.Equal(t, "John", cached["name"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []messaging.ChangeOp{messaging.OpCreated, messaging.OpUpdated}, log.ops())
	_, ok, err := c.Get(ctx, "user", user.Key())
	require.NoError(t, err)
	assert.False(t, ok, "提交后缓存已失效")

	err = f.db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Create(ctx, f.user, map[string]any{"name": "Ghost"}); err != nil {
			return err
		}
		return stdErrors.New("rollback")
	})
	require.Error(t, err)
	assert.Len(t, log.ops(), 2, "回滚丢弃推迟的事件")
}

func TestTransaction_RetriesTransientConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.db.Create(ctx, f.user, map[string]any{"name": "John"})
	require.NoError(t, err)

	attempts := 0
	err = f.db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		attempts++
		m, err := tx.FindBy(ctx, f.user, "name", "John")
		if err != nil {
			return err
		}
		m.Set("age", attempts)
		if err := m.Save(ctx); err != nil {
			return err
		}
		if attempts == 1 {
			// 事务外的并发写入使首次提交冲突
			_, err := f.db.Create(context.Background(), f.user, map[string]any{"name": "Other"})
			require.NoError(t, err)
		}
		return nil
	}, WithRetryTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	john, err := f.db.FindBy(ctx, f.user, "name", "John")
	require.NoError(t, err)
	assert.Equal(t, 2, john.Get("age"))
}

func TestTransaction_OtherConnectionRejected(t *testing.T) {
	reg := NewRegistry()
	audit := reg.Define("Audit", func(d *Schema) {
		d.Connection("audit")
		d.Column("action")
	})
	db := New(memory.NewClient(), reg, WithConnection("audit", memory.NewClient()))
	ctx := t.Context()

	_, err := db.Create(ctx, audit, map[string]any{"action": "login"})
	require.NoError(t, err)

	err = db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.Create(ctx, audit, map[string]any{"action": "inside"})
		return err
	})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConnection))

	_, err = New(memory.NewClient(), reg).Create(ctx, audit, map[string]any{"action": "x"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConnection), "未注册的命名连接")
}
