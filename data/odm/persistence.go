package odm

import (
	"context"
	"fmt"
	"time"

	"docodm/data/document"
	"docodm/errors"
	"docodm/logging"
	"docodm/messaging"
)

// Save 保存实例
//
// 顺序：beforeSave → beforeCreate|beforeUpdate → 自动时间戳 → insert|update →
// 同步快照 → afterSave → afterCreate|afterUpdate。
// 钩子返回 ErrAbort 时不访问存储直接返回；存储失败时恢复时间戳，实例状态不变，也不执行后置钩子。
// 更新只写入脏字段；没有脏字段时不访问存储。
func (m *Model) Save(ctx context.Context) error {
	_, err := m.save(ctx)
	return err
}

// save 返回 aborted=true 表示被钩子中止，存储未被访问
func (m *Model) save(ctx context.Context) (bool, error) {
	if m.embed != nil {
		return m.embed.save(ctx)
	}
	s, err := m.scope()
	if err != nil {
		return false, err
	}
	meta := m.meta
	creating := !m.persisted

	if aborted, err := meta.runHooks(ctx, BeforeSave, m); err != nil || aborted {
		return aborted, err
	}
	before, after := BeforeUpdate, AfterUpdate
	if creating {
		before, after = BeforeCreate, AfterCreate
	}
	if aborted, err := meta.runHooks(ctx, before, m); err != nil || aborted {
		return aborted, err
	}

	restore := m.stampTimestamps(s.db.now(), creating)
	var fx *effect
	if creating {
		fx, err = m.insert(ctx, s)
	} else {
		fx, err = m.update(ctx, s)
	}
	if err != nil {
		restore()
		return false, err
	}

	m.persisted = true
	m.syncOriginal()
	if fx != nil {
		s.afterWrite(ctx, *fx)
	}

	if _, err := meta.runHooks(ctx, AfterSave, m); err != nil {
		return false, err
	}
	_, err = meta.runHooks(ctx, after, m)
	return false, err
}

func (m *Model) insert(ctx context.Context, s scope) (*effect, error) {
	coll, bctx, err := s.target(ctx, m.meta)
	if err != nil {
		return nil, err
	}
	doc := m.ToDocument()
	start := time.Now()
	id, err := coll.InsertOne(bctx, doc)
	m.logWrite(ctx, "insert", start, err)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "insert", m.meta.name)
	}
	pk := m.meta.PrimaryKey()
	if cur, ok := m.attributes[pk]; !ok || cur == nil {
		m.attributes[pk] = id
		doc[m.meta.PrimaryColumn().ColumnName] = id
	}
	return m.changeEffect(messaging.OpCreated, doc), nil
}

func (m *Model) update(ctx context.Context, s scope) (*effect, error) {
	set, unset := m.dirty()
	pkCol := m.meta.PrimaryColumn().ColumnName
	delete(set, pkCol)
	if len(set) == 0 && len(unset) == 0 {
		return nil, nil
	}

	coll, bctx, err := s.target(ctx, m.meta)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	n, err := coll.UpdateOne(bctx, m.keyFilter(), document.Update{Set: set, Unset: unset})
	m.logWrite(ctx, "update", start, err)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "update", m.meta.name)
	}
	if n == 0 {
		return nil, errors.NewNotFound(m.meta.name, m.meta.PrimaryKey(), m.Key())
	}

	changes := make(map[string]any, len(set)+len(unset))
	for k, v := range set {
		changes[k] = v
	}
	for _, k := range unset {
		changes[k] = nil
	}
	return m.changeEffect(messaging.OpUpdated, changes), nil
}

// Delete 按主键删除；从未持久化的实例直接返回 false 且不执行钩子
func (m *Model) Delete(ctx context.Context) (bool, error) {
	if m.embed != nil {
		return m.embed.remove(ctx)
	}
	if !m.persisted {
		return false, nil
	}
	s, err := m.scope()
	if err != nil {
		return false, err
	}
	if aborted, err := m.meta.runHooks(ctx, BeforeDelete, m); err != nil || aborted {
		return false, err
	}

	coll, bctx, err := s.target(ctx, m.meta)
	if err != nil {
		return false, err
	}
	start := time.Now()
	n, err := coll.DeleteOne(bctx, m.keyFilter())
	m.logWrite(ctx, "delete", start, err)
	if err != nil {
		return false, errors.WrapDatabaseError(errors.Normalize(err), "delete", m.meta.name)
	}
	if n == 0 {
		return false, errors.NewNotFound(m.meta.name, m.meta.PrimaryKey(), m.Key())
	}

	m.persisted = false
	s.afterWrite(ctx, *m.changeEffect(messaging.OpDeleted, nil))

	if _, err := m.meta.runHooks(ctx, AfterDelete, m); err != nil {
		return true, err
	}
	return true, nil
}

// Refresh 按主键重新读取存储中的文档，丢弃未保存的修改与已加载的关联
func (m *Model) Refresh(ctx context.Context) error {
	if m.embed != nil {
		return m.embed.Refresh(ctx)
	}
	if !m.persisted || m.Key() == nil {
		return errors.NewNotFound(m.meta.name, m.meta.PrimaryKey(), m.Key())
	}
	s, err := m.scope()
	if err != nil {
		return err
	}
	coll, bctx, err := s.target(ctx, m.meta)
	if err != nil {
		return err
	}
	start := time.Now()
	doc, err := coll.FindOne(bctx, m.keyFilter(), nil)
	m.logWrite(ctx, "refresh", start, err)
	if err != nil {
		return errors.WrapDatabaseError(errors.Normalize(err), "refresh", m.meta.name)
	}
	if doc == nil {
		return errors.NewNotFound(m.meta.name, m.meta.PrimaryKey(), m.Key())
	}
	m.hydrate(doc)
	m.relations = nil
	m.views = nil
	return nil
}

func (m *Model) scope() (scope, error) {
	if m.db == nil {
		return scope{}, errors.NewConnectionError("default",
			fmt.Sprintf("model %s is not bound to a database", m.meta.name))
	}
	return scope{db: m.db, tx: m.tx}, nil
}

func (m *Model) keyFilter() document.Filter {
	return document.Filter{m.meta.PrimaryColumn().ColumnName: m.Key()}
}

// stampTimestamps 写入自动时间戳（UTC，毫秒精度），返回恢复函数
//
// 新建时补齐 autoCreate 列并写入 autoUpdate 列；更新时仅在存在脏字段时写入 autoUpdate 列。
func (m *Model) stampTimestamps(now time.Time, creating bool) func() {
	now = now.UTC().Truncate(time.Millisecond)
	type saved struct {
		value any
		had   bool
	}
	backup := make(map[string]saved)
	stamp := func(col *Column) {
		v, had := m.attributes[col.Name]
		backup[col.Name] = saved{value: v, had: had}
		m.attributes[col.Name] = now
	}

	if creating {
		for _, col := range m.meta.columns {
			switch {
			case col.AutoUpdate:
				stamp(col)
			case col.AutoCreate && m.attributes[col.Name] == nil:
				stamp(col)
			}
		}
	} else if m.IsDirty() {
		for _, col := range m.meta.columns {
			if col.AutoUpdate {
				stamp(col)
			}
		}
	}

	return func() {
		for name, s := range backup {
			if s.had {
				m.attributes[name] = s.value
			} else {
				delete(m.attributes, name)
			}
		}
	}
}

func (m *Model) changeEffect(op messaging.ChangeOp, changes map[string]any) *effect {
	collection := m.meta.Collection()
	return &effect{
		collection: collection,
		key:        m.Key(),
		event:      messaging.NewChangeEvent(m.meta.name, collection, op, m.Key(), changes),
	}
}

func (m *Model) logWrite(ctx context.Context, op string, start time.Time, err error) {
	fields := []logging.Field{
		logging.String("model", m.meta.name),
		logging.String("collection", m.meta.Collection()),
		logging.String("operation", op),
		logging.Duration("duration", time.Since(start)),
		logging.Bool("in_transaction", m.tx != nil),
	}
	if err != nil {
		m.db.logger.Warn(ctx, "数据库写入失败", append(fields, logging.Error(err))...)
		return
	}
	m.db.logger.Debug(ctx, "执行写入", fields...)
}
