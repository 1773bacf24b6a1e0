package odm

import (
	"context"
	stdErrors "errors"

	"docodm/errors"
)

// HookEvent 生命周期事件
type HookEvent string

const (
	BeforeSave   HookEvent = "beforeSave"
	AfterSave    HookEvent = "afterSave"
	BeforeCreate HookEvent = "beforeCreate"
	AfterCreate  HookEvent = "afterCreate"
	BeforeUpdate HookEvent = "beforeUpdate"
	AfterUpdate  HookEvent = "afterUpdate"
	BeforeDelete HookEvent = "beforeDelete"
	AfterDelete  HookEvent = "afterDelete"
	BeforeFind   HookEvent = "beforeFind"
	AfterFind    HookEvent = "afterFind"
	BeforeFetch  HookEvent = "beforeFetch"
	AfterFetch   HookEvent = "afterFetch"
)

// ErrAbort 钩子返回它时中止当前操作且不视为错误
var ErrAbort = stdErrors.New("odm: operation aborted by hook")

// HookFunc 实例钩子
type HookFunc func(ctx context.Context, m *Model) error

// QueryHookFunc 查询钩子；Before* 事件的 models 为 nil
type QueryHookFunc func(ctx context.Context, q *QueryBuilder, models []*Model) error

type namedHook struct {
	name string
	fn   HookFunc
}

type namedQueryHook struct {
	name string
	fn   QueryHookFunc
}

// runHooks 依次执行实例钩子；返回 aborted=true 表示被 ErrAbort 中止
func (m *ModelMeta) runHooks(ctx context.Context, event HookEvent, model *Model) (aborted bool, err error) {
	for _, h := range m.hooks[event] {
		if err := h.fn(ctx, model); err != nil {
			if stdErrors.Is(err, ErrAbort) {
				return true, nil
			}
			return false, errors.WrapHookError(err, string(event)+":"+h.name, m.name)
		}
	}
	return false, nil
}

// runQueryHooks 依次执行查询钩子
func (m *ModelMeta) runQueryHooks(ctx context.Context, event HookEvent, q *QueryBuilder, models []*Model) (aborted bool, err error) {
	for _, h := range m.queryHooks[event] {
		if err := h.fn(ctx, q, models); err != nil {
			if stdErrors.Is(err, ErrAbort) {
				return true, nil
			}
			return false, errors.WrapHookError(err, string(event)+":"+h.name, m.name)
		}
	}
	return false, nil
}
