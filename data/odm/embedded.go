package odm

import (
	"context"
	"fmt"

	"docodm/errors"
)

// EmbeddedModel 内嵌文档实例
//
// 读写直接作用于内部的 *Model，写入会把父文档字段标记为脏；
// Save/Delete/Refresh/Fill 改为经由父文档完成。数组元素的位置在需要时按对象身份重新计算，不做缓存。
type EmbeddedModel struct {
	*Model
	parent *Model
	col    *Column
}

func newEmbeddedModel(meta *ModelMeta, parent *Model, col *Column) *EmbeddedModel {
	m := newModel(meta, parent.db, parent.tx)
	e := &EmbeddedModel{Model: m}
	m.embed = e
	e.attach(parent, col)
	return e
}

func (e *EmbeddedModel) attach(parent *Model, col *Column) {
	e.parent = parent
	e.col = col
	e.Model.db = parent.db
	e.Model.tx = parent.tx
}

// Parent 所属父文档
func (e *EmbeddedModel) Parent() *Model { return e.parent }

// Field 在父文档中的属性名
func (e *EmbeddedModel) Field() string { return e.col.Name }

// Index 在父文档数组中的当前位置；单个内嵌或已被移除时为 -1
func (e *EmbeddedModel) Index() int {
	if list, ok := e.parent.attributes[e.col.Name].([]*EmbeddedModel); ok {
		for i, item := range list {
			if item == e {
				return i
			}
		}
	}
	return -1
}

// attached 是否仍挂在父文档上
func (e *EmbeddedModel) attached() bool {
	switch v := e.parent.attributes[e.col.Name].(type) {
	case *EmbeddedModel:
		return v == e
	case []*EmbeddedModel:
		return e.Index() >= 0
	}
	return false
}

// touch 标记父文档字段为脏（数组整体重写）
func (e *EmbeddedModel) touch() {
	e.parent.markDirty(e.col.Name)
}

// Set 写入属性并标记父文档
func (e *EmbeddedModel) Set(name string, value any) *EmbeddedModel {
	e.Model.Set(name, value)
	return e
}

// Fill 合并写入并标记父文档，不保存
func (e *EmbeddedModel) Fill(data map[string]any) *EmbeddedModel {
	e.Model.Merge(data)
	e.touch()
	return e
}

// Save 经由父文档保存；前后执行内嵌模型自身的 beforeSave/afterSave 钩子
func (e *EmbeddedModel) Save(ctx context.Context) error {
	_, err := e.save(ctx)
	return err
}

func (e *EmbeddedModel) save(ctx context.Context) (bool, error) {
	if !e.attached() {
		return false, errors.NewNotFound(e.Model.meta.name, e.col.Name, "detached embedded document")
	}
	if aborted, err := e.Model.meta.runHooks(ctx, BeforeSave, e.Model); err != nil || aborted {
		return aborted, err
	}
	e.touch()
	if aborted, err := e.parent.save(ctx); err != nil || aborted {
		return aborted, err
	}
	_, err := e.Model.meta.runHooks(ctx, AfterSave, e.Model)
	return false, err
}

// Delete 从父文档移除自身（数组按对象身份定位）并保存父文档
//
// 父文档保存失败或被钩子中止时，自身放回原位置，父文档的脏标记一并恢复。
func (e *EmbeddedModel) Delete(ctx context.Context) error {
	_, err := e.remove(ctx)
	return err
}

// remove 返回 removed=false 表示被钩子中止
func (e *EmbeddedModel) remove(ctx context.Context) (bool, error) {
	if !e.attached() {
		return false, errors.NewNotFound(e.Model.meta.name, e.col.Name, "detached embedded document")
	}
	if aborted, err := e.Model.meta.runHooks(ctx, BeforeDelete, e.Model); err != nil || aborted {
		return false, err
	}
	restore := e.parent.checkpoint(e.col.Name)
	e.detach()
	if aborted, err := e.parent.save(ctx); err != nil || aborted {
		restore()
		return false, err
	}
	e.Model.persisted = false
	_, err := e.Model.meta.runHooks(ctx, AfterDelete, e.Model)
	return true, err
}

// checkpoint 记录父文档字段的当前值与沿途的脏标记，返回恢复函数
func (m *Model) checkpoint(name string) func() {
	value, had := m.attributes[name]
	type marks struct {
		model *Model
		force map[string]bool
	}
	var saved []marks
	for cur := m; cur != nil; {
		force := make(map[string]bool, len(cur.forceDirty))
		for k, v := range cur.forceDirty {
			force[k] = v
		}
		saved = append(saved, marks{model: cur, force: force})
		if cur.embed == nil {
			break
		}
		cur = cur.embed.parent
	}
	return func() {
		if had {
			m.attributes[name] = value
		} else {
			delete(m.attributes, name)
		}
		for _, s := range saved {
			s.model.forceDirty = s.force
		}
	}
}

// detach 仅修改内存中的父文档
func (e *EmbeddedModel) detach() {
	if e.col.Embed == EmbedOne {
		e.parent.attributes[e.col.Name] = nil
		e.parent.markDirty(e.col.Name)
		return
	}
	list, _ := e.parent.attributes[e.col.Name].([]*EmbeddedModel)
	idx := e.Index()
	if idx < 0 {
		return
	}
	next := make([]*EmbeddedModel, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	e.parent.attributes[e.col.Name] = next
	e.parent.markDirty(e.col.Name)
}

// Refresh 重新加载父文档，再按当前位置读回自身数据；自身保持挂在父文档上
func (e *EmbeddedModel) Refresh(ctx context.Context) error {
	idx := e.Index()
	if e.col.Embed == EmbedMany && idx < 0 {
		return errors.NewNotFound(e.Model.meta.name, e.col.Name, "detached embedded document")
	}
	if err := e.parent.Refresh(ctx); err != nil {
		return err
	}

	switch v := e.parent.attributes[e.col.Name].(type) {
	case *EmbeddedModel:
		if v == nil {
			break
		}
		e.Model.hydrate(v.Model.ToDocument())
		e.parent.attributes[e.col.Name] = e
		e.parent.syncOriginal()
		return nil
	case []*EmbeddedModel:
		if idx >= len(v) {
			break
		}
		e.Model.hydrate(v[idx].Model.ToDocument())
		v[idx] = e
		e.parent.syncOriginal()
		return nil
	}
	return errors.NewNotFound(e.Model.meta.name, e.col.Name,
		fmt.Sprintf("embedded document at position %d no longer exists", idx))
}

// EmbeddedOne 单个内嵌文档句柄
type EmbeddedOne struct {
	parent *Model
	col    *Column
	meta   *ModelMeta
}

// Get 当前内嵌文档；为空时返回 nil
func (o *EmbeddedOne) Get() *EmbeddedModel {
	e, _ := o.parent.attributes[o.col.Name].(*EmbeddedModel)
	return e
}

// Set 替换内嵌文档（map、*Model 或 *EmbeddedModel），不保存
func (o *EmbeddedOne) Set(value any) *EmbeddedModel {
	o.parent.Set(o.col.Name, value)
	return o.Get()
}

// Create 替换内嵌文档并保存父文档
func (o *EmbeddedOne) Create(ctx context.Context, attrs map[string]any) (*EmbeddedModel, error) {
	e := o.Set(attrs)
	if e == nil {
		return nil, errors.NewValidationError(fmt.Sprintf("cannot embed empty %s", o.meta.name))
	}
	if err := e.Save(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Clear 置空内嵌文档，不保存
func (o *EmbeddedOne) Clear() {
	o.parent.Set(o.col.Name, nil)
}

// Result 查询 Embed 约束后的结果；未约束时等同 Get
func (o *EmbeddedOne) Result() *EmbeddedModel {
	if view, ok := o.parent.views[o.col.Name]; ok {
		if len(view) == 0 {
			return nil
		}
		return view[0]
	}
	return o.Get()
}

// EmbeddedMany 内嵌文档数组句柄
type EmbeddedMany struct {
	parent *Model
	col    *Column
	meta   *ModelMeta
}

func (a *EmbeddedMany) list() []*EmbeddedModel {
	list, _ := a.parent.attributes[a.col.Name].([]*EmbeddedModel)
	return list
}

// All 当前全部元素（副本）
func (a *EmbeddedMany) All() []*EmbeddedModel {
	return append([]*EmbeddedModel{}, a.list()...)
}

// Len 元素个数
func (a *EmbeddedMany) Len() int { return len(a.list()) }

// At 按位置取元素，越界返回 nil
func (a *EmbeddedMany) At(i int) *EmbeddedModel {
	list := a.list()
	if i < 0 || i >= len(list) {
		return nil
	}
	return list[i]
}

// Add 追加元素，不保存
func (a *EmbeddedMany) Add(attrs map[string]any) *EmbeddedModel {
	e := a.parent.toEmbedded(a.col, a.meta, attrs)
	a.parent.attributes[a.col.Name] = append(a.list(), e)
	a.parent.markDirty(a.col.Name)
	return e
}

// Create 追加元素并保存父文档
func (a *EmbeddedMany) Create(ctx context.Context, attrs map[string]any) (*EmbeddedModel, error) {
	e := a.Add(attrs)
	if err := e.Save(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateMany 追加多个元素，只保存一次父文档
//
// 任一元素的 beforeSave 失败时整批撤回；父文档被钩子中止时不执行 afterSave。
func (a *EmbeddedMany) CreateMany(ctx context.Context, attrs []map[string]any) ([]*EmbeddedModel, error) {
	restore := a.parent.checkpoint(a.col.Name)
	out := make([]*EmbeddedModel, 0, len(attrs))
	for _, item := range attrs {
		e := a.Add(item)
		if aborted, err := a.meta.runHooks(ctx, BeforeSave, e.Model); err != nil || aborted {
			if err != nil {
				restore()
				return nil, err
			}
			e.detach()
			continue
		}
		out = append(out, e)
	}
	aborted, err := a.parent.save(ctx)
	if err != nil {
		return nil, err
	}
	if aborted {
		return out, nil
	}
	for _, e := range out {
		if _, err := a.meta.runHooks(ctx, AfterSave, e.Model); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Clear 清空数组，不保存
func (a *EmbeddedMany) Clear() {
	a.parent.attributes[a.col.Name] = []*EmbeddedModel{}
	a.parent.markDirty(a.col.Name)
}

// Query 对当前元素的内存查询
func (a *EmbeddedMany) Query() *EmbeddedQueryBuilder {
	return newEmbeddedQuery(a.meta, a.list())
}

// Results 查询 Embed 约束后的结果；未约束时等同 All
func (a *EmbeddedMany) Results() []*EmbeddedModel {
	if view, ok := a.parent.views[a.col.Name]; ok {
		return append([]*EmbeddedModel{}, view...)
	}
	return a.All()
}
