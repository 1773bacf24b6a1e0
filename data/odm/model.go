package odm

import (
	"fmt"
	"sort"

	"docodm/data/document"
	"docodm/data/document/filter"
)

// Model 模型实例
//
// attributes 保存当前值（属性名为键），original 保存上次加载或保存时的存储形态快照，
// 脏属性在读取时由二者比较得出。内嵌字段在 attributes 中为 *EmbeddedModel 或 []*EmbeddedModel。
type Model struct {
	meta *ModelMeta
	db   *DB
	tx   *Tx

	attributes map[string]any
	original   map[string]any
	persisted  bool
	forceDirty map[string]bool

	relations map[string]*Relation
	// views Embed 约束后的内嵌结果
	views map[string][]*EmbeddedModel

	// embed 非空表示本实例是某个父文档的内嵌文档
	embed *EmbeddedModel
}

func newModel(meta *ModelMeta, db *DB, tx *Tx) *Model {
	meta.seal()
	return &Model{
		meta:       meta,
		db:         db,
		tx:         tx,
		attributes: make(map[string]any),
		original:   make(map[string]any),
		forceDirty: make(map[string]bool),
	}
}

// Meta 模型元信息
func (m *Model) Meta() *ModelMeta { return m.meta }

// Get 读取属性；计算属性调用其函数，引用关联返回已加载的 *Model / []*Model，未加载为 nil
func (m *Model) Get(name string) any {
	if col, ok := m.meta.byName[name]; ok {
		switch {
		case col.IsComputed:
			if col.Compute == nil {
				return nil
			}
			return col.Compute(m)
		case col.IsReference():
			if rel, ok := m.relations[name]; ok && rel.loaded {
				return rel.value()
			}
			return nil
		}
	}
	return m.attributes[name]
}

// Has 属性是否已赋值（nil 也算已赋值）
func (m *Model) Has(name string) bool {
	_, ok := m.attributes[name]
	return ok
}

// Set 设置属性；计算属性与引用关联忽略写入
func (m *Model) Set(name string, value any) *Model {
	col, ok := m.meta.byName[name]
	if ok && (col.IsComputed || col.IsReference()) {
		return m
	}
	if ok {
		switch {
		case col.IsDate:
			value = coerceDate(value)
		case col.IsEmbedded():
			value = m.embedValue(col, value)
		}
	}
	m.attributes[name] = value
	m.touchParent()
	return m
}

// Unset 删除属性，保存时从存储文档中移除对应字段
func (m *Model) Unset(name string) *Model {
	delete(m.attributes, name)
	m.touchParent()
	return m
}

// Attributes 当前属性的浅拷贝
func (m *Model) Attributes() map[string]any {
	out := make(map[string]any, len(m.attributes))
	for k, v := range m.attributes {
		out[k] = v
	}
	return out
}

// Fill 整体替换可批量赋值的属性；主键、计算属性、自动时间戳与引用关联不受影响
func (m *Model) Fill(data map[string]any) *Model {
	for _, col := range m.meta.columns {
		if col.fillable() {
			delete(m.attributes, col.Name)
		}
	}
	for name, value := range data {
		if col, ok := m.meta.byName[name]; ok && !col.fillable() {
			continue
		}
		m.Set(name, value)
	}
	return m
}

// Merge 深度合并：对象值与单个内嵌文档按字段合并，不覆盖未提及的兄弟字段
func (m *Model) Merge(data map[string]any) *Model {
	for name, value := range data {
		col, ok := m.meta.byName[name]
		if ok && col.Embed == EmbedOne {
			if patch, isMap := value.(map[string]any); isMap {
				if cur, has := m.attributes[name].(*EmbeddedModel); has && cur != nil {
					cur.Model.Merge(patch)
					continue
				}
			}
		}
		if patch, isMap := value.(map[string]any); isMap && !(ok && col.IsEmbedded()) {
			if cur, has := m.attributes[name].(map[string]any); has {
				m.Set(name, mergeMaps(cur, patch))
				continue
			}
		}
		m.Set(name, value)
	}
	return m
}

func mergeMaps(dst, patch map[string]any) map[string]any {
	out := filter.CloneDocument(dst)
	for k, v := range patch {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := out[k].(map[string]any); ok {
				out[k] = mergeMaps(cur, sub)
				continue
			}
		}
		out[k] = filter.Clone(v)
	}
	return out
}

// Key 主键值
func (m *Model) Key() any { return m.attributes[m.meta.PrimaryKey()] }

// IsPersisted 是否已持久化
func (m *Model) IsPersisted() bool { return m.persisted }

// IsLocal 是否仅存在于内存
func (m *Model) IsLocal() bool { return !m.persisted }

// UseTransaction 绑定事务，之后的持久化操作都经由该事务执行
func (m *Model) UseTransaction(tx *Tx) *Model {
	m.tx = tx
	if tx != nil {
		m.db = tx.db
	}
	return m
}

// Transaction 已绑定的事务
func (m *Model) Transaction() *Tx { return m.tx }

// IsDirty 无参数时判断是否存在任意脏属性，否则判断指定属性
func (m *Model) IsDirty(names ...string) bool {
	set, unset := m.dirty()
	if len(names) == 0 {
		return len(set) > 0 || len(unset) > 0
	}
	for _, name := range names {
		col, ok := m.meta.byName[name]
		if !ok {
			continue
		}
		if _, ok := set[col.ColumnName]; ok {
			return true
		}
		for _, u := range unset {
			if u == col.ColumnName {
				return true
			}
		}
	}
	return false
}

// DirtyAttributes 脏属性，键为存储字段名；被删除的属性值为 nil
func (m *Model) DirtyAttributes() map[string]any {
	set, unset := m.dirty()
	for _, name := range unset {
		set[name] = nil
	}
	return set
}

// dirty 按存储形态比较当前值与快照，返回待写入字段与待删除字段
func (m *Model) dirty() (document.Document, []string) {
	set := make(document.Document)
	var unset []string
	for _, col := range m.meta.columns {
		if !col.stored() {
			continue
		}
		cur, has := m.attributes[col.Name]
		orig, had := m.original[col.Name]
		switch {
		case !has && had:
			unset = append(unset, col.ColumnName)
		case has:
			stored := storedValue(col, cur)
			if !had || m.forceDirty[col.Name] || !filter.Equal(stored, orig) {
				set[col.ColumnName] = stored
			}
		}
	}
	sort.Strings(unset)
	return set, unset
}

// syncOriginal 以当前值刷新快照并清空脏标记，内嵌文档递归同步
func (m *Model) syncOriginal() {
	m.original = make(map[string]any, len(m.attributes))
	for _, col := range m.meta.columns {
		if !col.stored() {
			continue
		}
		v, ok := m.attributes[col.Name]
		if !ok {
			continue
		}
		m.original[col.Name] = storedValue(col, v)
		switch e := v.(type) {
		case *EmbeddedModel:
			if e != nil {
				e.Model.syncOriginal()
				e.Model.persisted = true
			}
		case []*EmbeddedModel:
			for _, item := range e {
				item.Model.syncOriginal()
				item.Model.persisted = true
			}
		}
	}
	m.forceDirty = make(map[string]bool)
}

// touchParent 内嵌文档的修改向上标记父文档字段为脏
func (m *Model) touchParent() {
	if m.embed != nil {
		m.embed.touch()
	}
}

func (m *Model) markDirty(name string) {
	m.forceDirty[name] = true
	m.touchParent()
}

// Relation 返回引用关联句柄（首次访问时创建）；未声明的关联属于编程错误，直接 panic
func (m *Model) Relation(name string) *Relation {
	if rel, ok := m.relations[name]; ok {
		return rel
	}
	def, err := m.meta.relation(name)
	if err != nil {
		panic(err)
	}
	if m.relations == nil {
		m.relations = make(map[string]*Relation)
	}
	rel := &Relation{owner: m, def: def}
	m.relations[name] = rel
	return rel
}

// EmbedsOne 返回单个内嵌文档句柄；字段类型不符时 panic
func (m *Model) EmbedsOne(name string) *EmbeddedOne {
	col, sub, err := m.meta.embedded(name, EmbedOne)
	if err != nil {
		panic(err)
	}
	return &EmbeddedOne{parent: m, col: col, meta: sub}
}

// EmbedsMany 返回内嵌文档数组句柄；字段类型不符时 panic
func (m *Model) EmbedsMany(name string) *EmbeddedMany {
	col, sub, err := m.meta.embedded(name, EmbedMany)
	if err != nil {
		panic(err)
	}
	return &EmbeddedMany{parent: m, col: col, meta: sub}
}

// String 便于日志输出
func (m *Model) String() string {
	return fmt.Sprintf("%s(%v)", m.meta.name, m.Key())
}

// embedValue 把任意输入转换为内嵌文档实例
func (m *Model) embedValue(col *Column, value any) any {
	if value == nil {
		return nil
	}
	sub := col.Model()
	sub.seal()
	switch col.Embed {
	case EmbedOne:
		if e := m.toEmbedded(col, sub, value); e != nil {
			return e
		}
		return nil
	default:
		items := embedItems(value)
		out := make([]*EmbeddedModel, 0, len(items))
		for _, item := range items {
			if e := m.toEmbedded(col, sub, item); e != nil {
				out = append(out, e)
			}
		}
		return out
	}
}

func embedItems(value any) []any {
	switch v := value.(type) {
	case []*EmbeddedModel:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []*Model:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []any:
		return v
	}
	return []any{value}
}

func (m *Model) toEmbedded(col *Column, sub *ModelMeta, value any) *EmbeddedModel {
	switch v := value.(type) {
	case *EmbeddedModel:
		if v == nil {
			return nil
		}
		v.attach(m, col)
		return v
	case *Model:
		if v == nil {
			return nil
		}
		e := &EmbeddedModel{Model: v}
		v.embed = e
		e.attach(m, col)
		return e
	case map[string]any:
		e := newEmbeddedModel(sub, m, col)
		for k, item := range v {
			if c, ok := sub.byName[k]; ok {
				e.Model.setRaw(c, item)
				continue
			}
			e.Model.attributes[k] = item
		}
		return e
	}
	return nil
}

// setRaw 不触发父文档标记的赋值，用于构造阶段
func (m *Model) setRaw(col *Column, value any) {
	if col.IsComputed || col.IsReference() {
		delete(m.attributes, col.Name)
		return
	}
	switch {
	case col.IsDate:
		value = coerceDate(value)
	case col.IsEmbedded():
		value = m.embedValue(col, value)
	}
	m.attributes[col.Name] = value
}
