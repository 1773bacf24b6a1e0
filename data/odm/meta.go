// Package odm 文档对象映射
//
// 模型通过 Registry + Schema 声明元信息，实例统一为 *Model（属性包 + 脏检查），
// 查询构建器把链式条件编译为 MongoDB 语法的过滤文档交给 data/document 驱动执行。
//
// 关联（hasOne/hasMany/belongsTo）支持按需加载与批量预加载；
// 内嵌文档（embedsOne/embedsMany）以 *EmbeddedModel 暴露，所有写操作经由父文档保存。
package odm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"docodm/errors"
	"docodm/naming"
)

// EmbedKind 内嵌类型
type EmbedKind string

const (
	EmbedNone EmbedKind = ""
	EmbedOne  EmbedKind = "one"
	EmbedMany EmbedKind = "many"
)

// Column 列描述
//
// Name 为内存中的属性名，ColumnName 为存储字段名，SerializedName 为 JSON 输出字段名。
type Column struct {
	Name           string
	ColumnName     string
	SerializedName string
	OmitJSON       bool

	IsPrimary  bool
	IsComputed bool
	IsArray    bool
	IsDate     bool
	AutoCreate bool
	AutoUpdate bool

	// 引用关联
	Relation   naming.RelationKind
	LocalKey   string
	ForeignKey string

	// 内嵌文档
	Embed EmbedKind

	// Model 关联或内嵌模型（延迟解析，允许循环引用）
	Model func() *ModelMeta

	// Compute 计算属性
	Compute func(m *Model) any

	columnSet    bool
	serializeSet bool
}

// IsReference 是否为引用关联
func (c *Column) IsReference() bool { return c.Relation != "" }

// IsEmbedded 是否为内嵌文档
func (c *Column) IsEmbedded() bool { return c.Embed != EmbedNone }

// stored 是否写入存储文档
func (c *Column) stored() bool { return !c.IsComputed && !c.IsReference() }

// fillable 是否可通过 Fill 批量赋值
func (c *Column) fillable() bool {
	return c.stored() && !c.IsPrimary && !c.AutoCreate && !c.AutoUpdate
}

// ModelMeta 模型元信息
//
// 首次被 DB 使用时封存，之后任何声明性修改都会 panic。
type ModelMeta struct {
	name       string
	registry   *Registry
	collection string
	connection string
	primaryKey string
	defined    bool

	columns  []*Column
	byName   map[string]*Column
	byColumn map[string]*Column

	hooks      map[HookEvent][]namedHook
	queryHooks map[HookEvent][]namedQueryHook

	// declMu 串行化 Define 与首次使用时的封存
	declMu   sync.Mutex
	sealOnce sync.Once
	sealed   atomic.Bool

	mu        sync.Mutex
	relations map[string]*relationDef
}

func newModelMeta(r *Registry, name string) *ModelMeta {
	return &ModelMeta{
		name:       name,
		registry:   r,
		byName:     make(map[string]*Column),
		byColumn:   make(map[string]*Column),
		hooks:      make(map[HookEvent][]namedHook),
		queryHooks: make(map[HookEvent][]namedQueryHook),
		relations:  make(map[string]*relationDef),
	}
}

// Name 模型名
func (m *ModelMeta) Name() string { return m.name }

// Registry 所属注册表
func (m *ModelMeta) Registry() *Registry { return m.registry }

// Collection 集合名，未显式声明时由命名策略推导
func (m *ModelMeta) Collection() string {
	if m.collection != "" {
		return m.collection
	}
	return m.registry.naming.TableName(m.name)
}

// Connection 连接名，空表示默认连接
func (m *ModelMeta) Connection() string { return m.connection }

// PrimaryKey 主键属性名
func (m *ModelMeta) PrimaryKey() string {
	if m.primaryKey == "" {
		return defaultPrimaryKey
	}
	return m.primaryKey
}

// PrimaryColumn 主键列
func (m *ModelMeta) PrimaryColumn() *Column {
	m.seal()
	return m.byName[m.PrimaryKey()]
}

// Columns 按声明顺序返回列
func (m *ModelMeta) Columns() []*Column {
	out := make([]*Column, len(m.columns))
	copy(out, m.columns)
	return out
}

// Column 按属性名查找列
func (m *ModelMeta) Column(name string) (*Column, bool) {
	c, ok := m.byName[name]
	return c, ok
}

// ColumnByField 按存储字段名查找列
func (m *ModelMeta) ColumnByField(field string) (*Column, bool) {
	m.seal()
	c, ok := m.byColumn[field]
	return c, ok
}

// IsDefined 是否已通过 Define 声明
func (m *ModelMeta) IsDefined() bool { return m.defined }

// Hooks 返回事件下已注册的钩子名（注册顺序）
func (m *ModelMeta) Hooks(event HookEvent) []string {
	names := make([]string, 0, len(m.hooks[event])+len(m.queryHooks[event]))
	for _, h := range m.hooks[event] {
		names = append(names, h.name)
	}
	for _, h := range m.queryHooks[event] {
		names = append(names, h.name)
	}
	return names
}

const defaultPrimaryKey = "_id"

// seal 补全默认主键并建立字段索引
func (m *ModelMeta) seal() {
	m.sealOnce.Do(func() {
		m.declMu.Lock()
		defer m.declMu.Unlock()
		if m.primaryKey == "" {
			if _, ok := m.byName[defaultPrimaryKey]; !ok {
				col := &Column{Name: defaultPrimaryKey, IsPrimary: true}
				m.initColumn(col)
				m.columns = append([]*Column{col}, m.columns...)
				m.byName[col.Name] = col
			} else {
				m.byName[defaultPrimaryKey].IsPrimary = true
			}
			m.primaryKey = defaultPrimaryKey
		}
		for _, c := range m.columns {
			if c.stored() {
				m.byColumn[c.ColumnName] = c
			}
		}
		m.sealed.Store(true)
	})
}

func (m *ModelMeta) mustMutable() {
	if m.sealed.Load() {
		panic(fmt.Sprintf("odm: model %s is sealed; declare columns and hooks before first use", m.name))
	}
}

// initColumn 按命名策略填充未显式指定的字段名
func (m *ModelMeta) initColumn(c *Column) {
	strategy := m.registry.naming
	if !c.columnSet {
		if c.IsPrimary {
			c.ColumnName = defaultPrimaryKey
		} else {
			c.ColumnName = strategy.ColumnName(m.name, c.Name)
		}
	}
	if !c.serializeSet {
		c.SerializedName = strategy.SerializedName(m.name, c.Name)
	}
}

func (m *ModelMeta) addColumn(c *Column) {
	m.mustMutable()
	if c.IsPrimary {
		if m.primaryKey != "" && m.primaryKey != c.Name {
			panic(fmt.Sprintf("odm: model %s already has primary key %q", m.name, m.primaryKey))
		}
		m.primaryKey = c.Name
	}
	m.initColumn(c)
	if old, ok := m.byName[c.Name]; ok {
		*old = *c
		return
	}
	m.columns = append(m.columns, c)
	m.byName[c.Name] = c
}

// fieldPath 把属性路径翻译为存储字段路径，点号路径穿过内嵌模型逐段翻译
func (m *ModelMeta) fieldPath(path string) string {
	parts := strings.Split(path, ".")
	cur := m
	for i, part := range parts {
		if cur == nil {
			continue
		}
		if col, ok := cur.byName[part]; ok && col.stored() {
			parts[i] = col.ColumnName
			if col.IsEmbedded() && col.Model != nil {
				cur = col.Model()
				cur.seal()
			} else {
				cur = nil
			}
			continue
		}
		if col, ok := cur.byColumn[part]; ok {
			if col.IsEmbedded() && col.Model != nil {
				cur = col.Model()
				cur.seal()
			} else {
				cur = nil
			}
			continue
		}
		if isIndex(part) {
			continue
		}
		parts[i] = cur.registry.naming.ColumnName(cur.name, part)
		cur = nil
	}
	return strings.Join(parts, ".")
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// relationDef 解析后的引用关联：键均为属性名
type relationDef struct {
	name       string
	kind       naming.RelationKind
	owner      *ModelMeta
	related    *ModelMeta
	localKey   string
	foreignKey string
}

// relation 解析并校验关联定义，结果缓存
func (m *ModelMeta) relation(name string) (*relationDef, error) {
	m.seal()
	m.mu.Lock()
	defer m.mu.Unlock()
	if def, ok := m.relations[name]; ok {
		return def, nil
	}

	col, ok := m.byName[name]
	if !ok || !col.IsReference() {
		return nil, errors.NewRelationshipError(m.name, name,
			fmt.Sprintf("%q is not a relationship on model %s", name, m.name))
	}
	if col.Model == nil {
		return nil, errors.NewRelationshipError(m.name, name, "relationship has no related model")
	}
	related := col.Model()
	if related == nil || !related.defined {
		return nil, errors.NewRelationshipError(m.name, name,
			fmt.Sprintf("related model of %s.%s is not defined", m.name, name))
	}
	related.seal()

	strategy := m.registry.naming
	local := col.LocalKey
	if local == "" {
		local = strategy.RelationLocalKey(col.Relation, m.name, m.PrimaryKey(), related.name, related.PrimaryKey())
	}
	foreign := col.ForeignKey
	if foreign == "" {
		foreign = strategy.RelationForeignKey(col.Relation, m.name, m.PrimaryKey(), related.name, related.PrimaryKey())
	}
	if c, ok := m.byName[local]; !ok || !c.stored() {
		return nil, errors.NewRelationshipError(m.name, name,
			fmt.Sprintf("local key %q is not a column of %s", local, m.name))
	}
	if c, ok := related.byName[foreign]; !ok || !c.stored() {
		return nil, errors.NewRelationshipError(m.name, name,
			fmt.Sprintf("foreign key %q is not a column of %s", foreign, related.name))
	}

	def := &relationDef{
		name:       name,
		kind:       col.Relation,
		owner:      m,
		related:    related,
		localKey:   local,
		foreignKey: foreign,
	}
	m.relations[name] = def
	return def, nil
}

// embedded 校验内嵌字段并返回其模型
func (m *ModelMeta) embedded(name string, kind EmbedKind) (*Column, *ModelMeta, error) {
	col, ok := m.byName[name]
	if !ok || !col.IsEmbedded() {
		return nil, nil, errors.NewRelationshipError(m.name, name,
			fmt.Sprintf("%q is not an embedded field on model %s", name, m.name))
	}
	if kind != EmbedNone && col.Embed != kind {
		return nil, nil, errors.NewRelationshipError(m.name, name,
			fmt.Sprintf("%q is embeds-%s, not embeds-%s", name, col.Embed, kind))
	}
	if col.Model == nil || col.Model() == nil {
		return nil, nil, errors.NewRelationshipError(m.name, name, "embedded model is not defined")
	}
	sub := col.Model()
	sub.seal()
	return col, sub, nil
}
