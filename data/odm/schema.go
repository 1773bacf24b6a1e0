package odm

import (
	"docodm/naming"
)

// Schema 模型声明 DSL
type Schema struct {
	meta *ModelMeta
}

// ColumnOption 列选项
type ColumnOption func(*Column)

// ColumnName 指定存储字段名
func ColumnName(name string) ColumnOption {
	return func(c *Column) {
		c.ColumnName = name
		c.columnSet = true
	}
}

// SerializeAs 指定 JSON 输出字段名
func SerializeAs(name string) ColumnOption {
	return func(c *Column) {
		c.SerializedName = name
		c.serializeSet = true
	}
}

// Hidden JSON 输出中省略该列
func Hidden() ColumnOption {
	return func(c *Column) { c.OmitJSON = true }
}

// Array 标记数组值列
func Array() ColumnOption {
	return func(c *Column) { c.IsArray = true }
}

// AutoCreate 插入时自动写入当前时间
func AutoCreate() ColumnOption {
	return func(c *Column) { c.AutoCreate = true }
}

// AutoUpdate 插入与更新时自动写入当前时间
func AutoUpdate() ColumnOption {
	return func(c *Column) { c.AutoUpdate = true }
}

// LocalKey 指定关联在本侧的键（属性名）
func LocalKey(name string) ColumnOption {
	return func(c *Column) { c.LocalKey = name }
}

// ForeignKey 指定关联在对侧的键（属性名）
func ForeignKey(name string) ColumnOption {
	return func(c *Column) { c.ForeignKey = name }
}

func (s *Schema) add(c *Column, opts []ColumnOption) *Schema {
	for _, opt := range opts {
		opt(c)
	}
	s.meta.addColumn(c)
	return s
}

// Collection 指定集合名
func (s *Schema) Collection(name string) *Schema {
	s.meta.mustMutable()
	s.meta.collection = name
	return s
}

// Connection 指定连接名
func (s *Schema) Connection(name string) *Schema {
	s.meta.mustMutable()
	s.meta.connection = name
	return s
}

// Primary 声明主键；存储字段默认为 _id，每个模型只能有一个主键
func (s *Schema) Primary(name string, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, IsPrimary: true}, opts)
}

// Column 声明普通列
func (s *Schema) Column(name string, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name}, opts)
}

// Date 声明日期列
func (s *Schema) Date(name string, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, IsDate: true}, opts)
}

// DateTime 声明日期时间列
func (s *Schema) DateTime(name string, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, IsDate: true}, opts)
}

// Timestamps 声明 createdAt / updatedAt
func (s *Schema) Timestamps() *Schema {
	s.DateTime("createdAt", AutoCreate())
	return s.DateTime("updatedAt", AutoCreate(), AutoUpdate())
}

// Computed 声明计算属性：只出现在 JSON 输出中，从不读写存储
func (s *Schema) Computed(name string, fn func(m *Model) any, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, IsComputed: true, Compute: fn}, opts)
}

// HasOne 声明一对一关联（外键在对侧）
func (s *Schema) HasOne(name string, related func() *ModelMeta, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, Relation: naming.HasOne, Model: related}, opts)
}

// HasMany 声明一对多关联（外键在对侧）
func (s *Schema) HasMany(name string, related func() *ModelMeta, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, Relation: naming.HasMany, Model: related, IsArray: true}, opts)
}

// BelongsTo 声明从属关联（外键在本侧）
func (s *Schema) BelongsTo(name string, related func() *ModelMeta, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, Relation: naming.BelongsTo, Model: related}, opts)
}

// EmbedsOne 声明单个内嵌文档
func (s *Schema) EmbedsOne(name string, model func() *ModelMeta, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, Embed: EmbedOne, Model: model}, opts)
}

// EmbedsMany 声明内嵌文档数组
func (s *Schema) EmbedsMany(name string, model func() *ModelMeta, opts ...ColumnOption) *Schema {
	return s.add(&Column{Name: name, Embed: EmbedMany, Model: model, IsArray: true}, opts)
}

// Hook 注册实例生命周期钩子；同一事件重复注册同名钩子不产生重复项
func (s *Schema) Hook(event HookEvent, name string, fn HookFunc) *Schema {
	s.meta.mustMutable()
	for _, h := range s.meta.hooks[event] {
		if h.name == name {
			return s
		}
	}
	s.meta.hooks[event] = append(s.meta.hooks[event], namedHook{name: name, fn: fn})
	return s
}

// QueryHook 注册查询钩子（BeforeFind/AfterFind/BeforeFetch/AfterFetch）
func (s *Schema) QueryHook(event HookEvent, name string, fn QueryHookFunc) *Schema {
	s.meta.mustMutable()
	for _, h := range s.meta.queryHooks[event] {
		if h.name == name {
			return s
		}
	}
	s.meta.queryHooks[event] = append(s.meta.queryHooks[event], namedQueryHook{name: name, fn: fn})
	return s
}
