// Package naming 提供模型属性名与存储字段名之间的双向映射约定。
//
// 所有函数均为纯函数：无状态、不返回错误，无法识别的输入按原样返回。
package naming

// RelationKind 关联类型（与 odm 中的取值保持一致）
type RelationKind string

const (
	HasOne    RelationKind = "has_one"
	HasMany   RelationKind = "has_many"
	BelongsTo RelationKind = "belongs_to"
)

// PaginationKey 分页元信息字段
type PaginationKey string

const (
	KeyTotal           PaginationKey = "total"
	KeyPerPage         PaginationKey = "perPage"
	KeyCurrentPage     PaginationKey = "currentPage"
	KeyLastPage        PaginationKey = "lastPage"
	KeyFirstPage       PaginationKey = "firstPage"
	KeyHasNextPage     PaginationKey = "hasNextPage"
	KeyHasPreviousPage PaginationKey = "hasPreviousPage"
	KeyHasMorePages    PaginationKey = "hasMorePages"
	KeyData            PaginationKey = "data"
	KeyMeta            PaginationKey = "meta"
)

// Strategy 命名策略
type Strategy interface {
	// ColumnName 属性名 -> 存储文档字段名
	ColumnName(model, prop string) string
	// SerializedName 属性名 -> JSON 输出字段名
	SerializedName(model, prop string) string
	// TableName 模型名 -> 集合名
	TableName(model string) string
	// RelationLocalKey 推导关联在本侧的键（属性名）
	RelationLocalKey(kind RelationKind, owner, ownerPK, related, relatedPK string) string
	// RelationForeignKey 推导关联在对侧的键（属性名）
	RelationForeignKey(kind RelationKind, owner, ownerPK, related, relatedPK string) string
	// PaginationKey 分页元信息输出字段名
	PaginationKey(key PaginationKey) string
}

// SnakeCase 默认策略：属性转 snake_case，集合名为单数 snake_case
type SnakeCase struct{}

var _ Strategy = SnakeCase{}

func (SnakeCase) ColumnName(_, prop string) string     { return ToSnakeCase(prop) }
func (SnakeCase) SerializedName(_, prop string) string { return ToSnakeCase(prop) }
func (SnakeCase) TableName(model string) string        { return ToSnakeCase(singularizeLast(model)) }
func (SnakeCase) PaginationKey(key PaginationKey) string {
	return ToSnakeCase(string(key))
}

func (SnakeCase) RelationLocalKey(kind RelationKind, owner, ownerPK, related, relatedPK string) string {
	return localKey(kind, ownerPK, related)
}

func (SnakeCase) RelationForeignKey(kind RelationKind, owner, ownerPK, related, relatedPK string) string {
	return foreignKey(kind, owner, relatedPK)
}

// CamelCase 字段原样保留，集合名为复数 snake_case
type CamelCase struct{}

var _ Strategy = CamelCase{}

func (CamelCase) ColumnName(_, prop string) string     { return prop }
func (CamelCase) SerializedName(_, prop string) string { return prop }
func (CamelCase) TableName(model string) string        { return ToSnakeCase(Pluralize(model)) }
func (CamelCase) PaginationKey(key PaginationKey) string {
	return string(key)
}

func (CamelCase) RelationLocalKey(kind RelationKind, owner, ownerPK, related, relatedPK string) string {
	return localKey(kind, ownerPK, related)
}

func (CamelCase) RelationForeignKey(kind RelationKind, owner, ownerPK, related, relatedPK string) string {
	return foreignKey(kind, owner, relatedPK)
}

// localKey hasOne/hasMany 取本侧主键；belongsTo 取 <related>Id
func localKey(kind RelationKind, ownerPK, related string) string {
	if kind == BelongsTo {
		return ToCamelCase(ToSnakeCase(related)) + "Id"
	}
	return ownerPK
}

// foreignKey hasOne/hasMany 取 <owner>Id；belongsTo 取对侧主键
func foreignKey(kind RelationKind, owner, relatedPK string) string {
	if kind == BelongsTo {
		return relatedPK
	}
	return ToCamelCase(ToSnakeCase(owner)) + "Id"
}

// singularizeLast 仅对模型名最后一个单词做单数化（UserAddresses -> UserAddress）
func singularizeLast(model string) string {
	words := splitWords(model)
	if len(words) == 0 {
		return model
	}
	last := words[len(words)-1]
	return model[:len(model)-len(last)] + Singularize(last)
}
