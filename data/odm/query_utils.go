package odm

import (
	"docodm/data/document"
	"docodm/data/document/filter"
)

// QueryUtils 查询修饰：排序、分页、投影、去重、分组与 having
//
// 与具体存储无关，字段均为属性名，由 FindOptions 在执行前翻译为存储字段。
type QueryUtils struct {
	sort       []document.SortField
	limit      int64
	skip       int64
	projection []string
	distinct   string
	groupBy    []string
	having     []Condition
}

// AddSort 追加排序；同一字段重复指定时原位替换方向
func (u *QueryUtils) AddSort(field string, desc bool) {
	for i := range u.sort {
		if u.sort[i].Field == field {
			u.sort[i].Desc = desc
			return
		}
	}
	u.sort = append(u.sort, document.SortField{Field: field, Desc: desc})
}

// SetLimit 设置返回上限，0 表示不限制
func (u *QueryUtils) SetLimit(n int64) {
	if n < 0 {
		n = 0
	}
	u.limit = n
}

// SetSkip 设置跳过条数
func (u *QueryUtils) SetSkip(n int64) {
	if n < 0 {
		n = 0
	}
	u.skip = n
}

// ForPage 按页码（从 1 开始）计算 skip/limit
func (u *QueryUtils) ForPage(page, perPage int64) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	u.skip = (page - 1) * perPage
	u.limit = perPage
}

// Select 包含式投影，多次调用累加
func (u *QueryUtils) Select(fields ...string) {
	for _, f := range fields {
		if !containsString(u.projection, f) {
			u.projection = append(u.projection, f)
		}
	}
}

// SetDistinct 按字段去重
func (u *QueryUtils) SetDistinct(field string) { u.distinct = field }

// GroupBy 追加分组字段
func (u *QueryUtils) GroupBy(fields ...string) {
	for _, f := range fields {
		if !containsString(u.groupBy, f) {
			u.groupBy = append(u.groupBy, f)
		}
	}
}

// AddHaving 追加分组后过滤条件（作用于聚合结果行）
func (u *QueryUtils) AddHaving(c Condition) {
	u.having = append(u.having, c)
}

// Limit 当前上限
func (u *QueryUtils) Limit() int64 { return u.limit }

// Skip 当前跳过条数
func (u *QueryUtils) Skip() int64 { return u.skip }

// Clone 深拷贝
func (u *QueryUtils) Clone() QueryUtils {
	return QueryUtils{
		sort:       append([]document.SortField(nil), u.sort...),
		limit:      u.limit,
		skip:       u.skip,
		projection: append([]string(nil), u.projection...),
		distinct:   u.distinct,
		groupBy:    append([]string(nil), u.groupBy...),
		having:     cloneConditions(u.having),
	}
}

// FindOptions 翻译为存储查询选项
func (u *QueryUtils) FindOptions(field func(string) string) *document.FindOptions {
	opts := &document.FindOptions{Skip: u.skip, Limit: u.limit}
	for _, s := range u.sort {
		opts.Sort = append(opts.Sort, document.SortField{Field: field(s.Field), Desc: s.Desc})
	}
	if len(u.projection) > 0 {
		opts.Projection = make(map[string]bool, len(u.projection))
		for _, f := range u.projection {
			opts.Projection[field(f)] = true
		}
	}
	return opts
}

// havingFilter having 条件直接作用于聚合行，字段名不做翻译
func (u *QueryUtils) havingFilter() document.Filter {
	return compileConditions(u.having, func(s string) string { return s })
}

// dedupe 按去重字段保留首次出现的文档
func (u *QueryUtils) dedupe(docs []document.Document, field func(string) string) []int {
	keep := make([]int, 0, len(docs))
	var seen []any
	path := field(u.distinct)
	for i, doc := range docs {
		v, _ := filter.Get(doc, path)
		dup := false
		for _, s := range seen {
			if filter.Equal(s, v) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen = append(seen, v)
		keep = append(keep, i)
	}
	return keep
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
