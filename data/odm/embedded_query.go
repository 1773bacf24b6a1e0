package odm

import (
	"fmt"
	"sort"
	"strings"

	"docodm/data/document"
	"docodm/data/document/filter"
	"docodm/errors"
)

// EmbeddedQueryBuilder 内嵌数组的内存查询：条件、排序与分页都在已加载的数据上求值，不访问存储
type EmbeddedQueryBuilder struct {
	meta  *ModelMeta
	items []*EmbeddedModel

	conds conditionBuilder
	sort  []document.SortField
	limit int
	skip  int
}

func newEmbeddedQuery(meta *ModelMeta, items []*EmbeddedModel) *EmbeddedQueryBuilder {
	return &EmbeddedQueryBuilder{meta: meta, items: items}
}

// Where 相等（2 参数）或操作符（3 参数）条件
func (q *EmbeddedQueryBuilder) Where(field string, args ...any) *EmbeddedQueryBuilder {
	q.conds.where(false, false, field, args)
	return q
}

// OrWhere OR 条件
func (q *EmbeddedQueryBuilder) OrWhere(field string, args ...any) *EmbeddedQueryBuilder {
	q.conds.where(true, false, field, args)
	return q
}

// WhereNot 取反条件
func (q *EmbeddedQueryBuilder) WhereNot(field string, args ...any) *EmbeddedQueryBuilder {
	q.conds.where(false, true, field, args)
	return q
}

// WhereIn 字段值属于列表
func (q *EmbeddedQueryBuilder) WhereIn(field string, values any) *EmbeddedQueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpIn, Value: values})
	return q
}

// WhereNotIn 字段值不属于列表
func (q *EmbeddedQueryBuilder) WhereNotIn(field string, values any) *EmbeddedQueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNotIn, Value: values})
	return q
}

// WhereNull 字段为空或不存在
func (q *EmbeddedQueryBuilder) WhereNull(field string) *EmbeddedQueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNull})
	return q
}

// WhereNotNull 字段存在且非空
func (q *EmbeddedQueryBuilder) WhereNotNull(field string) *EmbeddedQueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNotNull})
	return q
}

// WhereLike LIKE 匹配
func (q *EmbeddedQueryBuilder) WhereLike(field, pattern string) *EmbeddedQueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpLike, Value: pattern})
	return q
}

// WhereILike 不区分大小写的 LIKE 匹配
func (q *EmbeddedQueryBuilder) WhereILike(field, pattern string) *EmbeddedQueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpILike, Value: pattern})
	return q
}

// OrderBy 排序，方向为 asc（默认）或 desc
func (q *EmbeddedQueryBuilder) OrderBy(field string, direction ...string) *EmbeddedQueryBuilder {
	desc := false
	if len(direction) > 0 {
		switch strings.ToLower(direction[0]) {
		case "asc", "":
		case "desc":
			desc = true
		default:
			q.conds.fail(errors.NewError(errors.ErrCodeInvalidInput,
				fmt.Sprintf("invalid sort direction %q for %s", direction[0], field)))
			return q
		}
	}
	path := q.meta.fieldPath(field)
	for i := range q.sort {
		if q.sort[i].Field == path {
			q.sort[i].Desc = desc
			return q
		}
	}
	q.sort = append(q.sort, document.SortField{Field: path, Desc: desc})
	return q
}

// Limit 返回上限，0 表示不限制
func (q *EmbeddedQueryBuilder) Limit(n int) *EmbeddedQueryBuilder {
	q.limit = max(n, 0)
	return q
}

// Skip 跳过条数
func (q *EmbeddedQueryBuilder) Skip(n int) *EmbeddedQueryBuilder {
	q.skip = max(n, 0)
	return q
}

// Get 执行查询，返回原实例（不是副本），修改后可直接 Save
func (q *EmbeddedQueryBuilder) Get() ([]*EmbeddedModel, error) {
	if q.conds.err != nil {
		return nil, q.conds.err
	}
	cond := compileConditions(q.conds.conds, q.meta.fieldPath)

	type entry struct {
		doc   document.Document
		model *EmbeddedModel
	}
	matched := make([]entry, 0, len(q.items))
	for _, item := range q.items {
		doc := item.Model.ToDocument()
		ok, err := filter.Match(doc, cond)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid embedded query")
		}
		if ok {
			matched = append(matched, entry{doc: doc, model: item})
		}
	}

	if len(q.sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, f := range q.sort {
				a, _ := filter.Get(matched[i].doc, f.Field)
				b, _ := filter.Get(matched[j].doc, f.Field)
				c := filter.SortCompare(a, b)
				if c == 0 {
					continue
				}
				if f.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.skip > 0 {
		if q.skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.skip:]
		}
	}
	if q.limit > 0 && q.limit < len(matched) {
		matched = matched[:q.limit]
	}

	out := make([]*EmbeddedModel, len(matched))
	for i, e := range matched {
		out[i] = e.model
	}
	return out, nil
}

// First 首个匹配元素；无匹配时为 nil
func (q *EmbeddedQueryBuilder) First() (*EmbeddedModel, error) {
	saved := q.limit
	q.limit = 1
	defer func() { q.limit = saved }()
	res, err := q.Get()
	if err != nil || len(res) == 0 {
		return nil, err
	}
	return res[0], nil
}

// Count 匹配元素个数（忽略 skip/limit）
func (q *EmbeddedQueryBuilder) Count() (int, error) {
	saved, savedSkip := q.limit, q.skip
	q.limit, q.skip = 0, 0
	defer func() { q.limit, q.skip = saved, savedSkip }()
	res, err := q.Get()
	return len(res), err
}
