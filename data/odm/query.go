package odm

import (
	"fmt"
	"sort"
	"strings"

	"docodm/data/document"
	"docodm/errors"
)

// QueryBuilder 链式查询构建器
//
// 所有链式方法修改自身并返回自身；需要从公共前缀分叉时使用 Clone。
// 条件错误（非法操作符等）延迟到执行时返回；Load/Embed 引用未声明的名称属于编程错误，构建时即 panic。
type QueryBuilder struct {
	scope
	meta *ModelMeta

	conds  conditionBuilder
	utils  QueryUtils
	loads  []loadSpec
	embeds []embedSpec
}

type loadSpec struct {
	name      string
	callbacks []func(q *QueryBuilder)
}

type embedSpec struct {
	name     string
	callback func(q *EmbeddedQueryBuilder)
}

func newQueryBuilder(s scope, meta *ModelMeta) *QueryBuilder {
	meta.seal()
	return &QueryBuilder{scope: s, meta: meta}
}

// Meta 查询的模型
func (q *QueryBuilder) Meta() *ModelMeta { return q.meta }

// Err 构建过程中累积的错误
func (q *QueryBuilder) Err() error { return q.conds.err }

// Where 相等（2 参数）或操作符（3 参数）条件，与前序条件为 AND
//
//	q.Where("name", "John").Where("age", ">=", 18)
func (q *QueryBuilder) Where(field string, args ...any) *QueryBuilder {
	q.conds.where(false, false, field, args)
	return q
}

// OrWhere 与前序条件为 OR
func (q *QueryBuilder) OrWhere(field string, args ...any) *QueryBuilder {
	q.conds.where(true, false, field, args)
	return q
}

// WhereNot 取反条件
func (q *QueryBuilder) WhereNot(field string, args ...any) *QueryBuilder {
	q.conds.where(false, true, field, args)
	return q
}

// OrWhereNot OR 取反条件
func (q *QueryBuilder) OrWhereNot(field string, args ...any) *QueryBuilder {
	q.conds.where(true, true, field, args)
	return q
}

// WhereIn 字段值属于列表
func (q *QueryBuilder) WhereIn(field string, values any) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpIn, Value: values})
	return q
}

// OrWhereIn OR 形式的 WhereIn
func (q *QueryBuilder) OrWhereIn(field string, values any) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpIn, Value: values, Or: true})
	return q
}

// WhereNotIn 字段值不属于列表
func (q *QueryBuilder) WhereNotIn(field string, values any) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNotIn, Value: values})
	return q
}

// OrWhereNotIn OR 形式的 WhereNotIn
func (q *QueryBuilder) OrWhereNotIn(field string, values any) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNotIn, Value: values, Or: true})
	return q
}

// WhereNull 字段为空或不存在
func (q *QueryBuilder) WhereNull(field string) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNull})
	return q
}

// OrWhereNull OR 形式的 WhereNull
func (q *QueryBuilder) OrWhereNull(field string) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNull, Or: true})
	return q
}

// WhereNotNull 字段存在且非空
func (q *QueryBuilder) WhereNotNull(field string) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNotNull})
	return q
}

// OrWhereNotNull OR 形式的 WhereNotNull
func (q *QueryBuilder) OrWhereNotNull(field string) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpNotNull, Or: true})
	return q
}

// WhereLike 区分大小写的 LIKE 匹配（% 与 _ 通配；无通配符时按子串匹配）
func (q *QueryBuilder) WhereLike(field, pattern string) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpLike, Value: pattern})
	return q
}

// WhereILike 不区分大小写的 LIKE 匹配
func (q *QueryBuilder) WhereILike(field, pattern string) *QueryBuilder {
	q.conds.add(Condition{Field: field, Operator: OpILike, Value: pattern})
	return q
}

// WhereGroup 括号分组，与前序条件为 AND
func (q *QueryBuilder) WhereGroup(fn func(q *QueryBuilder)) *QueryBuilder {
	return q.group(false, fn)
}

// OrWhereGroup 括号分组，与前序条件为 OR
func (q *QueryBuilder) OrWhereGroup(fn func(q *QueryBuilder)) *QueryBuilder {
	return q.group(true, fn)
}

func (q *QueryBuilder) group(or bool, fn func(q *QueryBuilder)) *QueryBuilder {
	sub := newQueryBuilder(q.scope, q.meta)
	fn(sub)
	if sub.conds.err != nil {
		q.conds.fail(sub.conds.err)
	}
	if len(sub.conds.conds) > 0 {
		q.conds.add(Condition{Group: sub.conds.conds, Or: or})
	}
	return q
}

// OrderBy 排序，方向为 asc（默认）或 desc
func (q *QueryBuilder) OrderBy(field string, direction ...string) *QueryBuilder {
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
	q.utils.AddSort(field, desc)
	return q
}

// Limit 返回上限
func (q *QueryBuilder) Limit(n int64) *QueryBuilder {
	q.utils.SetLimit(n)
	return q
}

// Skip 跳过条数
func (q *QueryBuilder) Skip(n int64) *QueryBuilder {
	q.utils.SetSkip(n)
	return q
}

// Offset Skip 的别名
func (q *QueryBuilder) Offset(n int64) *QueryBuilder {
	return q.Skip(n)
}

// ForPage 按页码（从 1 开始）设置 skip/limit
func (q *QueryBuilder) ForPage(page, perPage int64) *QueryBuilder {
	q.utils.ForPage(page, perPage)
	return q
}

// Select 只返回指定字段（主键总是返回）
func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	q.utils.Select(fields...)
	return q
}

// Distinct 结果按字段去重
func (q *QueryBuilder) Distinct(field string) *QueryBuilder {
	q.utils.SetDistinct(field)
	return q
}

// GroupBy Aggregate 的分组字段
func (q *QueryBuilder) GroupBy(fields ...string) *QueryBuilder {
	q.utils.GroupBy(fields...)
	return q
}

// Having 过滤 Aggregate 的结果行，字段为分组字段或聚合别名
func (q *QueryBuilder) Having(field string, args ...any) *QueryBuilder {
	var b conditionBuilder
	b.where(false, false, field, args)
	if b.err != nil {
		q.conds.fail(b.err)
		return q
	}
	q.utils.AddHaving(b.conds[0])
	return q
}

// Load 预加载引用关联；"a.b" 等价于 Load("a", func(q) { q.Load("b") })
func (q *QueryBuilder) Load(name string, callbacks ...func(q *QueryBuilder)) *QueryBuilder {
	if head, rest, nested := strings.Cut(name, "."); nested {
		return q.Load(head, func(sub *QueryBuilder) { sub.Load(rest, callbacks...) })
	}
	if _, err := q.meta.relation(name); err != nil {
		panic(err)
	}
	for i := range q.loads {
		if q.loads[i].name == name {
			q.loads[i].callbacks = append(q.loads[i].callbacks, callbacks...)
			return q
		}
	}
	q.loads = append(q.loads, loadSpec{name: name, callbacks: append([]func(*QueryBuilder){}, callbacks...)})
	return q
}

// Embed 在内存中约束内嵌字段，结果通过 EmbedsMany(name).Results() / EmbedsOne(name).Result() 读取
func (q *QueryBuilder) Embed(name string, callback func(q *EmbeddedQueryBuilder)) *QueryBuilder {
	if _, _, err := q.meta.embedded(name, EmbedNone); err != nil {
		panic(err)
	}
	for i := range q.embeds {
		if q.embeds[i].name == name {
			q.embeds[i].callback = callback
			return q
		}
	}
	q.embeds = append(q.embeds, embedSpec{name: name, callback: callback})
	return q
}

// Clone 深拷贝条件、修饰与加载计划
func (q *QueryBuilder) Clone() *QueryBuilder {
	out := &QueryBuilder{
		scope: q.scope,
		meta:  q.meta,
		conds: q.conds.clone(),
		utils: q.utils.Clone(),
	}
	for _, l := range q.loads {
		out.loads = append(out.loads, loadSpec{name: l.name, callbacks: append([]func(*QueryBuilder){}, l.callbacks...)})
	}
	out.embeds = append(out.embeds, q.embeds...)
	return out
}

// QueryPlan 查询计划快照（存储字段命名）
type QueryPlan struct {
	Filter     document.Filter
	Sort       []document.SortField
	Limit      int64
	Skip       int64
	Projection map[string]bool
	Distinct   string
	GroupBy    []string
	Having     document.Filter
	Loads      []string
	Embeds     []string
}

// Plan 返回当前计划；加载与内嵌名按字典序排列
func (q *QueryBuilder) Plan() QueryPlan {
	opts := q.findOptions()
	plan := QueryPlan{
		Filter:     q.filter(),
		Sort:       opts.Sort,
		Limit:      opts.Limit,
		Skip:       opts.Skip,
		Projection: opts.Projection,
		Having:     q.utils.havingFilter(),
	}
	if q.utils.distinct != "" {
		plan.Distinct = q.meta.fieldPath(q.utils.distinct)
	}
	for _, g := range q.utils.groupBy {
		plan.GroupBy = append(plan.GroupBy, q.meta.fieldPath(g))
	}
	for _, l := range q.loads {
		plan.Loads = append(plan.Loads, l.name)
	}
	for _, e := range q.embeds {
		plan.Embeds = append(plan.Embeds, e.name)
	}
	sort.Strings(plan.Loads)
	sort.Strings(plan.Embeds)
	return plan
}

// filter 编译后的存储过滤文档
func (q *QueryBuilder) filter() document.Filter {
	return compileConditions(q.conds.conds, q.meta.fieldPath)
}

func (q *QueryBuilder) findOptions() *document.FindOptions {
	return q.utils.FindOptions(q.meta.fieldPath)
}
