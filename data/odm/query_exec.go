package odm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"docodm/data/document"
	"docodm/data/document/filter"
	"docodm/errors"
	"docodm/logging"
)

// First 返回首个匹配实例；未命中返回 (nil, nil)
func (q *QueryBuilder) First(ctx context.Context) (*Model, error) {
	if err := q.conds.err; err != nil {
		return nil, err
	}
	if aborted, err := q.meta.runQueryHooks(ctx, BeforeFind, q, nil); err != nil || aborted {
		return nil, err
	}
	opts := q.findOptions()
	opts.Limit = 1
	models, err := q.fetch(ctx, opts)
	if err != nil || len(models) == 0 {
		return nil, err
	}
	if _, err := q.meta.runQueryHooks(ctx, AfterFind, q, models[:1]); err != nil {
		return nil, err
	}
	return models[0], nil
}

// FirstOrFail 同 First，未命中返回 NOT_FOUND 错误
func (q *QueryBuilder) FirstOrFail(ctx context.Context) (*Model, error) {
	m, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.NewNotFound(q.meta.name, "query", q.filter())
	}
	return m, nil
}

// All 返回全部匹配实例，并按加载计划批量加载关联
func (q *QueryBuilder) All(ctx context.Context) ([]*Model, error) {
	if err := q.conds.err; err != nil {
		return nil, err
	}
	if aborted, err := q.meta.runQueryHooks(ctx, BeforeFetch, q, nil); err != nil || aborted {
		return nil, err
	}
	models, err := q.fetch(ctx, q.findOptions())
	if err != nil {
		return nil, err
	}
	if _, err := q.meta.runQueryHooks(ctx, AfterFetch, q, models); err != nil {
		return nil, err
	}
	return models, nil
}

// Iter 分批迭代匹配实例，每批一次存储往返
//
//	for m, err := range q.Iter(ctx, 100) { ... }
func (q *QueryBuilder) Iter(ctx context.Context, batch int64) iter.Seq2[*Model, error] {
	return func(yield func(*Model, error) bool) {
		if batch <= 0 {
			batch = 100
		}
		skip := q.utils.skip
		remaining := q.utils.limit
		for {
			size := batch
			if remaining > 0 && remaining < size {
				size = remaining
			}
			page := q.Clone()
			page.utils.skip = skip
			page.utils.limit = size
			models, err := page.All(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, m := range models {
				if !yield(m, nil) {
					return
				}
			}
			if int64(len(models)) < size {
				return
			}
			skip += size
			if remaining > 0 {
				remaining -= size
				if remaining == 0 {
					return
				}
			}
		}
	}
}

// Paginate 分页查询：一次计数加一次限定范围的读取
func (q *QueryBuilder) Paginate(ctx context.Context, page, perPage int64) (*Paginator, error) {
	total, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}
	pageQuery := q.Clone().ForPage(page, perPage)
	data, err := pageQuery.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewPaginator(data, total, pageQuery.utils.limit, page, q.meta.registry.naming), nil
}

// Count 匹配文档数（忽略 skip/limit）
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	if err := q.conds.err; err != nil {
		return 0, err
	}
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := coll.CountDocuments(bctx, q.filter())
	q.logQuery(ctx, "count", start, err)
	if err != nil {
		return 0, errors.WrapDatabaseError(errors.Normalize(err), "count", q.meta.name)
	}
	return n, nil
}

// Exists 是否存在匹配文档
func (q *QueryBuilder) Exists(ctx context.Context) (bool, error) {
	if err := q.conds.err; err != nil {
		return false, err
	}
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return false, err
	}
	start := time.Now()
	pk := q.meta.PrimaryColumn().ColumnName
	doc, err := coll.FindOne(bctx, q.filter(), &document.FindOptions{Projection: map[string]bool{pk: true}})
	q.logQuery(ctx, "exists", start, err)
	if err != nil {
		return false, errors.WrapDatabaseError(errors.Normalize(err), "exists", q.meta.name)
	}
	return doc != nil, nil
}

// Values 字段去重值
func (q *QueryBuilder) Values(ctx context.Context, field string) ([]any, error) {
	if err := q.conds.err; err != nil {
		return nil, err
	}
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	values, err := coll.Distinct(bctx, q.meta.fieldPath(field), q.filter())
	q.logQuery(ctx, "distinct", start, err)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "distinct", q.meta.name)
	}
	if col, ok := q.meta.byName[field]; ok && col.IsDate {
		for i := range values {
			values[i] = coerceDate(values[i])
		}
	}
	return values, nil
}

// AggregateOp 聚合函数
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggAvg   AggregateOp = "avg"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
)

// Aggregation 聚合项；As 为结果行中的别名，默认 <op>_<field>
type Aggregation struct {
	Op    AggregateOp
	Field string
	As    string
}

func (a Aggregation) alias() string {
	if a.As != "" {
		return a.As
	}
	if a.Field == "" {
		return string(a.Op)
	}
	return string(a.Op) + "_" + strings.ReplaceAll(a.Field, ".", "_")
}

// Aggregate 按 GroupBy 分组计算聚合，Having 过滤结果行，skip/limit 作用于结果行
//
// 每行包含分组字段（属性名为键）、count 以及各聚合别名。未分组时固定返回一行。
func (q *QueryBuilder) Aggregate(ctx context.Context, aggs ...Aggregation) ([]document.Document, error) {
	if err := q.conds.err; err != nil {
		return nil, err
	}
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return nil, err
	}
	opts := q.findOptions()
	start := time.Now()
	docs, err := coll.Find(bctx, q.filter(), &document.FindOptions{Sort: opts.Sort})
	q.logQuery(ctx, "aggregate", start, err)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "aggregate", q.meta.name)
	}

	type bucket struct {
		row  document.Document
		docs []document.Document
	}
	var (
		order   []string
		buckets = make(map[string]*bucket)
	)
	if len(q.utils.groupBy) == 0 {
		order = append(order, "")
		buckets[""] = &bucket{row: document.Document{}}
	}
	for _, doc := range docs {
		parts := make([]string, len(q.utils.groupBy))
		row := document.Document{}
		for i, g := range q.utils.groupBy {
			v, _ := filter.Get(doc, q.meta.fieldPath(g))
			parts[i] = keyString(v)
			row[g] = v
		}
		id := strings.Join(parts, "\x00")
		b, ok := buckets[id]
		if !ok {
			b = &bucket{row: row}
			buckets[id] = b
			order = append(order, id)
		}
		b.docs = append(b.docs, doc)
	}

	having := q.utils.havingFilter()
	rows := make([]document.Document, 0, len(order))
	for _, id := range order {
		b := buckets[id]
		b.row["count"] = int64(len(b.docs))
		for _, a := range aggs {
			v, err := aggregate(a, b.docs, q.meta.fieldPath(a.Field))
			if err != nil {
				return nil, err
			}
			b.row[a.alias()] = v
		}
		ok, err := filter.Match(b.row, having)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid having condition")
		}
		if ok {
			rows = append(rows, b.row)
		}
	}

	if skip := q.utils.skip; skip > 0 {
		if skip >= int64(len(rows)) {
			rows = rows[:0]
		} else {
			rows = rows[skip:]
		}
	}
	if limit := q.utils.limit; limit > 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows, nil
}

func aggregate(a Aggregation, docs []document.Document, path string) (any, error) {
	var values []any
	for _, doc := range docs {
		if a.Field == "" {
			values = append(values, nil)
			continue
		}
		if v, ok := filter.Get(doc, path); ok && v != nil {
			values = append(values, v)
		}
	}
	switch a.Op {
	case AggCount:
		return int64(len(values)), nil
	case AggSum, AggAvg:
		var sum float64
		var n int
		for _, v := range values {
			if f, ok := filter.ToFloat(v); ok {
				sum += f
				n++
			}
		}
		if a.Op == AggSum {
			return sum, nil
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case AggMin, AggMax:
		var best any
		for _, v := range values {
			if best == nil {
				best = v
				continue
			}
			c := filter.SortCompare(v, best)
			if (a.Op == AggMin && c < 0) || (a.Op == AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("unsupported aggregation %q", a.Op))
}

// scalar 对全部匹配文档计算单个聚合值
func (q *QueryBuilder) scalar(ctx context.Context, op AggregateOp, field string) (any, error) {
	sub := q.Clone()
	sub.utils.groupBy = nil
	sub.utils.having = nil
	sub.utils.skip, sub.utils.limit = 0, 0
	rows, err := sub.Aggregate(ctx, Aggregation{Op: op, Field: field, As: "value"})
	if err != nil {
		return nil, err
	}
	return rows[0]["value"], nil
}

// Sum 字段求和
func (q *QueryBuilder) Sum(ctx context.Context, field string) (float64, error) {
	v, err := q.scalar(ctx, AggSum, field)
	if err != nil {
		return 0, err
	}
	f, _ := v.(float64)
	return f, nil
}

// Avg 字段平均值；无数值时为 0
func (q *QueryBuilder) Avg(ctx context.Context, field string) (float64, error) {
	v, err := q.scalar(ctx, AggAvg, field)
	if err != nil {
		return 0, err
	}
	f, _ := v.(float64)
	return f, nil
}

// Min 字段最小值；无值时为 nil
func (q *QueryBuilder) Min(ctx context.Context, field string) (any, error) {
	return q.scalar(ctx, AggMin, field)
}

// Max 字段最大值；无值时为 nil
func (q *QueryBuilder) Max(ctx context.Context, field string) (any, error) {
	return q.scalar(ctx, AggMax, field)
}

// Update 批量更新匹配文档，不加载实例；自动更新时间戳列同时写入当前时间
func (q *QueryBuilder) Update(ctx context.Context, attrs map[string]any) (int64, error) {
	if err := q.conds.err; err != nil {
		return 0, err
	}
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return 0, err
	}
	tmp := newModel(q.meta, nil, nil)
	set := make(document.Document, len(attrs))
	for name, v := range attrs {
		col, ok := q.meta.byName[name]
		if ok && !col.stored() {
			continue
		}
		if !ok {
			set[q.meta.fieldPath(name)] = filter.Clone(v)
			continue
		}
		tmp.Set(name, v)
		set[col.ColumnName] = storedValue(col, tmp.attributes[name])
	}
	now := q.db.now().UTC().Truncate(time.Millisecond)
	for _, col := range q.meta.columns {
		if _, given := attrs[col.Name]; col.AutoUpdate && !given {
			set[col.ColumnName] = now
		}
	}
	if len(set) == 0 {
		return 0, nil
	}

	start := time.Now()
	n, err := coll.UpdateMany(bctx, q.filter(), document.Update{Set: set})
	q.logQuery(ctx, "updateMany", start, err)
	if err != nil {
		return 0, errors.WrapDatabaseError(errors.Normalize(err), "updateMany", q.meta.name)
	}
	q.afterWrite(ctx, effect{collection: q.meta.Collection(), clear: true})
	return n, nil
}

// Delete 批量删除匹配文档，不加载实例也不触发实例钩子
func (q *QueryBuilder) Delete(ctx context.Context) (int64, error) {
	if err := q.conds.err; err != nil {
		return 0, err
	}
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := coll.DeleteMany(bctx, q.filter())
	q.logQuery(ctx, "deleteMany", start, err)
	if err != nil {
		return 0, errors.WrapDatabaseError(errors.Normalize(err), "deleteMany", q.meta.name)
	}
	q.afterWrite(ctx, effect{collection: q.meta.Collection(), clear: true})
	return n, nil
}

// fetch 读取并物化：水合、去重、批量加载关联、内嵌约束
func (q *QueryBuilder) fetch(ctx context.Context, opts *document.FindOptions) ([]*Model, error) {
	coll, bctx, err := q.target(ctx, q.meta)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	docs, err := coll.Find(bctx, q.filter(), opts)
	q.logQuery(ctx, "find", start, err, logging.Int("rows", len(docs)))
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.Normalize(err), "find", q.meta.name)
	}

	if q.utils.distinct != "" {
		keep := q.utils.dedupe(docs, q.meta.fieldPath)
		unique := make([]document.Document, len(keep))
		for i, idx := range keep {
			unique[i] = docs[idx]
		}
		docs = unique
	}

	models := make([]*Model, len(docs))
	for i, doc := range docs {
		models[i] = q.Hydrate(q.meta, doc)
	}
	if err := loadRelations(ctx, q.scope, q.meta, models, q.loads); err != nil {
		return nil, err
	}
	if err := applyEmbeds(q.meta, models, q.embeds); err != nil {
		return nil, err
	}
	return models, nil
}

func (q *QueryBuilder) logQuery(ctx context.Context, op string, start time.Time, err error, fields ...logging.Field) {
	if q.db == nil {
		return
	}
	fields = append(fields,
		logging.String("model", q.meta.name),
		logging.String("collection", q.meta.Collection()),
		logging.String("operation", op),
		logging.Duration("duration", time.Since(start)),
		logging.Bool("in_transaction", q.tx != nil),
	)
	if err != nil {
		q.db.logger.Warn(ctx, "数据库查询失败", append(fields, logging.Error(err))...)
		return
	}
	q.db.logger.Debug(ctx, "执行查询", fields...)
}

// applyEmbeds 在内存中对已读取的内嵌字段应用约束
func applyEmbeds(meta *ModelMeta, models []*Model, embeds []embedSpec) error {
	for _, spec := range embeds {
		col, sub, err := meta.embedded(spec.name, EmbedNone)
		if err != nil {
			return err
		}
		for _, m := range models {
			items := m.embeddedItems(col)
			eq := newEmbeddedQuery(sub, items)
			if spec.callback != nil {
				spec.callback(eq)
			}
			res, err := eq.Get()
			if err != nil {
				return err
			}
			if m.views == nil {
				m.views = make(map[string][]*EmbeddedModel)
			}
			m.views[spec.name] = res
		}
	}
	return nil
}

// embeddedItems 内嵌字段当前的元素列表
func (m *Model) embeddedItems(col *Column) []*EmbeddedModel {
	switch v := m.attributes[col.Name].(type) {
	case *EmbeddedModel:
		if v != nil {
			return []*EmbeddedModel{v}
		}
	case []*EmbeddedModel:
		return append([]*EmbeddedModel(nil), v...)
	}
	return nil
}
