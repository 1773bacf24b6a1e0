package sqlite

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"docodm/data/document"
	"docodm/data/document/filter"
)

// Collection SQLite 集合
type Collection struct {
	client *Client
	name   string
}

// Name 返回集合名
func (c *Collection) Name() string { return c.name }

type row struct {
	id  string
	doc map[string]any
}

// InsertOne 插入文档；缺少 _id 时生成 UUID
func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (any, error) {
	if err := c.client.ensureTable(ctx, c.name); err != nil {
		return nil, err
	}
	stored := filter.CloneDocument(doc)
	if stored == nil {
		stored = make(map[string]any)
	}
	if id, ok := stored["_id"]; !ok || id == nil {
		stored["_id"] = newID()
	}
	key, err := idKey(stored["_id"])
	if err != nil {
		return nil, err
	}
	body, err := encodeDoc(stored)
	if err != nil {
		return nil, err
	}
	_, err = c.client.exec(ctx, sq.Insert(quote(c.name)).Columns("id", "doc").Values(key, body))
	if err != nil {
		return nil, err
	}
	return stored["_id"], nil
}

// UpdateOne 更新首个匹配文档
func (c *Collection) UpdateOne(ctx context.Context, cond document.Filter, update document.Update) (int64, error) {
	return c.update(ctx, cond, update, 1)
}

// UpdateMany 更新全部匹配文档
func (c *Collection) UpdateMany(ctx context.Context, cond document.Filter, update document.Update) (int64, error) {
	return c.update(ctx, cond, update, 0)
}

func (c *Collection) update(ctx context.Context, cond document.Filter, update document.Update, limit int) (int64, error) {
	var n int64
	err := c.atomically(ctx, func(ctx context.Context) error {
		rows, err := c.match(ctx, cond, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			id := r.doc["_id"]
			filter.Apply(r.doc, update)
			r.doc["_id"] = id
			body, err := encodeDoc(r.doc)
			if err != nil {
				return err
			}
			if _, err := c.client.exec(ctx, sq.Update(quote(c.name)).Set("doc", body).Where(sq.Eq{"id": r.id})); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// DeleteOne 删除首个匹配文档
func (c *Collection) DeleteOne(ctx context.Context, cond document.Filter) (int64, error) {
	return c.delete(ctx, cond, 1)
}

// DeleteMany 删除全部匹配文档
func (c *Collection) DeleteMany(ctx context.Context, cond document.Filter) (int64, error) {
	return c.delete(ctx, cond, 0)
}

func (c *Collection) delete(ctx context.Context, cond document.Filter, limit int) (int64, error) {
	var n int64
	err := c.atomically(ctx, func(ctx context.Context) error {
		rows, err := c.match(ctx, cond, limit)
		if err != nil || len(rows) == 0 {
			return err
		}
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.id
		}
		res, err := c.client.exec(ctx, sq.Delete(quote(c.name)).Where(sq.Eq{"id": ids}))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Find 查询文档
func (c *Collection) Find(ctx context.Context, cond document.Filter, opts *document.FindOptions) ([]document.Document, error) {
	rows, err := c.match(ctx, cond, 0)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	// 条件已在 match 中求值，这里只做排序、分页与投影
	docs, err = filter.Run(docs, nil, opts)
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out, nil
}

// FindOne 查询单个文档，未命中返回 (nil, nil)
func (c *Collection) FindOne(ctx context.Context, cond document.Filter, opts *document.FindOptions) (document.Document, error) {
	one := document.FindOptions{}
	if opts != nil {
		one = *opts
	}
	one.Limit = 1
	docs, err := c.Find(ctx, cond, &one)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// CountDocuments 统计匹配文档数；空条件时直接 COUNT(*)
func (c *Collection) CountDocuments(ctx context.Context, cond document.Filter) (int64, error) {
	if len(cond) == 0 {
		if err := c.client.ensureTable(ctx, c.name); err != nil {
			return 0, err
		}
		query, args, err := sq.Select("COUNT(*)").From(quote(c.name)).ToSql()
		if err != nil {
			return 0, err
		}
		var n int64
		err = c.client.runner(ctx).QueryRowContext(ctx, query, args...).Scan(&n)
		return n, mapError(err)
	}
	rows, err := c.match(ctx, cond, 0)
	return int64(len(rows)), err
}

// Distinct 返回字段去重值
func (c *Collection) Distinct(ctx context.Context, field string, cond document.Filter) ([]any, error) {
	rows, err := c.match(ctx, cond, 0)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return filter.Distinct(docs, field), nil
}

// match 读取并求值过滤条件；limit > 0 时命中数量达到即停止
func (c *Collection) match(ctx context.Context, cond document.Filter, limit int) ([]row, error) {
	if err := c.client.ensureTable(ctx, c.name); err != nil {
		return nil, err
	}
	stmt := sq.Select("id", "doc").From(quote(c.name)).OrderBy("rowid")
	if pushed, ok := pushdownID(cond); ok {
		stmt = stmt.Where(pushed)
	}
	rs, err := c.client.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		var (
			id   string
			body string
		)
		if err := rs.Scan(&id, &body); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(body)
		if err != nil {
			return nil, err
		}
		ok, err := filter.Match(doc, cond)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, row{id: id, doc: doc})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rs.Err()
}

// pushdownID _id 的等值或 $in 条件转换为主键列条件
func pushdownID(cond document.Filter) (sq.Eq, bool) {
	arg, ok := cond["_id"]
	if !ok {
		return nil, false
	}
	if ops, isMap := arg.(map[string]any); isMap {
		in, hasIn := ops["$in"]
		if !hasIn || len(ops) != 1 {
			return nil, false
		}
		values, isSlice := in.([]any)
		if !isSlice {
			return nil, false
		}
		keys := make([]string, 0, len(values))
		for _, v := range values {
			key, err := idKey(v)
			if err != nil {
				return nil, false
			}
			keys = append(keys, key)
		}
		return sq.Eq{"id": keys}, true
	}
	if arg == nil {
		return nil, false
	}
	key, err := idKey(arg)
	if err != nil {
		return nil, false
	}
	return sq.Eq{"id": key}, true
}

// atomically 无外部事务时在本地事务中执行读改写
func (c *Collection) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx, c.client) != nil {
		return fn(ctx)
	}
	if err := c.client.ensureTable(ctx, c.name); err != nil {
		return err
	}
	tx, err := c.client.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	if err := fn(withTx(ctx, c.client, tx)); err != nil {
		_ = tx.Rollback()
		c.client.forgetTables()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}
