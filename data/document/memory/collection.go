package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"docodm/data/document"
	"docodm/data/document/filter"
	"docodm/errors"
)

// Collection 内存集合
type Collection struct {
	client *Client
	name   string
}

// Name 返回集合名
func (c *Collection) Name() string { return c.name }

// InsertOne 插入文档；缺少 _id 时生成 UUID
func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (any, error) {
	stored := filter.CloneDocument(doc)
	if stored == nil {
		stored = make(map[string]any)
	}
	if id, ok := stored["_id"]; !ok || id == nil {
		stored["_id"] = uuid.NewString()
	}
	id := stored["_id"]

	err := c.client.mutate(ctx, c.name, func(docs []map[string]any) ([]map[string]any, error) {
		for _, existing := range docs {
			if filter.Equal(existing["_id"], id) {
				return nil, fmt.Errorf("%w: _id %v in %s", errors.ErrDuplicateKey, id, c.name)
			}
		}
		return append(docs, stored), nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

// UpdateOne 更新首个匹配文档
func (c *Collection) UpdateOne(ctx context.Context, cond document.Filter, update document.Update) (int64, error) {
	return c.update(ctx, cond, update, 1)
}

// UpdateMany 更新全部匹配文档
func (c *Collection) UpdateMany(ctx context.Context, cond document.Filter, update document.Update) (int64, error) {
	return c.update(ctx, cond, update, -1)
}

func (c *Collection) update(ctx context.Context, cond document.Filter, update document.Update, max int) (int64, error) {
	var n int64
	err := c.client.mutate(ctx, c.name, func(docs []map[string]any) ([]map[string]any, error) {
		out := make([]map[string]any, len(docs))
		copy(out, docs)
		for i, doc := range out {
			if max > 0 && int(n) >= max {
				break
			}
			ok, err := filter.Match(doc, cond)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			updated := filter.CloneDocument(doc)
			filter.Apply(updated, update)
			updated["_id"] = doc["_id"]
			out[i] = updated
			n++
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteOne 删除首个匹配文档
func (c *Collection) DeleteOne(ctx context.Context, cond document.Filter) (int64, error) {
	return c.delete(ctx, cond, 1)
}

// DeleteMany 删除全部匹配文档
func (c *Collection) DeleteMany(ctx context.Context, cond document.Filter) (int64, error) {
	return c.delete(ctx, cond, -1)
}

func (c *Collection) delete(ctx context.Context, cond document.Filter, max int) (int64, error) {
	var n int64
	err := c.client.mutate(ctx, c.name, func(docs []map[string]any) ([]map[string]any, error) {
		out := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			if max < 0 || int(n) < max {
				ok, err := filter.Match(doc, cond)
				if err != nil {
					return nil, err
				}
				if ok {
					n++
					continue
				}
			}
			out = append(out, doc)
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Find 查询文档，返回深拷贝
func (c *Collection) Find(ctx context.Context, cond document.Filter, opts *document.FindOptions) ([]document.Document, error) {
	var out []document.Document
	err := c.client.view(ctx, c.name, func(docs []map[string]any) error {
		matched, err := filter.Run(docs, cond, opts)
		if err != nil {
			return err
		}
		out = make([]document.Document, len(matched))
		for i, doc := range matched {
			out[i] = filter.CloneDocument(doc)
		}
		return nil
	})
	return out, err
}

// FindOne 查询单个文档，未命中返回 (nil, nil)
func (c *Collection) FindOne(ctx context.Context, cond document.Filter, opts *document.FindOptions) (document.Document, error) {
	one := document.FindOptions{Limit: 1}
	if opts != nil {
		one = *opts
		one.Limit = 1
	}
	docs, err := c.Find(ctx, cond, &one)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// CountDocuments 统计匹配文档数
func (c *Collection) CountDocuments(ctx context.Context, cond document.Filter) (int64, error) {
	var n int64
	err := c.client.view(ctx, c.name, func(docs []map[string]any) error {
		matched, err := filter.Run(docs, cond, nil)
		n = int64(len(matched))
		return err
	})
	return n, err
}

// Distinct 返回字段去重值
func (c *Collection) Distinct(ctx context.Context, field string, cond document.Filter) ([]any, error) {
	var out []any
	err := c.client.view(ctx, c.name, func(docs []map[string]any) error {
		matched, err := filter.Run(docs, cond, nil)
		if err != nil {
			return err
		}
		for _, v := range filter.Distinct(matched, field) {
			out = append(out, filter.Clone(v))
		}
		return nil
	})
	return out, err
}
