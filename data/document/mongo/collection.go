package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"docodm/data/document"
)

// Collection MongoDB 集合；ctx 为 SessionContext 时驱动自动加入会话事务
type Collection struct {
	coll *mongo.Collection
}

// Name 返回集合名
func (c *Collection) Name() string { return c.coll.Name() }

// InsertOne 插入文档，返回（规范化后的）主键
func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (any, error) {
	res, err := c.coll.InsertOne(ctx, toBSON(doc))
	if err != nil {
		return nil, mapError(err)
	}
	return normalize(res.InsertedID), nil
}

// UpdateOne 更新首个匹配文档，返回匹配数
func (c *Collection) UpdateOne(ctx context.Context, filter document.Filter, update document.Update) (int64, error) {
	if update.IsEmpty() {
		return 0, nil
	}
	res, err := c.coll.UpdateOne(ctx, buildFilter(filter), buildUpdate(update))
	if err != nil {
		return 0, mapError(err)
	}
	return res.MatchedCount, nil
}

// UpdateMany 更新全部匹配文档，返回匹配数
func (c *Collection) UpdateMany(ctx context.Context, filter document.Filter, update document.Update) (int64, error) {
	if update.IsEmpty() {
		return 0, nil
	}
	res, err := c.coll.UpdateMany(ctx, buildFilter(filter), buildUpdate(update))
	if err != nil {
		return 0, mapError(err)
	}
	return res.MatchedCount, nil
}

// DeleteOne 删除首个匹配文档
func (c *Collection) DeleteOne(ctx context.Context, filter document.Filter) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, buildFilter(filter))
	if err != nil {
		return 0, mapError(err)
	}
	return res.DeletedCount, nil
}

// DeleteMany 删除全部匹配文档
func (c *Collection) DeleteMany(ctx context.Context, filter document.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, buildFilter(filter))
	if err != nil {
		return 0, mapError(err)
	}
	return res.DeletedCount, nil
}

// Find 查询文档
func (c *Collection) Find(ctx context.Context, filter document.Filter, opts *document.FindOptions) ([]document.Document, error) {
	cursor, err := c.coll.Find(ctx, buildFilter(filter), findOptions(opts))
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	var out []document.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, mapError(err)
		}
		out = append(out, NormalizeDocument(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// FindOne 查询单个文档，未命中返回 (nil, nil)
func (c *Collection) FindOne(ctx context.Context, filter document.Filter, opts *document.FindOptions) (document.Document, error) {
	one := document.FindOptions{}
	if opts != nil {
		one = *opts
	}
	one.Limit = 1
	docs, err := c.Find(ctx, filter, &one)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// CountDocuments 统计匹配文档数
func (c *Collection) CountDocuments(ctx context.Context, filter document.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, buildFilter(filter))
	return n, mapError(err)
}

// Distinct 返回字段去重值
func (c *Collection) Distinct(ctx context.Context, field string, filter document.Filter) ([]any, error) {
	values, err := c.coll.Distinct(ctx, field, buildFilter(filter))
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalize(v)
	}
	return out, nil
}

func findOptions(opts *document.FindOptions) *mopt.FindOptions {
	findOpts := mopt.Find()
	if opts == nil {
		return findOpts
	}
	if len(opts.Sort) > 0 {
		sortDoc := bson.D{}
		for _, f := range opts.Sort {
			direction := 1
			if f.Desc {
				direction = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: f.Field, Value: direction})
		}
		findOpts.SetSort(sortDoc)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		projection := bson.M{}
		for field, on := range opts.Projection {
			if on {
				projection[field] = 1
			} else {
				projection[field] = 0
			}
		}
		findOpts.SetProjection(projection)
	}
	return findOpts
}
