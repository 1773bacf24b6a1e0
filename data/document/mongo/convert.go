package mongo

import (
	stdErrors "errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"docodm/data/document"
	"docodm/errors"
)

// normalize 将 BSON 解码值转换为普通 Go 值：
// 文档 -> map[string]any，数组 -> []any，DateTime -> time.Time(UTC)，ObjectID -> 十六进制字符串
func normalize(v any) any {
	switch val := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.M:
		return NormalizeDocument(val)
	case map[string]any:
		return NormalizeDocument(val)
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Null, primitive.Undefined:
		return nil
	}
	return v
}

// NormalizeDocument 规范化整个 BSON 解码文档
func NormalizeDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

// coerceID 24 位十六进制字符串形式的 _id 转换回 ObjectID
func coerceID(v any) any {
	switch val := v.(type) {
	case string:
		if oid, err := primitive.ObjectIDFromHex(val); err == nil {
			return oid
		}
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = coerceID(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = coerceID(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for op, arg := range val {
			out[op] = coerceID(arg)
		}
		return out
	}
	return v
}

// buildFilter 过滤条件转换为 bson；_id 条件（含 $and/$or/$nor 子句）做 ObjectID 还原
func buildFilter(filter document.Filter) bson.M {
	out := bson.M{}
	for key, arg := range filter {
		switch key {
		case "$and", "$or", "$nor":
			out[key] = buildClauses(arg)
		case "_id":
			out[key] = coerceID(arg)
		default:
			out[key] = arg
		}
	}
	return out
}

func buildClauses(arg any) any {
	switch clauses := arg.(type) {
	case []any:
		out := make([]any, len(clauses))
		for i, c := range clauses {
			if m, ok := c.(map[string]any); ok {
				out[i] = buildFilter(m)
			} else {
				out[i] = c
			}
		}
		return out
	case []map[string]any:
		out := make([]any, len(clauses))
		for i, c := range clauses {
			out[i] = buildFilter(c)
		}
		return out
	}
	return arg
}

func toBSON(doc document.Document) bson.M {
	out := bson.M{}
	for k, v := range doc {
		if k == "_id" {
			v = coerceID(v)
		}
		out[k] = v
	}
	return out
}

func buildUpdate(update document.Update) bson.M {
	out := bson.M{}
	if len(update.Set) > 0 {
		out["$set"] = bson.M(update.Set)
	}
	if len(update.Unset) > 0 {
		unset := bson.M{}
		for _, field := range update.Unset {
			unset[field] = ""
		}
		out["$unset"] = unset
	}
	return out
}

// mapError 驱动错误映射：唯一键冲突 -> ErrDuplicateKey，带 TransientTransactionError 标签 -> 可重试错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %v", errors.ErrDocumentNotFound, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", errors.ErrDuplicateKey, err)
	}
	var labeled mongo.LabeledError
	if stdErrors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") {
		return &document.TransientError{Err: err}
	}
	return err
}
