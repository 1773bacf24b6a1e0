package odm

import (
	"encoding/json"
	"strconv"
	"time"

	"docodm/data/document"
	"docodm/data/document/filter"
)

// JSONTimeLayout 日期列在 JSON 中的格式（ISO-8601，毫秒精度）
const JSONTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ToDocument 存储形态：列名按命名策略翻译，内嵌文档递归展开，未赋值的属性与空主键省略
func (m *Model) ToDocument() document.Document {
	doc := make(document.Document)
	for _, col := range m.meta.columns {
		if !col.stored() {
			continue
		}
		v, ok := m.attributes[col.Name]
		if !ok {
			continue
		}
		if col.IsPrimary && v == nil {
			continue
		}
		doc[col.ColumnName] = storedValue(col, v)
	}
	return doc
}

// storedValue 把属性值转换为存储形态
func storedValue(col *Column, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *EmbeddedModel:
		if val == nil {
			return nil
		}
		return val.Model.ToDocument()
	case []*EmbeddedModel:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item.Model.ToDocument()
		}
		return out
	case time.Time:
		return val.UTC()
	}
	return filter.Clone(v)
}

// ToJSON 输出形态：字段使用序列化名，包含计算属性与已加载的关联，日期格式化为 ISO-8601
func (m *Model) ToJSON() map[string]any {
	out := make(map[string]any)
	for _, col := range m.meta.columns {
		if col.OmitJSON {
			continue
		}
		switch {
		case col.IsComputed:
			if col.Compute != nil {
				out[col.SerializedName] = jsonValue(col.Compute(m))
			}
		case col.IsReference():
			rel, ok := m.relations[col.Name]
			if !ok || !rel.loaded {
				continue
			}
			out[col.SerializedName] = jsonValue(rel.value())
		default:
			v, ok := m.attributes[col.Name]
			if !ok {
				continue
			}
			out[col.SerializedName] = jsonValue(v)
		}
	}
	return out
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *EmbeddedModel:
		if val == nil {
			return nil
		}
		return val.Model.ToJSON()
	case []*EmbeddedModel:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item.Model.ToJSON()
		}
		return out
	case *Model:
		if val == nil {
			return nil
		}
		return val.ToJSON()
	case []*Model:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item.ToJSON()
		}
		return out
	case time.Time:
		return val.UTC().Format(JSONTimeLayout)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonValue(item)
		}
		return out
	}
	return v
}

// MarshalJSON 实现 json.Marshaler
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToJSON())
}

// hydrate 从存储文档填充实例：计算属性与引用关联从不读取存储，日期列解析为 time.Time
func (m *Model) hydrate(doc document.Document) *Model {
	m.attributes = make(map[string]any, len(doc))
	for _, col := range m.meta.columns {
		if !col.stored() {
			continue
		}
		v, ok := doc[col.ColumnName]
		if !ok {
			continue
		}
		switch {
		case col.IsDate:
			v = coerceDate(v)
		case col.IsEmbedded():
			v = m.hydrateEmbedded(col, v)
		}
		m.attributes[col.Name] = v
	}
	m.persisted = true
	m.syncOriginal()
	return m
}

func (m *Model) hydrateEmbedded(col *Column, v any) any {
	if v == nil {
		return nil
	}
	sub := col.Model()
	sub.seal()
	build := func(raw any) *EmbeddedModel {
		data, ok := raw.(map[string]any)
		if !ok {
			return nil
		}
		e := newEmbeddedModel(sub, m, col)
		e.Model.hydrate(data)
		return e
	}
	if col.Embed == EmbedOne {
		if e := build(v); e != nil {
			return e
		}
		return nil
	}
	out := make([]*EmbeddedModel, 0)
	for _, raw := range embedItems(v) {
		if e := build(raw); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// coerceDate 解析日期：time.Time、ISO-8601 字符串、Unix 毫秒数；无法解析时原样返回
func coerceDate(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case string:
		for _, layout := range []string{time.RFC3339Nano, JSONTimeLayout, time.DateTime, time.DateOnly} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return t
	}
	if f, ok := filter.ToFloat(v); ok {
		return time.UnixMilli(int64(f)).UTC()
	}
	return v
}
