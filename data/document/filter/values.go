// Package filter 在内存中对文档求值 MongoDB 风格的查询条件
//
// 内存驱动、SQLite JSON 驱动以及 ODM 的 having/embed 约束都复用这里的实现，
// 保证各驱动与远端 MongoDB 的匹配语义一致。
package filter

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// toSlice 将任意切片（[]byte 除外）转换为 []any
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []map[string]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toMap 将文档类值转换为 map[string]any
func toMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// toFloat 数值统一转换为 float64
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// ToFloat 导出的数值转换，供聚合计算使用
func ToFloat(v any) (float64, bool) { return toFloat(v) }

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Equal 比较两个文档值：数值跨类型比较，时间按时刻比较，数组与文档逐项比较
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return ai == bi
		}
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := toTime(b)
		return ok && at.Equal(bt)
	}
	if bt, ok := b.(time.Time); ok {
		at, ok := toTime(a)
		return ok && at.Equal(bt)
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if am, ok := toMap(a); ok {
		bm, ok := toMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if as, ok := toSlice(a); ok {
		bs, ok := toSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare 比较两个可排序值；类型不可比较时 ok 为 false
func Compare(a, b any) (int, bool) {
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return cmpOrdered(ai, bi), true
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			if math.IsNaN(af) || math.IsNaN(bf) {
				return 0, false
			}
			return cmpOrdered(af, bf), true
		}
		return 0, false
	}
	_, aIsTime := a.(time.Time)
	_, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		at, ok1 := toTime(a)
		bt, ok2 := toTime(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		return at.Compare(bt), true
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0, true
			case !ab:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// typeRank 跨类型排序次序（参照 BSON 比较顺序）
func typeRank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case map[string]any:
		return 3
	case bool:
		return 6
	case time.Time:
		return 7
	}
	if _, ok := toSlice(v); ok {
		return 4
	}
	return 5
}

// SortCompare 排序用全序比较：缺失与 nil 最小，其次数值、字符串、文档、数组、布尔、时间
func SortCompare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpOrdered(int64(ra), int64(rb))
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return 0
}

// Get 按点号路径读取值（数字段表示数组下标），不展开数组
func Get(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		if m, ok := toMap(cur); ok {
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = next
			continue
		}
		if arr, ok := toSlice(cur); ok {
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		return nil, false
	}
	return cur, true
}

// resolve 按路径收集候选值：路径穿过数组时对每个元素展开，终点为数组时同时包含数组本身与其元素
func resolve(cur any, parts []string) ([]any, bool) {
	if len(parts) == 0 {
		out := []any{cur}
		if arr, ok := toSlice(cur); ok {
			out = append(out, arr...)
		}
		return out, true
	}
	if m, ok := toMap(cur); ok {
		next, ok := m[parts[0]]
		if !ok {
			return nil, false
		}
		return resolve(next, parts[1:])
	}
	if arr, ok := toSlice(cur); ok {
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			return resolve(arr[idx], parts[1:])
		}
		var out []any
		found := false
		for _, el := range arr {
			if vals, ok := resolve(el, parts); ok {
				out = append(out, vals...)
				found = true
			}
		}
		return out, found
	}
	return nil, false
}

// Set 按点号路径写入值，自动创建中间文档
func Set(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Unset 按点号路径删除值
func Unset(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// Clone 深拷贝文档值（map 与切片递归复制，其余按值返回）
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}

// CloneDocument 深拷贝文档
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return Clone(doc).(map[string]any)
}
