package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"docodm/data/document"
	"docodm/errors"
)

// Match 判断文档是否满足条件；条件语法非法时返回 INVALID_INPUT 错误
func Match(doc map[string]any, cond map[string]any) (bool, error) {
	for key, arg := range cond {
		ok, err := matchKey(doc, key, arg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// MustMatch 忽略语法错误的 Match，非法条件视为不匹配
func MustMatch(doc map[string]any, cond map[string]any) bool {
	ok, err := Match(doc, cond)
	return err == nil && ok
}

func matchKey(doc map[string]any, key string, arg any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		subs, err := subFilters(key, arg)
		if err != nil {
			return false, err
		}
		return matchLogical(doc, key, subs)
	}
	if strings.HasPrefix(key, "$") {
		return false, invalid("unsupported top-level operator %s", key)
	}

	candidates, exists := resolve(doc, strings.Split(key, "."))
	if ops, ok := operatorDoc(arg); ok {
		return matchOperators(candidates, exists, ops)
	}
	return matchEq(candidates, exists, arg), nil
}

func subFilters(op string, arg any) ([]map[string]any, error) {
	items, ok := toSlice(arg)
	if !ok || len(items) == 0 {
		return nil, invalid("%s requires a non-empty array", op)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			return nil, invalid("%s elements must be documents", op)
		}
		out = append(out, m)
	}
	return out, nil
}

func matchLogical(doc map[string]any, op string, subs []map[string]any) (bool, error) {
	for _, sub := range subs {
		ok, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !ok:
			return false, nil
		case op == "$or" && ok:
			return true, nil
		case op == "$nor" && ok:
			return false, nil
		}
	}
	return op != "$or", nil
}

// operatorDoc 判断值是否为操作符文档（所有键以 $ 开头）
func operatorDoc(arg any) (map[string]any, bool) {
	m, ok := toMap(arg)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchEq(candidates []any, exists bool, arg any) bool {
	if arg == nil {
		if !exists {
			return true
		}
		for _, c := range candidates {
			if c == nil {
				return true
			}
		}
		return false
	}
	for _, c := range candidates {
		if Equal(c, arg) {
			return true
		}
	}
	return false
}

func matchOperators(candidates []any, exists bool, ops map[string]any) (bool, error) {
	// 固定求值顺序，保证错误信息稳定
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, op := range keys {
		arg := ops[op]
		var (
			ok  bool
			err error
		)
		switch op {
		case "$eq":
			ok = matchEq(candidates, exists, arg)
		case "$ne":
			ok = !matchEq(candidates, exists, arg)
		case "$gt", "$gte", "$lt", "$lte":
			ok = matchRange(candidates, op, arg)
		case "$in":
			ok, err = matchIn(candidates, exists, arg)
		case "$nin":
			ok, err = matchIn(candidates, exists, arg)
			ok = !ok
		case "$exists":
			want, isBool := arg.(bool)
			if !isBool {
				return false, invalid("$exists requires a boolean")
			}
			ok = exists == want
		case "$regex":
			options, _ := ops["$options"].(string)
			ok, err = matchRegex(candidates, arg, options)
		case "$options":
			if _, has := ops["$regex"]; !has {
				return false, invalid("$options requires $regex")
			}
			ok = true
		case "$not":
			inner, isOps := operatorDoc(arg)
			if !isOps {
				return false, invalid("$not requires an operator document")
			}
			ok, err = matchOperators(candidates, exists, inner)
			ok = !ok
		case "$size":
			ok = matchSize(candidates, arg)
		case "$elemMatch":
			ok, err = matchElem(candidates, arg)
		default:
			return false, invalid("unsupported operator %s", op)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchRange(candidates []any, op string, arg any) bool {
	for _, c := range candidates {
		cmp, ok := Compare(c, arg)
		if !ok {
			continue
		}
		switch op {
		case "$gt":
			ok = cmp > 0
		case "$gte":
			ok = cmp >= 0
		case "$lt":
			ok = cmp < 0
		case "$lte":
			ok = cmp <= 0
		}
		if ok {
			return true
		}
	}
	return false
}

func matchIn(candidates []any, exists bool, arg any) (bool, error) {
	values, ok := toSlice(arg)
	if !ok {
		return false, invalid("$in/$nin requires an array")
	}
	for _, v := range values {
		if matchEq(candidates, exists, v) {
			return true, nil
		}
	}
	return false, nil
}

func matchSize(candidates []any, arg any) bool {
	want, ok := toInt64(arg)
	if !ok || len(candidates) == 0 {
		return false
	}
	arr, ok := toSlice(candidates[0])
	return ok && int64(len(arr)) == want
}

func matchElem(candidates []any, arg any) (bool, error) {
	cond, ok := toMap(arg)
	if !ok {
		return false, invalid("$elemMatch requires a document")
	}
	if len(candidates) == 0 {
		return false, nil
	}
	arr, ok := toSlice(candidates[0])
	if !ok {
		return false, nil
	}
	ops, isOps := operatorDoc(cond)
	for _, el := range arr {
		var (
			matched bool
			err     error
		)
		if isOps {
			matched, err = matchOperators([]any{el}, true, ops)
		} else if m, isDoc := toMap(el); isDoc {
			matched, err = Match(m, cond)
		}
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

var (
	regexMu    sync.RWMutex
	regexCache = make(map[string]*regexp.Regexp)
)

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		case 'x', 'u':
		default:
			return nil, invalid("unsupported regex option %q", string(o))
		}
	}
	expr := pattern
	if flags != "" {
		expr = "(?" + flags + ")" + pattern
	}

	regexMu.RLock()
	re, ok := regexCache[expr]
	regexMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid $regex")
	}
	regexMu.Lock()
	regexCache[expr] = re
	regexMu.Unlock()
	return re, nil
}

func matchRegex(candidates []any, arg any, options string) (bool, error) {
	var re *regexp.Regexp
	switch p := arg.(type) {
	case string:
		compiled, err := compileRegex(p, options)
		if err != nil {
			return false, err
		}
		re = compiled
	case *regexp.Regexp:
		re = p
	default:
		return false, invalid("$regex requires a string pattern")
	}
	for _, c := range candidates {
		if s, ok := c.(string); ok && re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

// LikeToRegex 将 SQL LIKE 模式转换为正则：
// 含 % 或 _ 通配符时整体锚定匹配；不含通配符时按子串匹配。
func LikeToRegex(pattern string) string {
	if !strings.ContainsAny(pattern, "%_") {
		return regexp.QuoteMeta(pattern)
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// Sort 按排序字段稳定排序（原地）
func Sort(docs []map[string]any, fields []document.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, _ := Get(docs[i], f.Field)
			b, _ := Get(docs[j], f.Field)
			c := SortCompare(a, b)
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

// Project 应用投影：包含模式下 _id 默认保留，除非显式排除
func Project(doc map[string]any, projection map[string]bool) map[string]any {
	if len(projection) == 0 {
		return doc
	}
	include := false
	for field, on := range projection {
		if on && field != "_id" {
			include = true
			break
		}
	}

	if !include {
		out := CloneDocument(doc)
		for field, on := range projection {
			if !on {
				Unset(out, field)
			}
		}
		return out
	}

	out := make(map[string]any)
	if on, set := projection["_id"]; !set || on {
		if id, ok := doc["_id"]; ok {
			out["_id"] = id
		}
	}
	for field, on := range projection {
		if !on || field == "_id" {
			continue
		}
		if v, ok := Get(doc, field); ok {
			Set(out, field, Clone(v))
		}
	}
	return out
}

// Apply 在文档上执行部分更新
func Apply(doc map[string]any, update document.Update) {
	for path, v := range update.Set {
		Set(doc, path, Clone(v))
	}
	for _, path := range update.Unset {
		Unset(doc, path)
	}
}

// Distinct 收集字段的去重值，数组值按元素展开
func Distinct(docs []map[string]any, field string) []any {
	var out []any
	for _, doc := range docs {
		v, ok := Get(doc, field)
		if !ok {
			continue
		}
		values := []any{v}
		if arr, isArr := toSlice(v); isArr {
			values = arr
		}
		for _, item := range values {
			if !containsEqual(out, item) {
				out = append(out, item)
			}
		}
	}
	return out
}

func containsEqual(values []any, v any) bool {
	for _, existing := range values {
		if Equal(existing, v) {
			return true
		}
	}
	return false
}

// Run 对文档集执行完整查询：过滤、排序、跳过、限制、投影
func Run(docs []map[string]any, cond map[string]any, opts *document.FindOptions) ([]map[string]any, error) {
	matched := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		ok, err := Match(doc, cond)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	if opts == nil {
		return matched, nil
	}
	Sort(matched, opts.Sort)
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = matched[:0]
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		for i, doc := range matched {
			matched[i] = Project(doc, opts.Projection)
		}
	}
	return matched, nil
}

func invalid(format string, args ...any) error {
	return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}
