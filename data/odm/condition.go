package odm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"docodm/data/document"
	"docodm/data/document/filter"
	"docodm/errors"
)

// Operator 规范化的比较操作符
type Operator string

const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpNotIn   Operator = "nin"
	OpNull    Operator = "null"
	OpNotNull Operator = "notnull"
	OpLike    Operator = "like"
	OpILike   Operator = "ilike"
)

var operatorAliases = map[string]Operator{
	"=":      OpEq,
	"==":     OpEq,
	"eq":     OpEq,
	"!=":     OpNe,
	"<>":     OpNe,
	"ne":     OpNe,
	">":      OpGt,
	"gt":     OpGt,
	">=":     OpGte,
	"gte":    OpGte,
	"<":      OpLt,
	"lt":     OpLt,
	"<=":     OpLte,
	"lte":    OpLte,
	"in":     OpIn,
	"nin":    OpNotIn,
	"not in": OpNotIn,
	"like":   OpLike,
	"ilike":  OpILike,
}

// ParseOperator 把别名（=, !=, >, >=, <, <=, like ...）映射为规范操作符
func ParseOperator(op string) (Operator, error) {
	if canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(op))]; ok {
		return canonical, nil
	}
	return "", errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("unsupported operator %q", op))
}

// Condition 过滤条件；Group 非空时表示括号内的子条件组
type Condition struct {
	Field    string
	Operator Operator
	Value    any
	Or       bool
	Not      bool
	Group    []Condition
}

func cloneConditions(conds []Condition) []Condition {
	if conds == nil {
		return nil
	}
	out := make([]Condition, len(conds))
	for i, c := range conds {
		out[i] = c
		out[i].Value = filter.Clone(c.Value)
		out[i].Group = cloneConditions(c.Group)
	}
	return out
}

// compileConditions 编译为 MongoDB 语法过滤文档
//
// OR 把条件序列切分为若干 AND 组；组内子句按文本排序，保证链式调用顺序不影响结果。
func compileConditions(conds []Condition, field func(string) string) document.Filter {
	var groups [][]Condition
	for i, c := range conds {
		if i == 0 || c.Or {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], c)
	}

	compiled := make([]any, 0, len(groups))
	for _, group := range groups {
		clauses := make([]document.Filter, 0, len(group))
		for _, c := range group {
			if clause := compileCondition(c, field); len(clause) > 0 {
				clauses = append(clauses, clause)
			}
		}
		switch len(clauses) {
		case 0:
			continue
		case 1:
			compiled = append(compiled, clauses[0])
		default:
			sortClauses(clauses)
			items := make([]any, len(clauses))
			for i := range clauses {
				items[i] = clauses[i]
			}
			compiled = append(compiled, document.Filter{"$and": items})
		}
	}

	switch len(compiled) {
	case 0:
		return document.Filter{}
	case 1:
		return compiled[0].(document.Filter)
	}
	return document.Filter{"$or": compiled}
}

func sortClauses(clauses []document.Filter) {
	sort.SliceStable(clauses, func(i, j int) bool {
		return fmt.Sprintf("%v", clauses[i]) < fmt.Sprintf("%v", clauses[j])
	})
}

func compileCondition(c Condition, field func(string) string) document.Filter {
	var clause document.Filter
	if c.Group != nil {
		clause = compileConditions(c.Group, field)
		if len(clause) == 0 {
			return nil
		}
	} else {
		clause = document.Filter{field(c.Field): operatorExpr(c.Operator, c.Value)}
	}
	if c.Not {
		return document.Filter{"$nor": []any{clause}}
	}
	return clause
}

func operatorExpr(op Operator, value any) map[string]any {
	switch op {
	case OpNull:
		return map[string]any{"$eq": nil}
	case OpNotNull:
		return map[string]any{"$ne": nil}
	case OpIn:
		return map[string]any{"$in": valueList(value)}
	case OpNotIn:
		return map[string]any{"$nin": valueList(value)}
	case OpLike:
		return map[string]any{"$regex": filter.LikeToRegex(fmt.Sprint(value))}
	case OpILike:
		return map[string]any{"$regex": filter.LikeToRegex(fmt.Sprint(value)), "$options": "i"}
	}
	return map[string]any{"$" + string(op): conditionValue(value)}
}

// conditionValue 模型实例按主键比较
func conditionValue(v any) any {
	switch val := v.(type) {
	case *Model:
		if val == nil {
			return nil
		}
		return val.Key()
	case *EmbeddedModel:
		if val == nil {
			return nil
		}
		return val.Model.ToDocument()
	}
	return v
}

// valueList 任意切片统一为 []any；单值视为单元素列表
func valueList(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = conditionValue(val[i])
		}
		return out
	case []*Model:
		out := make([]any, len(val))
		for i := range val {
			out[i] = val[i].Key()
		}
		return out
	case []byte:
		return []any{val}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{conditionValue(v)}
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = conditionValue(rv.Index(i).Interface())
	}
	return out
}

// conditionBuilder where 系列方法的公共实现，QueryBuilder 与 EmbeddedQueryBuilder 共用
type conditionBuilder struct {
	conds []Condition
	err   error
}

func (b *conditionBuilder) add(c Condition) {
	b.conds = append(b.conds, c)
}

// where 解析 2 参数（相等）与 3 参数（操作符）两种形式
func (b *conditionBuilder) where(or, not bool, field string, args []any) {
	var (
		op    = OpEq
		value any
	)
	switch len(args) {
	case 1:
		value = args[0]
	case 2:
		opName, ok := args[0].(string)
		if !ok {
			b.fail(fmt.Errorf("where %s: operator must be a string, got %T", field, args[0]))
			return
		}
		parsed, err := ParseOperator(opName)
		if err != nil {
			b.fail(err)
			return
		}
		op, value = parsed, args[1]
	default:
		b.fail(fmt.Errorf("where %s: expected 1 or 2 arguments after the field, got %d", field, len(args)))
		return
	}
	if value == nil && (op == OpEq || op == OpNe) {
		if op == OpEq {
			op = OpNull
		} else {
			op = OpNotNull
		}
	}
	b.add(Condition{Field: field, Operator: op, Value: value, Or: or, Not: not})
}

func (b *conditionBuilder) fail(err error) {
	if b.err != nil {
		return
	}
	if _, ok := err.(errors.IError); ok {
		b.err = err
		return
	}
	b.err = errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid query condition")
}

func (b *conditionBuilder) clone() conditionBuilder {
	return conditionBuilder{conds: cloneConditions(b.conds), err: b.err}
}
