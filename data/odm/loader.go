package odm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"docodm/data/document/filter"
	"docodm/naming"
)

// loadRelations 批量加载：每个关联只发起一次 whereIn 查询，再按键在内存中回填到各个实例
//
// 即使没有根实例（或键全部为空）也照常发起这一次查询，保证往返次数与结果集大小无关。
func loadRelations(ctx context.Context, s scope, meta *ModelMeta, models []*Model, loads []loadSpec) error {
	for _, spec := range loads {
		def, err := meta.relation(spec.name)
		if err != nil {
			return err
		}

		var (
			keys []any
			seen = make(map[string]bool)
		)
		for _, m := range models {
			v := m.attributes[def.localKey]
			if v == nil {
				continue
			}
			k := keyString(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, v)
		}
		if keys == nil {
			keys = []any{}
		}

		sub := s.Query(def.related).WhereIn(def.foreignKey, keys)
		for _, cb := range spec.callbacks {
			cb(sub)
		}
		related, err := sub.All(ctx)
		if err != nil {
			return err
		}

		grouped := make(map[string][]*Model, len(related))
		for _, r := range related {
			k := keyString(r.attributes[def.foreignKey])
			grouped[k] = append(grouped[k], r)
		}
		for _, m := range models {
			rel := m.Relation(spec.name)
			v := m.attributes[def.localKey]
			var matches []*Model
			if v != nil {
				matches = grouped[keyString(v)]
			}
			if def.kind == naming.HasMany {
				rel.setMany(append([]*Model{}, matches...))
				continue
			}
			if len(matches) > 0 {
				rel.setOne(matches[0])
			} else {
				rel.setOne(nil)
			}
		}
	}
	return nil
}

// keyString 键的规范文本形式：数值跨类型一致，时间按时刻
func keyString(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + val
	case time.Time:
		return "t:" + strconv.FormatInt(val.UnixNano(), 10)
	}
	if f, ok := filter.ToFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
