package odm

import (
	"sort"
	"sync"

	"docodm/naming"
)

// Registry 模型元信息注册表
//
// 以对象注入而非全局变量的方式持有元信息，同一进程可以存在多个互不影响的注册表。
type Registry struct {
	naming naming.Strategy

	mu     sync.RWMutex
	models map[string]*ModelMeta
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithNaming 指定命名策略，默认 naming.SnakeCase
func WithNaming(strategy naming.Strategy) RegistryOption {
	return func(r *Registry) {
		if strategy != nil {
			r.naming = strategy
		}
	}
}

// NewRegistry 创建注册表
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		naming: naming.SnakeCase{},
		models: make(map[string]*ModelMeta),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Naming 命名策略
func (r *Registry) Naming() naming.Strategy { return r.naming }

// Metadata 返回模型元信息，首次调用时创建
func (r *Registry) Metadata(name string) *ModelMeta {
	r.mu.RLock()
	meta, ok := r.models[name]
	r.mu.RUnlock()
	if ok {
		return meta
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.models[name]; ok {
		return meta
	}
	meta = newModelMeta(r, name)
	r.models[name] = meta
	return meta
}

// Define 声明模型；可多次调用追加声明，封存后调用会 panic
//
//	users := reg.Define("User", func(s *odm.Schema) {
//	    s.Column("email")
//	    s.HasOne("profile", reg.Ref("Profile"))
//	    s.Timestamps()
//	})
func (r *Registry) Define(name string, fn func(s *Schema)) *ModelMeta {
	meta := r.Metadata(name)
	meta.declMu.Lock()
	defer meta.declMu.Unlock()
	meta.mustMutable()
	meta.defined = true
	if fn != nil {
		fn(&Schema{meta: meta})
	}
	return meta
}

// Lookup 查找已存在的模型元信息
func (r *Registry) Lookup(name string) (*ModelMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.models[name]
	return meta, ok
}

// Models 已声明的模型名（字典序）
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name, meta := range r.models {
		if meta.defined {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Ref 返回延迟解析的模型引用，用于声明尚未定义或相互引用的模型
func (r *Registry) Ref(name string) func() *ModelMeta {
	return func() *ModelMeta { return r.Metadata(name) }
}
