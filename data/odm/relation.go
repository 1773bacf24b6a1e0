package odm

import (
	"context"
	"fmt"

	"docodm/errors"
	"docodm/naming"
)

// Relation 引用关联句柄，绑定 (所属实例, 关联定义)
//
// 未加载时 Related/RelatedMany/Get 返回空值而不是错误；加载由 Load 或查询的 Load 预加载完成。
// 并发调用 Load 不做去重，各自发起一次查询。
type Relation struct {
	owner *Model
	def   *relationDef

	loaded bool
	one    *Model
	many   []*Model
}

// Kind 关联类型
func (r *Relation) Kind() naming.RelationKind { return r.def.kind }

// Name 关联名
func (r *Relation) Name() string { return r.def.name }

// RelatedMeta 关联模型
func (r *Relation) RelatedMeta() *ModelMeta { return r.def.related }

// IsLoaded 是否已加载
func (r *Relation) IsLoaded() bool { return r.loaded }

// Related 已加载的单个关联实例（hasOne/belongsTo）
func (r *Relation) Related() *Model { return r.one }

// RelatedMany 已加载的关联实例列表（hasMany）
func (r *Relation) RelatedMany() []*Model { return r.many }

// Get 透传读取已加载关联实例的属性；未加载或为空时返回 nil
func (r *Relation) Get(name string) any {
	if r.one == nil {
		return nil
	}
	return r.one.Get(name)
}

func (r *Relation) value() any {
	if r.def.kind == naming.HasMany {
		if r.many == nil {
			return []*Model{}
		}
		return r.many
	}
	if r.one == nil {
		return nil
	}
	return r.one
}

func (r *Relation) setOne(m *Model) {
	r.one, r.many, r.loaded = m, nil, true
}

func (r *Relation) setMany(list []*Model) {
	r.one, r.many, r.loaded = nil, list, true
}

// ownerKey 所属实例上的本地键值
func (r *Relation) ownerKey() any {
	return r.owner.attributes[r.def.localKey]
}

func (r *Relation) ownerScope() (scope, error) {
	if r.owner.db == nil {
		return scope{}, errors.NewConnectionError("default",
			fmt.Sprintf("model %s is not bound to a database", r.owner.meta.name))
	}
	return scope{db: r.owner.db, tx: r.owner.tx}, nil
}

func (r *Relation) requireKind(op string, kinds ...naming.RelationKind) error {
	for _, k := range kinds {
		if r.def.kind == k {
			return nil
		}
	}
	return errors.NewRelationshipError(r.owner.meta.name, r.def.name,
		fmt.Sprintf("%s is not supported on %s relationship %s", op, r.def.kind, r.def.name))
}

// Query 关联查询：hasOne/hasMany 为 related.foreignKey = owner.localKey，belongsTo 反之
func (r *Relation) Query() (*QueryBuilder, error) {
	s, err := r.ownerScope()
	if err != nil {
		return nil, err
	}
	return s.Query(r.def.related).Where(r.def.foreignKey, r.ownerKey()), nil
}

// Load 按需加载并缓存结果
func (r *Relation) Load(ctx context.Context) error {
	key := r.ownerKey()
	if key == nil {
		if r.def.kind == naming.BelongsTo {
			r.setOne(nil)
			return nil
		}
		return errors.NewRelationshipError(r.owner.meta.name, r.def.name,
			fmt.Sprintf("cannot load %s: %s.%s is empty", r.def.name, r.owner.meta.name, r.def.localKey))
	}
	q, err := r.Query()
	if err != nil {
		return err
	}
	if r.def.kind == naming.HasMany {
		list, err := q.All(ctx)
		if err != nil {
			return err
		}
		r.setMany(list)
		return nil
	}
	m, err := q.First(ctx)
	if err != nil {
		return err
	}
	r.setOne(m)
	return nil
}

// Create 构造关联实例（外键预置为所属实例的本地键）并保存
func (r *Relation) Create(ctx context.Context, attrs map[string]any) (*Model, error) {
	if err := r.requireKind("create", naming.HasOne, naming.HasMany); err != nil {
		return nil, err
	}
	s, err := r.ownerScope()
	if err != nil {
		return nil, err
	}
	m := s.New(r.def.related, attrs)
	if err := r.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMany 批量创建关联实例
func (r *Relation) CreateMany(ctx context.Context, attrs []map[string]any) ([]*Model, error) {
	out := make([]*Model, 0, len(attrs))
	for _, a := range attrs {
		m, err := r.Create(ctx, a)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Save 设置外键并保存关联实例；已加载时同步更新缓存结果
func (r *Relation) Save(ctx context.Context, m *Model) error {
	if err := r.requireKind("save", naming.HasOne, naming.HasMany); err != nil {
		return err
	}
	key := r.ownerKey()
	if key == nil {
		return errors.NewRelationshipError(r.owner.meta.name, r.def.name,
			fmt.Sprintf("cannot save %s: %s.%s is empty", r.def.name, r.owner.meta.name, r.def.localKey))
	}
	if m.tx == nil && r.owner.tx != nil {
		m.UseTransaction(r.owner.tx)
	}
	if m.db == nil {
		m.db = r.owner.db
	}
	m.Set(r.def.foreignKey, key)
	if err := m.Save(ctx); err != nil {
		return err
	}
	if r.loaded {
		if r.def.kind == naming.HasMany {
			if !containsModel(r.many, m) {
				r.many = append(r.many, m)
			}
		} else {
			r.one = m
		}
	}
	return nil
}

// SaveMany 依次保存多个关联实例
func (r *Relation) SaveMany(ctx context.Context, models ...*Model) error {
	for _, m := range models {
		if err := r.Save(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Associate 把所属实例的外键指向 related 并保存所属实例（belongsTo）
func (r *Relation) Associate(ctx context.Context, related *Model) error {
	if err := r.requireKind("associate", naming.BelongsTo); err != nil {
		return err
	}
	if related == nil {
		return r.Dissociate(ctx)
	}
	key := related.attributes[r.def.foreignKey]
	if key == nil {
		return errors.NewRelationshipError(r.owner.meta.name, r.def.name,
			fmt.Sprintf("cannot associate unsaved %s", related.meta.name))
	}
	r.owner.Set(r.def.localKey, key)
	if err := r.owner.Save(ctx); err != nil {
		return err
	}
	r.setOne(related)
	return nil
}

// Dissociate 清空所属实例的外键并保存（belongsTo）
func (r *Relation) Dissociate(ctx context.Context) error {
	if err := r.requireKind("dissociate", naming.BelongsTo); err != nil {
		return err
	}
	r.owner.Set(r.def.localKey, nil)
	if err := r.owner.Save(ctx); err != nil {
		return err
	}
	r.setOne(nil)
	return nil
}

func containsModel(list []*Model, m *Model) bool {
	for _, item := range list {
		if item == m {
			return true
		}
	}
	return false
}
