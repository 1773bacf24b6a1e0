package odm

import (
	"context"
	"fmt"
	"time"

	"docodm/cache"
	"docodm/data/document"
	"docodm/errors"
	"docodm/logging"
	"docodm/messaging"
)

// DB ODM 入口：持有注册表与存储连接，模型与查询都从这里（或事务 Tx）构造
type DB struct {
	scope

	registry    *Registry
	client      document.IClient
	connections map[string]document.IClient
	manager     *document.Manager

	logger    logging.Logger
	cache     cache.IDocumentCache
	publisher messaging.IPublisher
	now       func() time.Time
}

// Option DB 选项
type Option func(*DB)

// WithLogger 指定日志器，默认 logging.Component("odm")
func WithLogger(logger logging.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithCache 按主键查找时使用文档缓存，写入成功后失效对应条目
func WithCache(c cache.IDocumentCache) Option {
	return func(db *DB) { db.cache = c }
}

// WithPublisher 写入成功后发布变更事件
func WithPublisher(p messaging.IPublisher) Option {
	return func(db *DB) { db.publisher = p }
}

// WithConnection 注册命名连接，供 Schema.Connection 指定的模型使用
func WithConnection(name string, client document.IClient) Option {
	return func(db *DB) {
		if client != nil {
			db.connections[name] = client
		}
	}
}

// WithClock 替换时间源（自动时间戳）
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// New 基于已建立的客户端创建 DB；客户端的生命周期由调用方管理
func New(client document.IClient, registry *Registry, opts ...Option) *DB {
	if registry == nil {
		registry = NewRegistry()
	}
	db := &DB{
		registry:    registry,
		client:      client,
		connections: make(map[string]document.IClient),
		logger:      logging.Component("odm"),
		now:         time.Now,
	}
	db.scope = scope{db: db}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Open 按配置建立全部命名连接并创建 DB；Close 时关闭这些连接
func Open(ctx context.Context, cfg document.Config, registry *Registry, opts ...Option) (*DB, error) {
	manager, err := document.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	if err := manager.Connect(ctx); err != nil {
		return nil, err
	}
	client, err := manager.Default()
	if err != nil {
		_ = manager.Close(ctx)
		return nil, err
	}

	named := make([]Option, 0, len(manager.Config().Connections)+len(opts))
	for name := range manager.Config().Connections {
		conn, err := manager.Connection(name)
		if err != nil {
			_ = manager.Close(ctx)
			return nil, err
		}
		named = append(named, WithConnection(name, conn))
	}
	db := New(client, registry, append(named, opts...)...)
	db.manager = manager
	db.logger.Info(ctx, "ODM 已连接",
		logging.String("default", manager.Config().Default),
		logging.Int("connections", len(manager.Config().Connections)),
	)
	return db, nil
}

// Close 关闭由 Open 建立的连接
func (db *DB) Close(ctx context.Context) error {
	if db.manager == nil {
		return nil
	}
	return db.manager.Close(ctx)
}

// Registry 模型注册表
func (db *DB) Registry() *Registry { return db.registry }

// Client 默认连接
func (db *DB) Client() document.IClient { return db.client }

// Model 按名称查找已声明的模型
func (db *DB) Model(name string) (*ModelMeta, error) {
	meta, ok := db.registry.Lookup(name)
	if !ok || !meta.defined {
		return nil, errors.NewConfigurationError(fmt.Sprintf("model %s is not defined", name))
	}
	return meta, nil
}

// clientFor 模型所在连接
func (db *DB) clientFor(meta *ModelMeta) (document.IClient, error) {
	if meta.connection == "" {
		if db.client == nil {
			return nil, errors.NewConnectionError("default", "no default connection")
		}
		return db.client, nil
	}
	if c, ok := db.connections[meta.connection]; ok {
		return c, nil
	}
	return nil, errors.NewConnectionError(meta.connection,
		fmt.Sprintf("connection %q used by model %s is not registered", meta.connection, meta.name))
}

// scope 非事务 (tx == nil) 或事务内的操作上下文；DB 与 Tx 共用同一组构造方法
type scope struct {
	db *DB
	tx *Tx
}

// Query 创建查询构建器
func (s scope) Query(meta *ModelMeta) *QueryBuilder {
	return newQueryBuilder(s, meta)
}

// New 构造本地实例，每个属性都经由 Set 写入（相对空快照全部为脏）
func (s scope) New(meta *ModelMeta, attrs map[string]any) *Model {
	m := newModel(meta, s.db, s.tx)
	for name, v := range attrs {
		m.Set(name, v)
	}
	return m
}

// Hydrate 从存储文档构造已持久化实例
func (s scope) Hydrate(meta *ModelMeta, doc document.Document) *Model {
	return newModel(meta, s.db, s.tx).hydrate(doc)
}

// Create 构造并保存实例
func (s scope) Create(ctx context.Context, meta *ModelMeta, attrs map[string]any) (*Model, error) {
	m := s.New(meta, attrs)
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Find 按主键查找，未命中返回 (nil, nil)；事务外优先读取文档缓存
func (s scope) Find(ctx context.Context, meta *ModelMeta, key any) (*Model, error) {
	meta.seal()
	useCache := s.tx == nil && s.db.cache != nil && key != nil
	collection := meta.Collection()
	if useCache {
		doc, ok, err := s.db.cache.Get(ctx, collection, key)
		if err != nil {
			s.db.logger.Warn(ctx, "读取文档缓存失败", logging.Error(err), logging.String("collection", collection))
		} else if ok {
			return s.Hydrate(meta, doc), nil
		}
	}

	m, err := s.Query(meta).Where(meta.PrimaryKey(), key).First(ctx)
	if err != nil || m == nil {
		return m, err
	}
	if useCache {
		if err := s.db.cache.Set(ctx, collection, key, m.ToDocument()); err != nil {
			s.db.logger.Warn(ctx, "写入文档缓存失败", logging.Error(err), logging.String("collection", collection))
		}
	}
	return m, nil
}

// FindOrFail 按主键查找，未命中返回 NOT_FOUND 错误
func (s scope) FindOrFail(ctx context.Context, meta *ModelMeta, key any) (*Model, error) {
	m, err := s.Find(ctx, meta, key)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.NewNotFound(meta.name, meta.PrimaryKey(), key)
	}
	return m, nil
}

// FindBy 按字段相等查找首个实例
func (s scope) FindBy(ctx context.Context, meta *ModelMeta, field string, value any) (*Model, error) {
	return s.Query(meta).Where(field, value).First(ctx)
}

// FindByOrFail 同 FindBy，未命中返回 NOT_FOUND 错误
func (s scope) FindByOrFail(ctx context.Context, meta *ModelMeta, field string, value any) (*Model, error) {
	m, err := s.FindBy(ctx, meta, field, value)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.NewNotFound(meta.name, field, value)
	}
	return m, nil
}

// target 返回模型集合与执行用 ctx（事务内绑定会话）
func (s scope) target(ctx context.Context, meta *ModelMeta) (document.ICollection, context.Context, error) {
	if s.db == nil {
		return nil, ctx, errors.NewConnectionError("default",
			fmt.Sprintf("model %s is not bound to a database", meta.name))
	}
	client, err := s.db.clientFor(meta)
	if err != nil {
		return nil, ctx, err
	}
	if s.tx == nil {
		return client.Collection(meta.Collection()), ctx, nil
	}
	if s.tx.IsDone() {
		return nil, ctx, errors.NewError(errors.ErrCodeConflict, "transaction already finished")
	}
	if client != s.tx.client {
		return nil, ctx, errors.NewConnectionError(meta.connection,
			fmt.Sprintf("model %s uses connection %q which is not part of the transaction", meta.name, meta.connection))
	}
	return client.Collection(meta.Collection()), s.tx.session.Bind(ctx), nil
}

// effect 写入成功后的副作用：缓存失效与变更事件
type effect struct {
	collection string
	key        any
	clear      bool
	event      *messaging.Message
}

// afterWrite 事务外立即执行副作用，事务内推迟到提交之后
func (s scope) afterWrite(ctx context.Context, effects ...effect) {
	if s.tx != nil {
		s.tx.enqueue(effects...)
		return
	}
	s.db.apply(ctx, effects)
}

// apply 执行副作用；失败只记录日志，不影响已成功的写入
func (db *DB) apply(ctx context.Context, effects []effect) {
	for _, e := range effects {
		if db.cache != nil {
			var err error
			if e.clear {
				err = db.cache.Clear(ctx, e.collection)
			} else {
				err = db.cache.Delete(ctx, e.collection, e.key)
			}
			if err != nil {
				db.logger.Warn(ctx, "文档缓存失效失败",
					logging.Error(err),
					logging.String("collection", e.collection),
				)
			}
		}
		if e.event != nil && db.publisher != nil {
			if err := db.publisher.Publish(ctx, e.event); err != nil {
				db.logger.Warn(ctx, "发布变更事件失败",
					logging.Error(err),
					logging.String("type", e.event.GetType()),
					logging.String("id", e.event.GetID()),
				)
			}
		}
	}
}
