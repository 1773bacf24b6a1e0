package cache

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"docodm/data/document"
	"docodm/data/document/mongo"
	"docodm/errors"
)

// redisClient 使用到的 go-redis 命令子集（便于测试替换）
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// RedisConfig Redis 文档缓存配置
type RedisConfig struct {
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	// Prefix 键前缀，默认 "docodm:"
	Prefix string
	// TTL 条目过期时间，0 表示不过期
	TTL time.Duration
}

// Redis 基于 Redis 的文档缓存
//
// 文档以 BSON 编码存储，保留日期与数值类型；每个集合维护一个键索引集合用于 Clear。
type Redis struct {
	cfg       RedisConfig
	client    redisClient
	ownClient bool
}

// NewRedis 创建 Redis 文档缓存；未提供 Client 时按地址创建并在 Close 时关闭
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "docodm:"
	}
	r := &Redis{cfg: cfg}
	if cfg.Client != nil {
		r.client = cfg.Client
	} else {
		r.client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		r.ownClient = true
	}
	return r
}

func newRedisWithClient(cl redisClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "docodm:"
	}
	return &Redis{cfg: cfg, client: cl}
}

func (r *Redis) entryKey(collection string, key any) string {
	return r.cfg.Prefix + Key(collection, key)
}

func (r *Redis) indexKey(collection string) string {
	return r.cfg.Prefix + "idx:" + collection
}

// Get 读取文档；未命中返回 (nil, false, nil)
func (r *Redis) Get(ctx context.Context, collection string, key any) (document.Document, bool, error) {
	raw, err := r.client.Get(ctx, r.entryKey(collection, key)).Bytes()
	if stdErrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapError(err, errors.ErrCodeCache, "redis get failed")
	}
	var doc map[string]any
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, false, errors.WrapError(err, errors.ErrCodeCache, "decode cached document failed")
	}
	return mongo.NormalizeDocument(doc), true, nil
}

// Set 写入文档并登记到集合索引
func (r *Redis) Set(ctx context.Context, collection string, key any, doc document.Document) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "encode document failed")
	}
	k := r.entryKey(collection, key)
	if err := r.client.Set(ctx, k, raw, r.cfg.TTL).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "redis set failed")
	}
	if err := r.client.SAdd(ctx, r.indexKey(collection), k).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "redis sadd failed")
	}
	return nil
}

// Delete 删除单个文档
func (r *Redis) Delete(ctx context.Context, collection string, key any) error {
	if err := r.client.Del(ctx, r.entryKey(collection, key)).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "redis del failed")
	}
	return nil
}

// Clear 删除集合索引登记的全部键以及索引本身
func (r *Redis) Clear(ctx context.Context, collection string) error {
	idx := r.indexKey(collection)
	keys, err := r.client.SMembers(ctx, idx).Result()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		return errors.WrapError(err, errors.ErrCodeCache, "redis smembers failed")
	}
	keys = append(keys, idx)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "redis del failed")
	}
	return nil
}

// Close 关闭自行创建的客户端
func (r *Redis) Close() error {
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
