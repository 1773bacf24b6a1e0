package cache

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/data/document"
	"docodm/errors"
)

func TestLocal_Documents(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(10, 0)

	doc := document.Document{"_id": "u1", "name": "Alice", "address": map[string]any{"city": "Paris"}}
	require.NoError(t, c.Set(ctx, "users", "u1", doc))

	// 写入后修改原文档不影响缓存
	doc["name"] = "Mallory"

	got, ok, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", got["name"])

	// 读取结果归调用方所有
	got["address"].(map[string]any)["city"] = "Berlin"
	again, _, _ := c.Get(ctx, "users", "u1")
	assert.Equal(t, "Paris", again["address"].(map[string]any)["city"])

	require.NoError(t, c.Set(ctx, "posts", "u1", document.Document{"_id": "u1"}))
	require.NoError(t, c.Clear(ctx, "users"))

	_, ok, _ = c.Get(ctx, "users", "u1")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "posts", "u1")
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "posts", "u1"))
	_, ok, _ = c.Get(ctx, "posts", "u1")
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "users:42", Key("users", int64(42)))
	assert.Equal(t, "users:abc", Key("users", "abc"))
}

// fakeRedis 内存实现的 redisClient
type fakeRedis struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   map[string]map[string]bool
	ttls   map[string]time.Duration
	fail   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]bool),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redis.NewStringResult("", f.fail)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedis_Documents(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	c := newRedisWithClient(fake, RedisConfig{TTL: time.Minute})

	born := time.Date(1990, 5, 17, 8, 30, 0, 0, time.UTC)
	require.NoError(t, c.Set(ctx, "users", "u1", document.Document{
		"_id":     "u1",
		"name":    "Alice",
		"born":    born,
		"tags":    []any{"a", "b"},
		"address": map[string]any{"city": "Paris"},
	}))
	assert.Equal(t, time.Minute, fake.ttls["docodm:users:u1"])
	assert.True(t, fake.sets["docodm:idx:users"]["docodm:users:u1"])

	got, ok, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, born, got["born"])
	assert.Equal(t, []any{"a", "b"}, got["tags"])
	assert.Equal(t, map[string]any{"city": "Paris"}, got["address"])

	_, ok, err = c.Get(ctx, "users", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "users", "u2", document.Document{"_id": "u2"}))
	require.NoError(t, c.Clear(ctx, "users"))
	assert.Empty(t, fake.values)
	assert.Empty(t, fake.sets)
}

func TestRedis_Errors(t *testing.T) {
	fake := newFakeRedis()
	fake.fail = stdErrors.New("connection refused")
	c := newRedisWithClient(fake, RedisConfig{})

	_, _, err := c.Get(context.Background(), "users", "u1")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeCache))
}
