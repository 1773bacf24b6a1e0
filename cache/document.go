package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docodm/data/document"
	"docodm/data/document/filter"
)

// IDocumentCache 按 (集合, 主键) 缓存存储文档
//
// 读取返回的文档归调用方所有，实现必须返回副本。
type IDocumentCache interface {
	Get(ctx context.Context, collection string, key any) (document.Document, bool, error)
	Set(ctx context.Context, collection string, key any, doc document.Document) error
	Delete(ctx context.Context, collection string, key any) error
	Clear(ctx context.Context, collection string) error
}

// Key 缓存键：collection 与主键的规范文本
func Key(collection string, key any) string {
	return collection + ":" + fmt.Sprint(key)
}

// Local 基于 LRU 的进程内文档缓存
type Local struct {
	lru *LRU[string, document.Document]
}

// NewLocal 创建进程内文档缓存
func NewLocal(maxSize int, ttl time.Duration) *Local {
	return NewLocalWithConfig(Config{Name: "documents", MaxSize: maxSize, TTL: ttl})
}

// NewLocalWithConfig 使用完整配置创建进程内文档缓存
func NewLocalWithConfig(cfg Config) *Local {
	return &Local{lru: NewLRU[string, document.Document](cfg)}
}

// Get 读取文档副本
func (l *Local) Get(ctx context.Context, collection string, key any) (document.Document, bool, error) {
	doc, ok := l.lru.Get(Key(collection, key))
	if !ok {
		return nil, false, nil
	}
	return filter.CloneDocument(doc), true, nil
}

// Set 写入文档副本
func (l *Local) Set(ctx context.Context, collection string, key any, doc document.Document) error {
	l.lru.Set(Key(collection, key), filter.CloneDocument(doc))
	return nil
}

// Delete 删除单个文档
func (l *Local) Delete(ctx context.Context, collection string, key any) error {
	l.lru.Delete(Key(collection, key))
	return nil
}

// Clear 删除集合下所有文档
func (l *Local) Clear(ctx context.Context, collection string) error {
	prefix := collection + ":"
	l.lru.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	return nil
}

// Stats 底层 LRU 统计
func (l *Local) Stats() Stats { return l.lru.Stats() }
