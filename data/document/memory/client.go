// Package memory 进程内文档存储驱动
//
// 主要用于测试与本地开发：
//   - 集合数据保存在内存中，读写均返回深拷贝
//   - 会话事务基于快照实现，提交时检测写冲突并返回可重试错误
//   - 过滤、排序、投影复用 filter 包，语义与 MongoDB 保持一致
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"docodm/data/document"
	"docodm/errors"
)

func init() {
	document.Register(document.DriverMemory, func(ctx context.Context, cfg document.ConnectionConfig) (document.IClient, error) {
		return NewClient(), nil
	})
}

type table struct {
	docs    []map[string]any
	version uint64
}

// Client 内存存储客户端，可并发使用
type Client struct {
	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

// NewClient 创建空的内存存储
func NewClient() *Client {
	return &Client{tables: make(map[string]*table)}
}

// Driver 返回驱动名
func (c *Client) Driver() string { return document.DriverMemory }

// Collection 返回集合句柄
func (c *Client) Collection(name string) document.ICollection {
	return &Collection{client: c, name: name}
}

// StartSession 开启会话
func (c *Client) StartSession(ctx context.Context) (document.ISession, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &Session{id: uuid.NewString(), client: c}, nil
}

// Ping 检查连接
func (c *Client) Ping(ctx context.Context) error { return c.checkOpen() }

// Close 关闭客户端，之后的操作返回连接错误
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.NewConnectionError(document.DriverMemory, "client is closed")
	}
	return nil
}

// Reset 清空全部集合（测试辅助）
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]*table)
}

func (c *Client) table(name string) *table {
	t, ok := c.tables[name]
	if !ok {
		t = &table{}
		c.tables[name] = t
	}
	return t
}

// view 读取集合当前可见的文档：会话事务中读取事务工作副本
func (c *Client) view(ctx context.Context, name string, fn func(docs []map[string]any) error) error {
	if sess := sessionFrom(ctx, c); sess != nil {
		return sess.view(name, fn)
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []map[string]any
	if t, ok := c.tables[name]; ok {
		docs = t.docs
	}
	return fn(docs)
}

// mutate 修改集合：会话事务中只修改工作副本
func (c *Client) mutate(ctx context.Context, name string, fn func(docs []map[string]any) ([]map[string]any, error)) error {
	if sess := sessionFrom(ctx, c); sess != nil {
		return sess.mutate(name, fn)
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.table(name)
	docs, err := fn(t.docs)
	if err != nil {
		return err
	}
	t.docs = docs
	t.version++
	return nil
}
