// Package document 提供文档存储的通用抽象接口
//
// 设计目标：
//  1. 隔离具体的文档存储驱动（MongoDB、SQLite JSON、内存实现）
//  2. 过滤条件统一使用 MongoDB 查询语法的 map 表达，驱动负责翻译或求值
//  3. 会话通过 context 绑定，集合操作自动参与当前事务
//  4. 便于单元测试（内存驱动 + 计数包装）
package document

import (
	"context"
	"time"
)

// Document 存储文档（字段名为存储侧命名）
type Document = map[string]any

// Filter 查询条件，采用 MongoDB 查询语法（$and/$or/$gt/$in ...）
type Filter = map[string]any

// SortField 排序字段
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions 查询选项
type FindOptions struct {
	Sort       []SortField
	Skip       int64
	Limit      int64
	Projection map[string]bool // true 表示包含，false 表示排除
}

// Update 部分更新：Set 写入字段，Unset 删除字段
type Update struct {
	Set   Document
	Unset []string
}

// IsEmpty 判断更新是否为空
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0
}

// IClient 存储客户端
type IClient interface {
	// Driver 返回驱动名（mongodb / sqlite / memory）
	Driver() string
	// Collection 返回集合句柄
	Collection(name string) ICollection
	// StartSession 开启会话
	StartSession(ctx context.Context) (ISession, error)
	// Ping 检查连接
	Ping(ctx context.Context) error
	// Close 关闭连接
	Close(ctx context.Context) error
}

// ICollection 集合句柄，所有操作在 ctx 绑定会话时参与该会话事务
type ICollection interface {
	Name() string

	InsertOne(ctx context.Context, doc Document) (any, error)
	UpdateOne(ctx context.Context, filter Filter, update Update) (int64, error)
	UpdateMany(ctx context.Context, filter Filter, update Update) (int64, error)
	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)

	// Find 返回全部匹配文档
	Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error)
	// FindOne 未命中时返回 (nil, nil)
	FindOne(ctx context.Context, filter Filter, opts *FindOptions) (Document, error)
	CountDocuments(ctx context.Context, filter Filter) (int64, error)
	Distinct(ctx context.Context, field string, filter Filter) ([]any, error)
}

// TxOptions 托管事务选项
type TxOptions struct {
	// MaxCommitTime 提交超时（驱动支持时生效）
	MaxCommitTime time.Duration
	// RetryTimeout 瞬时错误重试的总时长，0 表示使用驱动默认值
	RetryTimeout time.Duration
}

// ISession 存储会话
type ISession interface {
	ID() string
	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)

	// WithTransaction 托管事务：fn 返回错误时回滚；瞬时错误自动重试
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts *TxOptions) error

	// Bind 返回绑定了本会话的 ctx，集合操作通过它参与事务
	Bind(ctx context.Context) context.Context
}

// ITransientError 可选接口：驱动通过它标记可重试的瞬时事务错误
type ITransientError interface {
	Transient() bool
}
