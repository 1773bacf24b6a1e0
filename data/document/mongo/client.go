// Package mongo 基于官方 MongoDB 驱动的文档存储实现
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"docodm/data/document"
	"docodm/errors"
	"docodm/logging"
)

func init() {
	document.Register(document.DriverMongo, func(ctx context.Context, cfg document.ConnectionConfig) (document.IClient, error) {
		return Connect(ctx, cfg)
	})
}

// Client MongoDB 客户端封装；*mongo.Client 自带连接池，可在进程内共享
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	logger   logging.Logger
}

// ClientOptions 由连接配置生成驱动选项
func ClientOptions(cfg document.ConnectionConfig) *mopt.ClientOptions {
	opts := mopt.Client().ApplyURI(cfg.URI())
	if cfg.Pool.MaxSize > 0 {
		opts.SetMaxPoolSize(cfg.Pool.MaxSize)
	}
	if cfg.Pool.MinSize > 0 {
		opts.SetMinPoolSize(cfg.Pool.MinSize)
	}
	if cfg.Pool.MaxIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.Pool.MaxIdleTime)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.SocketTimeout > 0 {
		opts.SetSocketTimeout(cfg.SocketTimeout)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	return opts
}

// Connect 建立连接并 Ping 主节点
func Connect(ctx context.Context, cfg document.ConnectionConfig) (*Client, error) {
	opts := ClientOptions(cfg)
	if err := opts.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "invalid mongodb options")
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return NewClient(client, cfg.DatabaseName()), nil
}

// NewClient 包装已建立的 *mongo.Client
func NewClient(client *mongo.Client, database string) *Client {
	return &Client{
		client:   client,
		database: client.Database(database),
		logger:   logging.Component("document.mongo").WithFields(logging.String("database", database)),
	}
}

// Driver 返回驱动名
func (c *Client) Driver() string { return document.DriverMongo }

// Collection 返回集合句柄
func (c *Client) Collection(name string) document.ICollection {
	return &Collection{coll: c.database.Collection(name)}
}

// StartSession 开启会话
func (c *Client) StartSession(ctx context.Context) (document.ISession, error) {
	sess, err := c.client.StartSession()
	if err != nil {
		return nil, mapError(err)
	}
	return &Session{sess: sess}, nil
}

// Ping 检查连接
func (c *Client) Ping(ctx context.Context) error {
	return mapError(c.client.Ping(ctx, readpref.Primary()))
}

// Close 断开连接
func (c *Client) Close(ctx context.Context) error {
	c.logger.Debug(ctx, "断开 MongoDB 连接")
	return c.client.Disconnect(ctx)
}

// Raw 返回底层 *mongo.Database（索引管理等 ODM 之外的操作）
func (c *Client) Raw() *mongo.Database { return c.database }
