// Package redisstreams 基于 Redis Streams 的变更事件传输
//
// 所有事件写入同一条流，消息类型作为字段保存；消费端使用消费组读取并按类型分发，
// 因此通配订阅无需额外的流。
package redisstreams

import (
	"context"
	stdErrors "errors"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"docodm/errors"
	"docodm/logging"
	"docodm/messaging"
)

// client 使用到的 go-redis 命令子集（便于测试替换）
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	Stream       string
	MaxLen       int64 // 近似裁剪长度，0 表示不裁剪
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64
	Logger       logging.Logger

	MinReadBackoff time.Duration // 读取失败最小退避，默认 100ms
	MaxReadBackoff time.Duration // 读取失败最大退避，默认 5s
}

// Transport 实现 messaging.Transport
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	running  bool
	reading  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewTransport 创建 Redis Streams 传输；未提供 Client 时按地址创建
func NewTransport(cfg Config) *Transport {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	t := newTransport(cl, cfg)
	t.ownClient = own
	return t
}

func newTransport(cl client, cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "docodm:events"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "docodm"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("transport.redisstreams")
	}
	return &Transport{
		cfg:      cfg,
		client:   cl,
		logger:   cfg.Logger,
		handlers: make(map[string][]messaging.IMessageHandler),
	}
}

// Publish 追加消息到流
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	values, err := encodeMessage(message)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "encode message failed")
	}
	args := &redis.XAddArgs{Stream: t.cfg.Stream, Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "redis xadd failed").WithContext("type", message.GetType())
	}
	return nil
}

// PublishAll 依次发布
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, m := range messages {
		if err := t.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 订阅；运行中首次订阅时启动读取循环
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	if t.running {
		t.startReaderLocked()
	}
	return nil
}

// Unsubscribe 取消订阅
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	messaging.RemoveHandler(t.handlers, messageType, handler)
	return nil
}

// Start 启动；已有订阅时立即开始消费
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.NewError(errors.ErrCodeQueue, "redis streams transport already running")
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.running = true
	if len(t.handlers) > 0 {
		t.startReaderLocked()
	}
	return nil
}

// Close 停止读取循环；自行创建的客户端一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.running = false
	t.reading = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

// Stats 统计信息
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	types := make([]string, 0, len(t.handlers))
	for mt, hs := range t.handlers {
		count += len(hs)
		types = append(types, mt)
	}
	sort.Strings(types)
	return messaging.TransportStats{Running: t.running, HandlerCount: count, MessageTypes: types}
}

func (t *Transport) startReaderLocked() {
	if t.reading {
		return
	}
	t.reading = true
	t.wg.Add(1)
	go t.readLoop(t.ctx)
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()
	if err := t.ensureGroup(ctx); err != nil {
		t.logger.Warn(ctx, "创建消费组失败", logging.String("stream", t.cfg.Stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{t.cfg.Stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := t.cfg.MinReadBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if stdErrors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn(ctx, "xreadgroup 失败", logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff
		for _, stream := range res {
			for _, entry := range stream.Messages {
				t.consume(ctx, stream.Stream, entry)
			}
		}
	}
}

// consume 分发单条记录；解码失败同样确认，避免毒消息反复投递
func (t *Transport) consume(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeMessage(entry)
	if err != nil {
		t.logger.Warn(ctx, "流记录解码失败", logging.String("entry", entry.ID), logging.Error(err))
	} else {
		t.mu.RLock()
		handlers := messaging.MatchHandlers(t.handlers, msg.Type)
		t.mu.RUnlock()
		for _, h := range handlers {
			if herr := h.Handle(ctx, msg); herr != nil {
				t.logger.Warn(ctx, "变更事件处理失败", logging.Error(herr),
					logging.String("handler", h.Type()), logging.String("type", msg.Type))
			}
		}
	}
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err(); err != nil {
		t.logger.Warn(ctx, "xack 失败", logging.Error(err))
	}
}

func (t *Transport) ensureGroup(ctx context.Context) error {
	err := t.client.XGroupCreateMkStream(ctx, t.cfg.Stream, t.cfg.GroupName, "$").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func encodeMessage(msg messaging.IMessage) (map[string]any, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(msg.GetMetadata())
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"id":        msg.GetID(),
		"type":      msg.GetType(),
		"timestamp": ts.UnixNano(),
		"payload":   string(payload),
		"metadata":  string(metadata),
	}, nil
}

// decodeMessage 还原流记录；Redis 返回的字段均为字符串
func decodeMessage(entry redis.XMessage) (*messaging.Message, error) {
	id, _ := entry.Values["id"].(string)
	msgType, _ := entry.Values["type"].(string)
	payloadRaw, _ := entry.Values["payload"].(string)
	metadataRaw, _ := entry.Values["metadata"].(string)

	var payload any
	if payloadRaw != "" {
		if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
			return nil, err
		}
	}
	metadata := make(map[string]any)
	if metadataRaw != "" && metadataRaw != "null" {
		if err := json.Unmarshal([]byte(metadataRaw), &metadata); err != nil {
			return nil, err
		}
	}

	ts := time.Now()
	switch v := entry.Values["timestamp"].(type) {
	case int64:
		ts = time.Unix(0, v)
	case string:
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts = time.Unix(0, ns)
		}
	}
	if id == "" {
		id = entry.ID
	}
	return &messaging.Message{
		ID:        id,
		Type:      msgType,
		Timestamp: ts.UTC(),
		Payload:   payload,
		Metadata:  metadata,
	}, nil
}
