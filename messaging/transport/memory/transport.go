// Package memory 异步内存传输：Publish 只入队，由 worker 池并发分发给处理器
//
// 处理器错误只记录日志，不回传给发布方；适用于单进程内的变更事件消费。
package memory

import (
	"context"
	"sort"
	"sync"

	"docodm/errors"
	"docodm/logging"
	"docodm/messaging"
)

const (
	defaultQueueSize   = 1000
	defaultWorkerCount = 4
)

// Transport 基于有界队列的异步传输
type Transport struct {
	mu          sync.RWMutex
	handlers    map[string][]messaging.IMessageHandler
	queue       chan messaging.IMessage
	workerCount int
	running     bool
	closed      bool
	wg          sync.WaitGroup
	logger      logging.Logger
}

// NewTransport 创建异步传输；非正参数使用默认值
func NewTransport(queueSize, workerCount int) *Transport {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	return &Transport{
		handlers:    make(map[string][]messaging.IMessageHandler),
		queue:       make(chan messaging.IMessage, queueSize),
		workerCount: workerCount,
		logger:      logging.Component("messaging.memory"),
	}
}

// WithLogger 替换日志记录器
func (t *Transport) WithLogger(logger logging.Logger) *Transport {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// Publish 入队；队列已满时立即返回 QUEUE 错误
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.running {
		return errors.NewError(errors.ErrCodeQueue, "memory transport is not running")
	}
	return t.enqueue(ctx, message)
}

// PublishAll 按顺序入队，遇错停止
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	if len(messages) == 0 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.running {
		return errors.NewError(errors.ErrCodeQueue, "memory transport is not running")
	}
	for _, m := range messages {
		if err := t.enqueue(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// enqueue 调用方持有读锁，保证 Close 不会在发送期间关闭队列
func (t *Transport) enqueue(ctx context.Context, message messaging.IMessage) error {
	select {
	case t.queue <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.NewError(errors.ErrCodeQueue, "message queue is full").
			WithContext("message_id", message.GetID())
	}
}

// Subscribe 订阅消息类型；"*" 订阅全部
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	if handler == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "handler is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	return nil
}

// Unsubscribe 取消订阅
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !messaging.RemoveHandler(t.handlers, messageType, handler) {
		return errors.NewError(errors.ErrCodeNotFound, "handler not found for message type "+messageType)
	}
	return nil
}

// Stats 统计信息，消息类型按字典序
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	types := make([]string, 0, len(t.handlers))
	for mt, hs := range t.handlers {
		types = append(types, mt)
		count += len(hs)
	}
	sort.Strings(types)
	return messaging.TransportStats{Running: t.running, HandlerCount: count, MessageTypes: types}
}

// Pending 队列中尚未分发的消息数
func (t *Transport) Pending() int { return len(t.queue) }
