// Package sync 同步传输：Publish 在调用方 goroutine 中依次执行匹配的处理器
//
// 适用于测试与单进程部署，事件在写操作返回前已被处理。
package sync

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"

	"docodm/errors"
	"docodm/messaging"
)

// Transport 同步内存传输
type Transport struct {
	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	running  bool
}

// NewTransport 创建同步传输
func NewTransport() *Transport {
	return &Transport{handlers: make(map[string][]messaging.IMessageHandler)}
}

// Publish 同步分发消息；无订阅者不是错误
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return errors.NewError(errors.ErrCodeQueue, "sync transport is not running")
	}
	handlers := messaging.MatchHandlers(t.handlers, message.GetType())
	t.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Type(), err))
		}
	}
	if len(errs) > 0 {
		return errors.WrapError(stdErrors.Join(errs...), errors.ErrCodeQueue,
			fmt.Sprintf("message %s handled with %d errors", message.GetID(), len(errs)))
	}
	return nil
}

// PublishAll 依次发布，遇错停止
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, m := range messages {
		if err := t.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 订阅消息类型
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
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

// Start 启动
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.NewError(errors.ErrCodeQueue, "sync transport is already running")
	}
	t.running = true
	return nil
}

// Close 停止；重复关闭无副作用
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
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
