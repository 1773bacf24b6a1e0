package memory

import (
	"context"

	"docodm/errors"
	"docodm/logging"
	"docodm/messaging"
)

// Start 启动 worker 池；关闭后不能再次启动
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.NewError(errors.ErrCodeQueue, "memory transport is already running")
	}
	if t.closed {
		return errors.NewError(errors.ErrCodeQueue, "memory transport is closed")
	}
	t.running = true
	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(context.WithoutCancel(ctx))
	}
	return nil
}

// Close 停止接收新消息，等待队列中已有消息分发完毕；重复关闭无副作用
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Transport) worker(ctx context.Context) {
	defer t.wg.Done()
	for message := range t.queue {
		t.dispatch(ctx, message)
	}
}

// dispatch 依次调用匹配的处理器，错误只记录
func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) {
	t.mu.RLock()
	handlers := messaging.MatchHandlers(t.handlers, message.GetType())
	t.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "消息处理失败",
				logging.String("message_type", message.GetType()),
				logging.String("message_id", message.GetID()),
				logging.String("handler", h.Type()),
				logging.Error(err))
		}
	}
}
