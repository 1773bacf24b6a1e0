package messaging

import (
	"context"
)

// IMessageHandler 消息处理器接口
type IMessageHandler interface {
	Handle(ctx context.Context, message IMessage) error

	// Type 处理器类型（用于日志和调试）
	Type() string
}

// HandlerFunc 函数适配为处理器
type HandlerFunc func(ctx context.Context, message IMessage) error

// Handler 以名称包装处理函数
func Handler(name string, fn HandlerFunc) IMessageHandler {
	return &funcHandler{name: name, fn: fn}
}

type funcHandler struct {
	name string
	fn   HandlerFunc
}

func (h *funcHandler) Handle(ctx context.Context, message IMessage) error { return h.fn(ctx, message) }

func (h *funcHandler) Type() string { return h.name }
