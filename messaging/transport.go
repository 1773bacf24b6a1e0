package messaging

import (
	"context"
)

// IPublisher 发布端接口；持久化层只依赖它
type IPublisher interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
}

// Transport 消息传输接口
type Transport interface {
	IPublisher
	// Subscribe 订阅消息类型；"*" 订阅全部
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
}

// WildcardType 订阅全部消息类型
const WildcardType = "*"

// MatchHandlers 合并精确订阅与通配订阅的处理器
func MatchHandlers(handlers map[string][]IMessageHandler, messageType string) []IMessageHandler {
	exact := handlers[messageType]
	wildcard := handlers[WildcardType]
	out := make([]IMessageHandler, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

// RemoveHandler 从处理器列表中移除指定处理器，返回是否找到
func RemoveHandler(handlers map[string][]IMessageHandler, messageType string, handler IMessageHandler) bool {
	list := handlers[messageType]
	for i, h := range list {
		if h == handler {
			handlers[messageType] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}
