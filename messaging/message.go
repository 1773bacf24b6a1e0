// Package messaging 文档变更事件的消息抽象
//
// 持久化层在写入成功后把变更事件交给 IPublisher；传输实现位于 transport 子包。
package messaging

import (
	"time"
)

// IMessage 消息接口
type IMessage interface {
	// GetID 消息 ID
	GetID() string

	// GetType 消息类型，同时作为路由键（例如 "users.created"）
	GetType() string

	GetTimestamp() time.Time

	GetPayload() any

	GetMetadata() map[string]any
}

// Message 消息基础实现
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m *Message) GetID() string { return m.ID }

func (m *Message) GetType() string { return m.Type }

func (m *Message) GetTimestamp() time.Time { return m.Timestamp }

func (m *Message) GetPayload() any { return m.Payload }

// GetMetadata 获取元数据，惰性初始化
func (m *Message) GetMetadata() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value any) {
	m.GetMetadata()[key] = value
}

// NewMessage 创建消息
func NewMessage(id, messageType string, payload any) *Message {
	return &Message{
		ID:        id,
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  make(map[string]any),
	}
}
