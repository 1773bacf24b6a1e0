package messaging

import (
	"github.com/google/uuid"
)

// ChangeOp 文档变更类型
type ChangeOp string

const (
	OpCreated ChangeOp = "created"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
)

// ChangeEvent 文档变更事件负载
//
// Changes 为写入存储的字段（存储命名）；删除事件为空。
type ChangeEvent struct {
	Model      string         `json:"model"`
	Collection string         `json:"collection"`
	Op         ChangeOp       `json:"op"`
	Key        any            `json:"key"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// EventType 事件路由键：<collection>.<op>
func EventType(collection string, op ChangeOp) string {
	return collection + "." + string(op)
}

// NewChangeEvent 构造变更事件消息
func NewChangeEvent(model, collection string, op ChangeOp, key any, changes map[string]any) *Message {
	msg := NewMessage(uuid.NewString(), EventType(collection, op), ChangeEvent{
		Model:      model,
		Collection: collection,
		Op:         op,
		Key:        key,
		Changes:    changes,
	})
	msg.SetMetadata("model", model)
	return msg
}

// DecodeChangeEvent 从消息负载还原变更事件；负载经过 JSON 传输后为 map
func DecodeChangeEvent(msg IMessage) (ChangeEvent, bool) {
	switch p := msg.GetPayload().(type) {
	case ChangeEvent:
		return p, true
	case *ChangeEvent:
		return *p, p != nil
	case map[string]any:
		ev := ChangeEvent{Key: p["key"]}
		ev.Model, _ = p["model"].(string)
		ev.Collection, _ = p["collection"].(string)
		op, _ := p["op"].(string)
		ev.Op = ChangeOp(op)
		ev.Changes, _ = p["changes"].(map[string]any)
		return ev, ev.Collection != ""
	}
	return ChangeEvent{}, false
}
