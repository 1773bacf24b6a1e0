// Package natsjetstream 基于 NATS JetStream 的变更事件传输
//
// 消息类型映射为主题 <SubjectPrefix><type>，例如 docodm.user.created；
// 订阅使用持久化队列消费者，处理完成后手动确认。
package natsjetstream

import (
	"context"
	stdErrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"docodm/errors"
	"docodm/logging"
	"docodm/messaging"
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int
	Logger        logging.Logger
	Conn          *nats.Conn

	// Retention workqueue|limits|interest，默认 limits（变更事件可被多个消费组读取）
	Retention string
	MaxAge    time.Duration
	MaxBytes  int64
	Replicas  int
}

// Transport 实现 messaging.Transport
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	subs     map[string]*nats.Subscription
	running  bool
}

// NewTransport 创建 JetStream 传输
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "DOCODM"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "docodm."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "docodm-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("transport.nats")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string][]messaging.IMessageHandler),
		subs:     make(map[string]*nats.Subscription),
	}
}

// Publish 发布消息并等待 JetStream 确认
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js, running := t.js, t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return errors.NewError(errors.ErrCodeQueue, "nats transport not running")
	}
	data, err := messaging.Marshal(message)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "encode message failed")
	}
	if _, err := js.Publish(t.subjectName(message.GetType()), data, nats.Context(ctx), nats.MsgId(message.GetID())); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "nats publish failed").
			WithContext("type", message.GetType())
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

// Subscribe 订阅；运行中立即建立消费者
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	if t.running {
		return t.subscribeLocked(messageType)
	}
	return nil
}

// Unsubscribe 取消订阅；类型下无处理器时排空消费者
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	messaging.RemoveHandler(t.handlers, messageType, handler)
	if len(t.handlers[messageType]) == 0 {
		if sub, ok := t.subs[messageType]; ok {
			_ = sub.Drain()
			delete(t.subs, messageType)
		}
	}
	return nil
}

// Start 建立连接、确保流存在并创建已登记的消费者
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.NewError(errors.ErrCodeQueue, "nats transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return errors.WrapError(err, errors.ErrCodeConnection, "nats connect failed")
	}
	if err := t.ensureStream(); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "ensure stream failed").WithContext("stream", t.cfg.Stream)
	}
	for mt := range t.handlers {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	t.logger.Info(ctx, "nats 传输已启动", logging.String("stream", t.cfg.Stream))
	return nil
}

// Close 排空消费者；自行建立的连接一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for mt, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
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

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("docodm"))
		if err != nil {
			return err
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !stdErrors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = t.js.AddStream(streamConfig(t.cfg))
	return err
}

// streamConfig 由传输配置生成流配置
func streamConfig(cfg Config) *nats.StreamConfig {
	retention := nats.LimitsPolicy
	switch strings.ToLower(cfg.Retention) {
	case "workqueue":
		retention = nats.WorkQueuePolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ">"},
		Retention: retention,
		MaxAge:    cfg.MaxAge,
	}
	if cfg.MaxBytes > 0 {
		sc.MaxBytes = cfg.MaxBytes
	}
	if cfg.Replicas > 0 {
		sc.Replicas = cfg.Replicas
	}
	return sc
}

func (t *Transport) subscribeLocked(messageType string) error {
	if _, ok := t.subs[messageType]; ok {
		return nil
	}
	durable := durableName(t.cfg.DurablePrefix, messageType)
	sub, err := t.js.QueueSubscribe(t.subjectName(messageType), durable, t.handleMessage,
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "nats subscribe failed").WithContext("type", messageType)
	}
	t.subs[messageType] = sub
	return nil
}

func (t *Transport) handleMessage(msg *nats.Msg) {
	ctx := context.Background()
	decoded, err := messaging.Unmarshal(msg.Data)
	if err != nil {
		t.logger.Warn(ctx, "nats 消息解码失败", logging.Error(err), logging.String("subject", msg.Subject))
		_ = msg.Ack()
		return
	}
	if decoded.Type == "" {
		decoded.Type = strings.TrimPrefix(msg.Subject, t.cfg.SubjectPrefix)
	}
	t.mu.RLock()
	handlers := messaging.MatchHandlers(t.handlers, decoded.Type)
	t.mu.RUnlock()
	for _, h := range handlers {
		if err := h.Handle(ctx, decoded); err != nil {
			t.logger.Warn(ctx, "变更事件处理失败", logging.Error(err),
				logging.String("handler", h.Type()), logging.String("type", decoded.Type))
		}
	}
	if err := msg.Ack(); err != nil {
		t.logger.Warn(ctx, "nats ack 失败", logging.Error(err))
	}
}

// subjectName 通配订阅映射为 JetStream 的 ">"
func (t *Transport) subjectName(messageType string) string {
	if messageType == messaging.WildcardType {
		return t.cfg.SubjectPrefix + ">"
	}
	return t.cfg.SubjectPrefix + messageType
}

// durableName 持久消费者名不允许 "." "*" ">"
func durableName(prefix, messageType string) string {
	r := strings.NewReplacer(".", "_", "*", "all", ">", "all")
	return prefix + r.Replace(messageType)
}
