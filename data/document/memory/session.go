package memory

import (
	"context"
	stdErrors "errors"
	"sync"

	"docodm/data/document"
	"docodm/errors"
)

// ErrWriteConflict 事务提交时集合已被其他写入修改
var ErrWriteConflict = stdErrors.New("write conflict")

type sessionKey struct{}

// sessionFrom 取出 ctx 绑定且处于事务中的会话（仅限同一客户端）
func sessionFrom(ctx context.Context, c *Client) *Session {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || sess.client != c {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active {
		return nil
	}
	return sess
}

type workingTable struct {
	docs    []map[string]any
	base    uint64
	touched bool
}

// Session 内存会话；事务内读写作用于工作副本，提交时按集合整体替换
type Session struct {
	id     string
	client *Client

	mu      sync.Mutex
	active  bool
	ended   bool
	working map[string]*workingTable
}

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// StartTransaction 开启事务
func (s *Session) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.NewError(errors.ErrCodeDatabase, "session has ended")
	}
	if s.active {
		return errors.NewError(errors.ErrCodeDatabase, "transaction already in progress")
	}
	s.active = true
	s.working = make(map[string]*workingTable)
	return nil
}

// CommitTransaction 提交事务；集合在事务期间被外部修改时返回可重试的写冲突错误
func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return errors.NewError(errors.ErrCodeDatabase, "no transaction in progress")
	}

	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, w := range s.working {
		if !w.touched {
			continue
		}
		if c.table(name).version != w.base {
			s.active = false
			s.working = nil
			return &document.TransientError{Err: ErrWriteConflict}
		}
	}
	for name, w := range s.working {
		if !w.touched {
			continue
		}
		t := c.table(name)
		t.docs = w.docs
		t.version++
	}
	s.active = false
	s.working = nil
	return nil
}

// AbortTransaction 丢弃工作副本
func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.working = nil
	return nil
}

// EndSession 结束会话，未提交的事务被丢弃
func (s *Session) EndSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.ended = true
	s.working = nil
}

// WithTransaction 托管事务
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts *document.TxOptions) error {
	return document.RunWithRetry(ctx, s, fn, opts)
}

// Bind 返回绑定本会话的 ctx
func (s *Session) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// workingLocked 返回集合的工作副本，首次访问时从已提交数据复制；调用方持有 s.mu
func (s *Session) workingLocked(name string) *workingTable {
	if w, ok := s.working[name]; ok {
		return w
	}
	c := s.client
	c.mu.RLock()
	var w workingTable
	if t, ok := c.tables[name]; ok {
		w.docs = append([]map[string]any(nil), t.docs...)
		w.base = t.version
	}
	c.mu.RUnlock()
	s.working[name] = &w
	return &w
}

func (s *Session) view(name string, fn func(docs []map[string]any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.workingLocked(name).docs)
}

func (s *Session) mutate(name string, fn func(docs []map[string]any) ([]map[string]any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.workingLocked(name)
	docs, err := fn(w.docs)
	if err != nil {
		return err
	}
	w.docs = docs
	w.touched = true
	return nil
}
