package document

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"

	"docodm/errors"
	"docodm/logging"
)

// Manager 管理命名连接：每个名称对应一个进程内共享、可并发使用的客户端
type Manager struct {
	cfg     Config
	logger  logging.Logger
	mu      sync.RWMutex
	clients map[string]IClient
}

// NewManager 校验配置并创建连接管理器（不立即建立连接）
func NewManager(cfg Config) (*Manager, error) {
	normalized, err := DefineConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     normalized,
		logger:  logging.Component("document.manager"),
		clients: make(map[string]IClient),
	}, nil
}

// Config 返回规范化后的配置
func (m *Manager) Config() Config { return m.cfg }

// Connect 建立全部连接；任一失败时关闭已建立的连接
func (m *Manager) Connect(ctx context.Context) error {
	names := make([]string, 0, len(m.cfg.Connections))
	for name := range m.cfg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := m.ConnectOne(ctx, name); err != nil {
			_ = m.Close(ctx)
			return err
		}
	}
	return nil
}

// ConnectOne 建立（或复用）指定名称的连接
func (m *Manager) ConnectOne(ctx context.Context, name string) (IClient, error) {
	if name == "" {
		name = m.cfg.Default
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[name]; ok {
		return client, nil
	}
	conn, ok := m.cfg.Connections[name]
	if !ok {
		return nil, errors.NewConnectionError(name, "connection is not defined")
	}
	client, err := Open(ctx, conn)
	if err != nil {
		m.logger.Error(ctx, "连接失败", logging.String("connection", name), logging.Error(err))
		return nil, err
	}
	m.clients[name] = client
	m.logger.Info(ctx, "连接已建立", logging.String("connection", name), logging.String("driver", conn.Driver))
	return client, nil
}

// Use 注入已建立的客户端（测试或自定义驱动）
func (m *Manager) Use(name string, client IClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = client
}

// Connection 返回已连接的客户端；名称为空表示默认连接
func (m *Manager) Connection(name string) (IClient, error) {
	if name == "" {
		name = m.cfg.Default
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[name]
	if !ok {
		if _, defined := m.cfg.Connections[name]; !defined {
			return nil, errors.NewConnectionError(name, "connection is not defined")
		}
		return nil, errors.NewConnectionError(name, fmt.Sprintf("connection %q requested before connect()", name))
	}
	return client, nil
}

// Default 返回默认连接
func (m *Manager) Default() (IClient, error) {
	return m.Connection("")
}

// Close 关闭全部连接
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, client := range m.clients {
		if err := client.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(m.clients, name)
	}
	if len(errs) > 0 {
		return errors.WrapError(stdErrors.Join(errs...), errors.ErrCodeConnection, "failed to close connections")
	}
	return nil
}
