package document

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"docodm/errors"
)

// OpenFunc 驱动工厂，根据连接配置建立客户端
type OpenFunc func(ctx context.Context, cfg ConnectionConfig) (IClient, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]OpenFunc)
)

// Register 注册驱动，通常在驱动包的 init 中调用；重复注册会 panic
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("document: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("document: Register called twice for driver " + name)
	}
	drivers[name] = open
}

// Drivers 返回已注册驱动名（排序）
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open 按配置中的驱动名建立客户端
func Open(ctx context.Context, cfg ConnectionConfig) (IClient, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("unknown document driver %q (forgotten import?)", cfg.Driver))
	}
	client, err := open(ctx, cfg)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConnection, "failed to connect").
			WithContext("driver", cfg.Driver)
	}
	return client, nil
}

// IsTransient 判断错误是否为可重试的瞬时事务错误
func IsTransient(err error) bool {
	var te ITransientError
	if stdErrors.As(err, &te) {
		return te.Transient()
	}
	return false
}

// TransientError 内置驱动使用的瞬时错误
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return "transient transaction error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Transient() bool { return true }

// DefaultRetryTimeout 托管事务默认重试时长（与 MongoDB 驱动一致）
const DefaultRetryTimeout = 120 * time.Second

// RunWithRetry 供非 MongoDB 驱动复用的托管事务实现：
// fn 失败回滚；fn 或提交返回瞬时错误时在超时前重试整个事务。
func RunWithRetry(ctx context.Context, sess ISession, fn func(ctx context.Context) error, opts *TxOptions) error {
	timeout := DefaultRetryTimeout
	if opts != nil && opts.RetryTimeout > 0 {
		timeout = opts.RetryTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := sess.StartTransaction(ctx); err != nil {
			return err
		}
		if err := fn(sess.Bind(ctx)); err != nil {
			_ = sess.AbortTransaction(ctx)
			if IsTransient(err) && time.Now().Before(deadline) && ctx.Err() == nil {
				continue
			}
			return err
		}
		if err := sess.CommitTransaction(ctx); err != nil {
			if IsTransient(err) && time.Now().Before(deadline) && ctx.Err() == nil {
				continue
			}
			_ = sess.AbortTransaction(ctx)
			return err
		}
		return nil
	}
}
