package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"runtime"

	"docodm/logging"
)

// Wrap 包装错误，添加错误码和上下文信息
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)
	wrapped := WrapError(err, code, msg)

	// 避免重复记录，使用Debug级别
	logging.GetLogger().Debug(ctx, fmt.Sprintf("错误包装: %s (位置: %s:%d)", msg, file, line))

	return wrapped
}

// NewNotFound 创建 ...OrFail 查询未命中的错误，携带模型名与查找键
func NewNotFound(model, key string, value any) error {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s not found", model)).
		WithDetails(map[string]any{"model": model, "key": key, "value": value})
}

// NewRelationshipError 创建关联配置错误
func NewRelationshipError(model, relation, msg string) error {
	return NewError(ErrCodeRelationship, msg).
		WithDetails(map[string]any{"model": model, "relation": relation})
}

// WrapDatabaseError 包装存储层错误，附加操作名与模型名；不记录日志，由调用方按自身 Logger 记录
//
// 注意：
//   - 已是 NotFound / Hook 错误的原样返回，不重复包装；
//   - 已是 DATABASE_ERROR 的也原样返回，避免多层嵌套同一上下文。
func WrapDatabaseError(err error, operation, model string) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsHook(err) || IsErrorCode(err, ErrCodeDatabase) {
		return err
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, ErrCodeTimeout, fmt.Sprintf("%s %s interrupted", model, operation)).
			WithDetails(map[string]any{"operation": operation, "model": model})
	}

	code := ErrCodeDatabase
	if IsErrorCode(Normalize(err), ErrCodeDuplicate) {
		code = ErrCodeDuplicate
	}
	return WrapError(err, code, fmt.Sprintf("database operation failed: %s", operation)).
		WithDetails(map[string]any{"operation": operation, "model": model})
}

// WrapHookError 包装钩子执行错误，携带钩子名与模型名
func WrapHookError(err error, hook, model string) error {
	if err == nil {
		return nil
	}
	if IsHook(err) || IsNotFound(err) {
		return err
	}
	return WrapError(err, ErrCodeHook, fmt.Sprintf("hook %s failed on %s", hook, model)).
		WithDetails(map[string]any{"hook": hook, "model": model})
}

// New 创建新错误（带调用位置）
func New(code ErrorCode, msg string) error {
	_, file, line, _ := runtime.Caller(1)
	enhancedMsg := fmt.Sprintf("%s (位置: %s:%d)", msg, file, line)
	return NewError(code, enhancedMsg)
}

// NewValidationError 创建新的验证错误
func NewValidationError(msg string) error {
	return New(ErrCodeValidation, msg)
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(msg string) error {
	return NewError(ErrCodeConfiguration, msg)
}

// NewConnectionError 创建连接错误
func NewConnectionError(name, msg string) error {
	return NewError(ErrCodeConnection, msg).WithContext("connection", name)
}
