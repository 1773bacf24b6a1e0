package errors

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWrap 测试基本错误包装
func TestWrap(t *testing.T) {
	ctx := context.Background()
	originalErr := errors.New("原始错误")

	wrapped := Wrap(ctx, originalErr, ErrCodeInternal, "包装消息")
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, originalErr))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(wrapped))
}

// TestWrap_NilError 测试包装nil错误
func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(context.Background(), nil, ErrCodeInternal, "消息"))
	assert.Nil(t, WrapDatabaseError(nil, "insert", "User"))
	assert.Nil(t, WrapHookError(nil, "beforeSave", "User"))
}

// TestWrapDatabaseError 测试数据库错误包装携带操作名与模型名
func TestWrapDatabaseError(t *testing.T) {
	original := errors.New("socket closed")

	wrapped := WrapDatabaseError(original, "insert", "User")
	require.Error(t, wrapped)

	assert.True(t, IsErrorCode(wrapped, ErrCodeDatabase))
	assert.True(t, errors.Is(wrapped, original))
	assert.True(t, errors.Is(wrapped, ErrDatabase))

	var appErr *AppError
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "insert", appErr.Details()["operation"])
	assert.Equal(t, "User", appErr.Details()["model"])
	assert.Contains(t, wrapped.Error(), "socket closed")
}

// TestWrapDatabaseError_NoDoubleWrap 测试已分类错误不重复包装
func TestWrapDatabaseError_NoDoubleWrap(t *testing.T) {
	notFound := NewNotFound("User", "_id", 1)
	assert.Same(t, notFound, WrapDatabaseError(notFound, "find", "User"))

	hookErr := WrapHookError(errors.New("boom"), "beforeSave", "User")
	assert.Same(t, hookErr, WrapDatabaseError(hookErr, "save", "User"))

	dbErr := WrapDatabaseError(errors.New("x"), "update", "User")
	assert.Same(t, dbErr, WrapDatabaseError(dbErr, "save", "User"))
}

// TestWrapDatabaseError_Duplicate 测试唯一键冲突映射为 DUPLICATE_ERROR
func TestWrapDatabaseError_Duplicate(t *testing.T) {
	err := WrapDatabaseError(errors.New("E11000 duplicate key error collection"), "insert", "User")
	assert.True(t, IsErrorCode(err, ErrCodeDuplicate))
}

// TestWrapHookError 测试钩子错误
func TestWrapHookError(t *testing.T) {
	original := errors.New("hash failed")
	err := WrapHookError(original, "hashPassword", "User")

	assert.True(t, IsHook(err))
	assert.True(t, errors.Is(err, original))
	assert.Contains(t, err.Error(), "hashPassword")
	assert.Contains(t, err.Error(), "User")

	// 已是钩子错误的原样返回
	assert.Same(t, err, WrapHookError(err, "other", "Post"))
}

// TestNewNotFound 测试未找到错误的文本
func TestNewNotFound(t *testing.T) {
	err := NewNotFound("User", "email", "john@x.com")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "[NOT_FOUND] User not found (key=email model=User value=john@x.com)", err.Error())
}

// TestNormalize 测试驱动错误规范化
func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{name: "未找到", err: ErrDocumentNotFound, code: ErrCodeNotFound},
		{name: "唯一键哨兵", err: ErrDuplicateKey, code: ErrCodeDuplicate},
		{name: "sqlite唯一键", err: errors.New("UNIQUE constraint failed: users.id"), code: ErrCodeDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetErrorCode(Normalize(tt.err)))
		})
	}

	plain := errors.New("plain")
	assert.Same(t, plain, Normalize(plain))
	assert.Nil(t, Normalize(nil))
}

// TestNew 测试带位置的错误
func TestNew(t *testing.T) {
	err := NewValidationError("字段不能为空")
	assert.True(t, IsValidation(err))
	assert.True(t, strings.Contains(err.Error(), "位置"))
}
