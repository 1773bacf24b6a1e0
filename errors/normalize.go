package errors

import (
	stdErrors "errors"
	"strings"
)

// ErrDocumentNotFound 驱动层在单文档查询未命中时可返回此哨兵错误
var ErrDocumentNotFound = stdErrors.New("document not found")

// ErrDuplicateKey 驱动层在唯一键冲突时可返回（或包装）此哨兵错误
var ErrDuplicateKey = stdErrors.New("duplicate key")

// Normalize 将驱动层错误规范化为 AppError。
//
// 注意：
//   - 如果传入的 err 已经是 IError，则原样返回；
//   - 未识别的错误保持原样，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	if stdErrors.Is(err, ErrDocumentNotFound) {
		return WrapError(err, ErrCodeNotFound, "document not found")
	}

	if stdErrors.Is(err, ErrDuplicateKey) || isDuplicateMessage(err.Error()) {
		return WrapError(err, ErrCodeDuplicate, "duplicate key")
	}

	return err
}

// isDuplicateMessage 兜底识别各驱动的唯一键冲突文本（E11000 / UNIQUE constraint）
func isDuplicateMessage(msg string) bool {
	return strings.Contains(msg, "E11000") || strings.Contains(msg, "UNIQUE constraint failed")
}
