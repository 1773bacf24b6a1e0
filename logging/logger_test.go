package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFormatValue 测试值格式化
func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "字符串", value: "test", want: "test"},
		{name: "错误", value: errors.New("error message"), want: "error message"},
		{name: "整数", value: 123, want: "123"},
		{name: "布尔值", value: true, want: "true"},
		{name: "时长", value: 1500 * time.Millisecond, want: "1.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.value))
		})
	}
}

// TestStdLogger_Levels 测试级别过滤与字段输出
func TestStdLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger("odm").SetOutput(&buf)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "query executed", String("collection", "users"), Int("count", 3))
	logger.Warn(ctx, "slow query", Duration("took", 2*time.Second))

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "[INFO] odm query executed collection=users count=3")
	assert.Contains(t, output, "[WARN] odm slow query took=2s")

	buf.Reset()
	logger.SetLevel(DebugLevel).Debug(ctx, "visible")
	assert.Contains(t, buf.String(), "[DEBUG] odm visible")
}

// TestStdLogger_WithFields 测试派生Logger不影响父级
func TestStdLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewStdLogger("").SetOutput(&buf)
	child := parent.WithFields(String("component", "odm.query"))

	child.Error(context.Background(), "failed", Error(errors.New("boom")))
	parent.Error(context.Background(), "plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[ERROR] failed component=odm.query error=boom", lines[0])
	assert.Equal(t, "[ERROR] plain", lines[1])
}

// TestRecordingLogger 测试记录型Logger
func TestRecordingLogger(t *testing.T) {
	rec := NewRecordingLogger()
	derived := rec.WithFields(String("component", "odm"))

	derived.Warn(context.Background(), "publish failed", String("subject", "users.created"))
	rec.Info(context.Background(), "connected")

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, WarnLevel, entries[0].Level)
	assert.Equal(t, "odm", entries[0].Fields["component"])
	assert.Equal(t, "users.created", entries[0].Fields["subject"])
	assert.Len(t, rec.EntriesAt(InfoLevel), 1)
}

// TestGlobalLogger 测试全局Logger替换
func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	rec := NewRecordingLogger()
	SetLogger(rec)
	Component("odm.test").Info(context.Background(), "hello")

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "odm.test", entries[0].Fields["component"])

	SetLogger(nil)
	assert.IsType(t, &NoopLogger{}, GetLogger())
}
