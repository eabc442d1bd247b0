// Package logging 构造 run 过程使用的 slog logger（文本格式，写 stderr）。
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel 解析 debug/info/warn/error；空串为 info。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level 只能是 debug/info/warn/error，实际是 %q", s)
	}
}

// New 返回写入 w 的文本 logger。w 为 nil 时丢弃所有日志。
func New(w io.Writer, level string) (*slog.Logger, error) {
	lv, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return Discard(), nil
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     lv,
		AddSource: lv <= slog.LevelDebug,
	})), nil
}

// Discard 返回不输出任何内容的 logger（测试与未配置日志时使用）。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
