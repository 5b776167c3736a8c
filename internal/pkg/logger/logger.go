// Package logger 构造应用统一使用的 slog 日志器。
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 按配置的级别创建文本格式的日志器。
//
// 级别字符串不识别时回退为 info。
func NewDefault(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv})
	return slog.New(handler)
}
