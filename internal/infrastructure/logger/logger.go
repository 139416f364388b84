package logger

import (
	"io"
	"log/slog"
	"os"

	"revledger/internal/config"
)

// Init 初始化全局 slog 日志，并设置为默认 logger
func Init(cfg *config.LogConfig) *slog.Logger {
	logger := New(os.Stdout, cfg)
	slog.SetDefault(logger)
	return logger
}

// New 按配置创建 logger；format=json 输出 JSON，其余输出 text
func New(w io.Writer, cfg *config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
