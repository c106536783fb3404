package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LOG_LEVEL_ERROR   = "ERROR"
	LOG_LEVEL_WARNING = "WARNING"
	LOG_LEVEL_INFO    = "INFO"
	LOG_LEVEL_DEBUG   = "DEBUG"
)

var logLevels = map[string]slog.Level{
	LOG_LEVEL_ERROR:   slog.LevelError,
	LOG_LEVEL_WARNING: slog.LevelWarn,
	LOG_LEVEL_INFO:    slog.LevelInfo,
	LOG_LEVEL_DEBUG:   slog.LevelDebug,
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

func (c LogConfig) debug() bool {
	return strings.EqualFold(c.Level, LOG_LEVEL_DEBUG)
}

func newLogHandler(w io.Writer, cfg LogConfig) slog.Handler {
	level, ok := logLevels[strings.ToUpper(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func initLogger(cfg LogConfig) {
	slog.SetDefault(slog.New(newLogHandler(os.Stdout, cfg)).With("service", "silo-config-server"))
}
