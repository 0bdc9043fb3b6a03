// Package logging sets up the process-wide structured logger and offers a
// small kv-pair helper for a logging::error(msg, {kv(...), kv(...)})
// call-site shape, backed by log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
)

// KV is one structured field.
type KV struct {
	Key   string
	Value any
}

// Field builds a KV pair; call sites read like kv("k", v).
func Field(key string, value any) KV {
	return KV{Key: key, Value: value}
}

// Init installs a JSON slog handler as the process default.
func Init(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// With logs msg at level with the given fields, using the default logger.
func With(level slog.Level, msg string, fields ...KV) {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	slog.Default().Log(context.Background(), level, msg, args...)
}

func Info(msg string, fields ...KV)  { With(slog.LevelInfo, msg, fields...) }
func Warn(msg string, fields ...KV)  { With(slog.LevelWarn, msg, fields...) }
func Error(msg string, fields ...KV) { With(slog.LevelError, msg, fields...) }
func Debug(msg string, fields ...KV) { With(slog.LevelDebug, msg, fields...) }
