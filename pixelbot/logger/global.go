package logger

import (
	"log/slog"
	"time"
)

// LogEconomy logs a balance-affecting operation.
func LogEconomy(op string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "eco"),
		slog.String("op", op),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Operation failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Info("Operation executed", attrs...)
	}
}

// LogSave logs snapshot/backup activity.
func LogSave(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "save")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogSystem logs system events.
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events.
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
