package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM messages to slog. SQL statements are logged at debug
// level, slow statements and errors at warn level.
type GormLogger struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

// NewGormLogger creates a GORM logger backed by l. A zero slowThreshold
// disables slow query warnings.
func NewGormLogger(l *slog.Logger, slowThreshold time.Duration) *GormLogger {
	if l == nil {
		l = slog.Default()
	}
	return &GormLogger{logger: l.With(slog.String("component", "gorm")), slowThreshold: slowThreshold}
}

// LogMode is a no-op, the level comes from the slog handler.
func (g *GormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return g
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	g.logger.DebugContext(ctx, fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

// Trace logs a finished SQL statement.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.WarnContext(ctx, "query error",
			slog.String("sql", sql),
			slog.Int64("rows_affected", rows),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.Any("error", err))
	case g.slowThreshold > 0 && elapsed > g.slowThreshold:
		g.logger.WarnContext(ctx, "slow query",
			slog.String("sql", sql),
			slog.Int64("rows_affected", rows),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.Duration("threshold", g.slowThreshold))
	default:
		g.logger.DebugContext(ctx, "sql query",
			slog.String("sql", sql),
			slog.Int64("rows_affected", rows),
			slog.Int64("duration_ms", elapsed.Milliseconds()))
	}
}
