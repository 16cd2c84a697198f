package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowSQL = 200 * time.Millisecond

// SQLLogConfig configures the GORM adapter for one store
type SQLLogConfig struct {
	Store         string
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// SQLLogger routes GORM output through zap. Statements are logged with the
// store name and whatever identifiers L finds in the query context.
type SQLLogger struct {
	base  *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

// NewSQLLogger returns a GORM logger for cfg.Store
func NewSQLLogger(base *zap.Logger, cfg SQLLogConfig) *SQLLogger {
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowSQL
	}
	return &SQLLogger{
		base:  base.Named("sql").With(zap.String("store", cfg.Store)),
		level: cfg.Level,
		slow:  slow,
	}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *SQLLogger) printf(ctx context.Context, min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if l.level < min {
		return
	}
	L(ctx, l.base).Sugar().Logf(lvl, msg, data...)
}

// Trace logs failed statements, slow statements and, at info, every statement.
// A missing record is an expected outcome and is never logged.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		lvl zapcore.Level
		msg string
	)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		if l.level < gormlogger.Error {
			return
		}
		lvl, msg = zapcore.ErrorLevel, "sql failed"
	case elapsed > l.slow:
		if l.level < gormlogger.Warn {
			return
		}
		lvl, msg = zapcore.WarnLevel, "slow sql"
	default:
		if l.level < gormlogger.Info {
			return
		}
		lvl, msg = zapcore.DebugLevel, "sql"
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	if lvl == zapcore.ErrorLevel {
		fields = append(fields, zap.Error(err))
	}
	if lvl == zapcore.WarnLevel {
		fields = append(fields, zap.Duration("threshold", l.slow))
	}
	L(ctx, l.base).Log(lvl, msg, fields...)
}

// GormLevel converts an application log level into GORM's scale. GORM has no
// debug level, so debug shows every statement.
func GormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
