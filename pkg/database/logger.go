package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slogGormLogger routes GORM internals (SQL traces, slow query warnings,
// errors) through the application's slog logger instead of stdout.
type slogGormLogger struct {
	log                *slog.Logger
	level              gormlogger.LogLevel
	slowQueryThreshold time.Duration
}

func newSlogGormLogger(log *slog.Logger, level gormlogger.LogLevel) gormlogger.Interface {
	if level == 0 {
		level = gormlogger.Warn
	}
	return &slogGormLogger{
		log:                log,
		level:              level,
		slowQueryThreshold: 200 * time.Millisecond,
	}
}

// LogMode returns a copy with the given level; GORM calls this for
// per-operation overrides such as db.Debug().
func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *slogGormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace logs SQL statements with timing. gorm.ErrRecordNotFound is silenced
// because it is a normal application-level condition.
func (l *slogGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.Error("gorm query error", "error", err, "sql", sql, "elapsed", elapsed, "rows", rows)
	case l.slowQueryThreshold > 0 && elapsed > l.slowQueryThreshold:
		l.log.Warn("gorm slow query", "sql", sql, "elapsed", elapsed, "rows", rows)
	case l.level >= gormlogger.Info:
		l.log.Debug("gorm query", "sql", sql, "elapsed", elapsed, "rows", rows)
	}
}
