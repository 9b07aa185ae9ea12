package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// gormLogger routes gorm's query log through zerolog. Record-not-found is
// a normal outcome for lookups and is never logged.
type gormLogger struct {
	logger zerolog.Logger
	level  gormlogger.LogLevel
	slow   time.Duration
}

func newGormLogger(logger zerolog.Logger, appLogLevel string, slow time.Duration) gormlogger.Interface {
	return &gormLogger{
		logger: logger.With().Str("component", "gorm").Logger(),
		level:  gormLogLevel(appLogLevel),
		slow:   slow,
	}
}

// gormLogLevel keeps SQL tracing to debug and trace; info runs log only slow
// queries and failures.
func gormLogLevel(appLogLevel string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	case "silent", "disabled":
		return gormlogger.Silent
	default:
		return gormlogger.Warn
	}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Info().Msgf(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn().Msgf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Error().Msgf(msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && !errors.Is(err, ErrNoRows) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
