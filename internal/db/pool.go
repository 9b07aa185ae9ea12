package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/skypol2113/magic-worker/internal/config"
	"github.com/skypol2113/magic-worker/internal/globaltime"
)

var ErrNoRows = sql.ErrNoRows

var errPoolClosed = errors.New("database pool is not initialized")

const (
	defaultMaxConns  = 8
	connMaxIdleTime  = 5 * time.Minute
	connMaxLifetime  = 30 * time.Minute
	slowQueryWarning = 500 * time.Millisecond
)

// Pool is the worker's Postgres handle. Queries are raw SQL through gorm;
// gorm itself only migrates the models.
type Pool struct {
	runner
	sqlDB *sql.DB
	dsn   string
}

// NewPool connects, sizes the connection pool from cfg and migrates the schema.
func NewPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:                 newGormLogger(logger, cfg.LogLevel, slowQueryWarning),
		NowFunc:                globaltime.UTC,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql db: %w", err)
	}

	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = defaultMaxConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{runner: runner{db: gdb}, sqlDB: sqlDB, dsn: cfg.DatabaseURL}
	if err := pool.migrate(ctx, logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return pool, nil
}

// InTx runs fn in one transaction. It commits when fn returns nil and rolls
// back otherwise, including on panic.
func (p *Pool) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if p == nil || p.db == nil {
		return errPoolClosed
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(runner{db: tx})
	})
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return errPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

// DSN is the connection string, for the change feed's dedicated LISTEN connection.
func (p *Pool) DSN() string {
	if p == nil {
		return ""
	}
	return p.dsn
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}
