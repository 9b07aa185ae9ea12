package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/skypol2113/magic-worker/internal/globaltime"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	label string
	run   func(ctx context.Context, gdb *gorm.DB) error
}

// migrationSteps creates the pgvector extension, the intent and match tables,
// then the secondary indexes and the change feed triggers.
func migrationSteps() []migrationStep {
	return []migrationStep{
		{label: "extensions", run: execScript(preAutoMigrateSQL)},
		{label: "models", run: func(ctx context.Context, gdb *gorm.DB) error {
			return gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...)
		}},
		{label: "indexes and triggers", run: execScript(postAutoMigrateSQL)},
	}
}

func (p *Pool) migrate(ctx context.Context, logger zerolog.Logger) error {
	if p == nil || p.db == nil {
		return errPoolClosed
	}
	for _, step := range migrationSteps() {
		started := globaltime.Now()
		if err := step.run(ctx, p.db); err != nil {
			return fmt.Errorf("migrate %s: %w", step.label, err)
		}
		logger.Debug().Str("step", step.label).Int64("elapsed_ms", globaltime.SinceMs(started)).Msg("schema migration step applied")
	}
	return nil
}

func execScript(script string) func(ctx context.Context, gdb *gorm.DB) error {
	trimmed := strings.TrimSpace(script)
	return func(ctx context.Context, gdb *gorm.DB) error {
		if trimmed == "" {
			return nil
		}
		return gdb.WithContext(ctx).Exec(trimmed).Error
	}
}
