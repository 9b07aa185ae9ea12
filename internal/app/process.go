package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skypol2113/magic-worker/internal/cli"
	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/pipeline"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	limit := fs.Int("limit", 500, "Maximum pending intents to process")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("process command failed to initialize")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.Close()

	outcomes, err := rt.engine.ProcessPending(ctx, *limit)
	summary := summarizeOutcomes(outcomes)
	if err != nil {
		logger.Error().Err(err).Int("limit", *limit).Msg("process failed")
		fmt.Fprintf(os.Stderr, "Process failed after %d intents: %v\n", summary.processed, err)
		return 1
	}

	logger.Info().
		Int("limit", *limit).
		Int("processed", summary.processed).
		Int("skipped", summary.skipped).
		Int("matches_created", summary.created).
		Int("duplicates", summary.duplicates).
		Msg("process completed")
	fmt.Printf(
		"process processed=%d skipped=%d matches_created=%d duplicates=%d limit=%d\n",
		summary.processed,
		summary.skipped,
		summary.created,
		summary.duplicates,
		*limit,
	)
	return 0
}

func runRetract(args []string) int {
	fs := flag.NewFlagSet("retract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	intentID := fs.String("id", "", "Intent id to retract")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	id := strings.TrimSpace(*intentID)
	if id == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("retract command failed to initialize")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.Close()

	if _, err := rt.pool.SetIntentStatus(ctx, id, db.StatusUnpublished); err != nil {
		logger.Error().Err(err).Str("intent_id", id).Msg("unpublish failed")
		fmt.Fprintf(os.Stderr, "Retract failed: %v\n", err)
		return 1
	}
	result, err := rt.engine.OnIntentRetracted(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("intent_id", id).Msg("retract failed")
		fmt.Fprintf(os.Stderr, "Retract failed: %v\n", err)
		return 1
	}

	fmt.Printf("retract intent_id=%s scanned=%d voided=%d\n", id, result.Scanned, result.Voided)
	return 0
}

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	owner := fs.String("owner", "", "Owner id of the intent")
	text := fs.String("text", "", "Intent text")
	lang := fs.String("lang", "", "Declared language code, empty to detect")
	kind := fs.String("kind", string(pipeline.KindIntent), "Record kind: intent or wish")
	id := fs.String("id", "", "Intent id, empty to generate one")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*owner) == "" {
		fmt.Fprintln(os.Stderr, "--owner is required")
		return 2
	}
	if strings.TrimSpace(*text) == "" {
		fmt.Fprintln(os.Stderr, "--text is required")
		return 2
	}
	parsedKind, err := pipeline.ParseKind(*kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--kind: %v\n", err)
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("publish command failed to initialize")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.Close()

	intentID := strings.TrimSpace(*id)
	if intentID == "" {
		intentID = uuid.NewString()
	}
	intent, err := rt.pool.CreateIntent(ctx, db.CreateIntentParams{
		ID:           intentID,
		Kind:         string(parsedKind),
		OwnerID:      strings.TrimSpace(*owner),
		RawText:      *text,
		DeclaredLang: strings.TrimSpace(*lang),
		Status:       db.StatusPublished,
	})
	if err != nil {
		logger.Error().Err(err).Str("intent_id", intentID).Msg("create intent failed")
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}

	outcome, err := rt.engine.OnIntentPublished(ctx, intent)
	if err != nil {
		logger.Error().Err(err).Str("intent_id", intent.ID).Msg("publish processing failed")
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"publish intent_id=%s kind=%s lang=%s tier=%s candidates=%d created=%d\n",
		intent.ID,
		outcome.Kind,
		outcome.Normalized.Lang,
		outcome.Tier,
		outcome.Candidates,
		len(outcome.Created),
	)
	return 0
}

type outcomeSummary struct {
	processed  int
	skipped    int
	created    int
	duplicates int
}

func summarizeOutcomes(outcomes []pipeline.Outcome) outcomeSummary {
	var summary outcomeSummary
	for _, outcome := range outcomes {
		if outcome.Skipped {
			summary.skipped++
			continue
		}
		summary.processed++
		summary.created += len(outcome.Created)
		summary.duplicates += outcome.Duplicates
	}
	return summary
}
