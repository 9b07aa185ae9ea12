// Package pipeline turns published intents into matches: normalize the text
// into the canonical language, embed it, select counterparts and commit
// deduplicated matches. Retraction voids the matches an intent took part in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/embedding"
	"github.com/skypol2113/magic-worker/internal/globaltime"
	"github.com/skypol2113/magic-worker/internal/langdetect"
	"github.com/skypol2113/magic-worker/internal/logging"
	"github.com/skypol2113/magic-worker/internal/notify"
	"github.com/skypol2113/magic-worker/internal/translation"
)

const (
	DefaultWorkerVersion    = "magic-worker-go-1"
	DefaultReentrancyGrace  = 5 * time.Second
	DefaultInflightCapacity = 1024
	defaultPendingBatch     = 500
)

var (
	ErrEngineNotReady = errors.New("engine is not ready")
	ErrIntentNotFound = errors.New("intent not found")
)

// Store is everything the engine reads from and writes to the database.
type Store interface {
	NormalizedWriter
	EmbeddingWriter
	CandidateStore
	MatchStore
	RetractStore
	GetIntent(ctx context.Context, id string) (db.Intent, error)
	ListPendingPublished(ctx context.Context, kind string, limit int) ([]db.Intent, error)
}

type State int32

const (
	StateCreated State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dependencies are the collaborators an Engine is wired with. Only Store is
// required; a missing translator, detector, embedder, index or notifier
// disables that capability.
type Dependencies struct {
	Store      Store
	Translator translation.Provider
	Detector   langdetect.Detector
	Embedder   embedding.Provider
	Index      VectorIndex
	Notifier   notify.Dispatcher
	Logger     zerolog.Logger
}

type Options struct {
	WorkerVersion     string
	CanonicalLang     string
	EmbeddingsEnabled bool
	EmbeddingTimeout  time.Duration
	Selector          SelectorOptions
	ReentrancyGrace   time.Duration
	InflightCapacity  int
}

// Outcome summarizes one intent run.
type Outcome struct {
	IntentID   string
	Kind       Kind
	Skipped    bool
	SkipReason string
	Normalized Normalized
	Embedded   bool
	Tier       Tier
	Candidates int
	Created    []string
	Duplicates int
	ElapsedMs  int64
}

type EngineStats struct {
	State     string `json:"state"`
	Inflight  int    `json:"inflight"`
	Processed int64  `json:"processed"`
	Created   int64  `json:"matches_created"`
	Retracted int64  `json:"retracted"`
	Failed    int64  `json:"failed"`
}

type Engine struct {
	store      Store
	processors map[Kind]Processor
	retractor  *Retractor
	selector   *Selector
	inflight   *inflightSet
	logger     zerolog.Logger

	lifecycle sync.RWMutex
	state     atomic.Int32
	wg        sync.WaitGroup
	processed atomic.Int64
	created   atomic.Int64
	retracted atomic.Int64
	failed    atomic.Int64
}

func NewEngine(deps Dependencies, opts Options) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine store is required")
	}

	workerVersion := strings.TrimSpace(opts.WorkerVersion)
	if workerVersion == "" {
		workerVersion = DefaultWorkerVersion
	}
	grace := opts.ReentrancyGrace
	if grace < 0 {
		grace = DefaultReentrancyGrace
	}
	capacity := opts.InflightCapacity
	if capacity <= 0 {
		capacity = DefaultInflightCapacity
	}

	logger := logging.Component(deps.Logger, "pipeline")
	normalizer := NewNormalizer(deps.Store, deps.Translator, deps.Detector, opts.CanonicalLang, logger)
	embedder := NewEmbedder(deps.Store, deps.Embedder, opts.EmbeddingsEnabled, opts.EmbeddingTimeout, logger)
	selector := NewSelector(deps.Store, deps.Index, opts.Selector, logger)
	materializer := NewMaterializer(deps.Store, deps.Notifier, workerVersion, logger)

	e := &Engine{
		store: deps.Store,
		processors: map[Kind]Processor{
			KindIntent: &intentProcessor{
				normalizer:   normalizer,
				embedder:     embedder,
				selector:     selector,
				materializer: materializer,
				index:        deps.Index,
			},
			KindWish: &wishProcessor{
				normalizer:   normalizer,
				embedder:     embedder,
				materializer: materializer,
			},
		},
		retractor:  NewRetractor(deps.Store, deps.Index, logger),
		selector:   selector,
		inflight:   newInflightSet(capacity, grace),
		logger:     logger,
	}
	e.state.Store(int32(StateCreated))
	return e, nil
}

// Init moves the engine to ready. It is safe to call more than once.
func (e *Engine) Init(_ context.Context) error {
	if e.state.CompareAndSwap(int32(StateCreated), int32(StateReady)) {
		e.logger.Info().Int("top_n", e.selector.opts.Limit).Float64("min_sim", e.selector.opts.MinSimilarity).Msg("engine ready")
		return nil
	}
	if e.State() == StateReady {
		return nil
	}
	return ErrEngineNotReady
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Close stops accepting events and waits for dispatched runs to finish.
func (e *Engine) Close() {
	e.lifecycle.Lock()
	previous := State(e.state.Swap(int32(StateClosed)))
	e.lifecycle.Unlock()
	if previous == StateClosed {
		return
	}
	e.wg.Wait()
	e.inflight.Close()
	e.logger.Info().Msg("engine closed")
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		State:     e.State().String(),
		Inflight:  e.inflight.Len(),
		Processed: e.processed.Load(),
		Created:   e.created.Load(),
		Retracted: e.retracted.Load(),
		Failed:    e.failed.Load(),
	}
}

// OnIntentPublished runs the pipeline for one intent snapshot. Intents that
// are not published or already processed are skipped. The only error is a
// failed match commit, which leaves the intent unprocessed.
func (e *Engine) OnIntentPublished(ctx context.Context, intent db.Intent) (Outcome, error) {
	if e.State() != StateReady {
		return Outcome{}, ErrEngineNotReady
	}

	kind, err := ParseKind(intent.Kind)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{IntentID: intent.ID, Kind: kind}
	if intent.Status != db.StatusPublished {
		outcome.Skipped = true
		outcome.SkipReason = "not_published"
		return outcome, nil
	}
	if intent.Processed {
		outcome.Skipped = true
		outcome.SkipReason = "already_processed"
		return outcome, nil
	}

	processor := e.processors[kind]
	started := globaltime.Now()
	logger := e.logger.With().Str("intent_id", intent.ID).Str("kind", string(kind)).Logger()

	logger.Debug().Str("stage", "normalizing").Msg("intent stage")
	outcome.Normalized = processor.Normalize(ctx, &intent)

	logger.Debug().Str("stage", "embedding").Msg("intent stage")
	vector := processor.Embed(ctx, &intent, outcome.Normalized)
	outcome.Embedded = len(vector) > 0

	logger.Debug().Str("stage", "selecting").Msg("intent stage")
	selection := processor.SelectCandidates(ctx, &intent, vector)
	outcome.Tier = selection.Tier
	outcome.Candidates = len(selection.Candidates)

	logger.Debug().Str("stage", "materializing").Str("tier", string(selection.Tier)).Int("candidates", outcome.Candidates).Msg("intent stage")
	result, err := processor.Materialize(ctx, &intent, selection.Candidates)
	outcome.ElapsedMs = globaltime.SinceMs(started)
	if err != nil {
		e.failed.Add(1)
		logger.Error().Err(err).Msg("intent processing halted")
		return outcome, err
	}
	outcome.Created = result.Created
	outcome.Duplicates = result.Duplicates

	e.processed.Add(1)
	e.created.Add(int64(len(result.Created)))
	logger.Info().
		Str("stage", "processed").
		Str("tier", string(outcome.Tier)).
		Bool("translated", outcome.Normalized.Translated).
		Bool("embedded", outcome.Embedded).
		Int("created", len(result.Created)).
		Int("duplicates", result.Duplicates).
		Int64("elapsed_ms", outcome.ElapsedMs).
		Msg("intent processed")
	return outcome, nil
}

// OnIntentRetracted voids the matches of an unpublished or deleted intent.
func (e *Engine) OnIntentRetracted(ctx context.Context, intentID string) (RetractResult, error) {
	if e.State() != StateReady {
		return RetractResult{}, ErrEngineNotReady
	}
	result, err := e.retractor.Retract(ctx, intentID)
	if err != nil {
		e.failed.Add(1)
		return result, err
	}
	e.retracted.Add(1)
	return result, nil
}

// ProcessIntent loads the current snapshot of id and runs OnIntentPublished on it.
func (e *Engine) ProcessIntent(ctx context.Context, id string) (Outcome, error) {
	intent, err := e.store.GetIntent(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
		}
		return Outcome{}, err
	}
	return e.OnIntentPublished(ctx, intent)
}

// ProcessPending runs every published, unprocessed intent up to limit, oldest first.
func (e *Engine) ProcessPending(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = defaultPendingBatch
	}
	pending, err := e.store.ListPendingPublished(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}

	outcomes := make([]Outcome, 0, len(pending))
	var errs []error
	for _, intent := range pending {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := e.OnIntentPublished(ctx, intent)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, errors.Join(errs...)
}

// Action is what a dispatched change event asks the engine to do.
type Action string

const (
	ActionPublish Action = "publish"
	ActionRetract Action = "retract"
)

// Dispatch runs one change event in its own goroutine. It returns false when
// the engine is not ready or the same work is already in flight.
func (e *Engine) Dispatch(ctx context.Context, action Action, kind Kind, intentID string) bool {
	if strings.TrimSpace(intentID) == "" {
		return false
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.State() != StateReady {
		return false
	}

	key := string(action) + ":" + string(kind) + ":" + intentID
	if !e.inflight.TryAcquire(key) {
		e.logger.Debug().Str("key", key).Msg("event already in flight")
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.inflight.Release(key)

		switch action {
		case ActionRetract:
			if _, err := e.OnIntentRetracted(ctx, intentID); err != nil {
				e.logger.Error().Err(err).Str("intent_id", intentID).Msg("retraction failed")
			}
		default:
			if _, err := e.ProcessIntent(ctx, intentID); err != nil && !errors.Is(err, ErrEngineNotReady) {
				e.logger.Error().Err(err).Str("intent_id", intentID).Msg("intent processing failed")
			}
		}
	}()
	return true
}
