package feed

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/logging"
	"github.com/skypol2113/magic-worker/internal/pipeline"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, action pipeline.Action, kind pipeline.Kind, intentID string) bool
}

// Router maps change events onto engine actions.
type Router struct {
	engine Dispatcher
	logger zerolog.Logger
}

func NewRouter(engine Dispatcher, logger zerolog.Logger) *Router {
	return &Router{engine: engine, logger: logging.Component(logger, "feed_router")}
}

func (r *Router) HandleEvent(ctx context.Context, event Event) {
	kind, err := pipeline.ParseKind(event.Kind)
	if err != nil {
		r.logger.Warn().Err(err).Str("intent_id", event.IntentID).Msg("ignoring event of unknown kind")
		return
	}

	action := pipeline.ActionPublish
	if event.Type == EventRemoved {
		if kind != pipeline.KindIntent {
			return
		}
		action = pipeline.ActionRetract
	}

	accepted := r.engine.Dispatch(ctx, action, kind, event.IntentID)
	r.logger.Debug().
		Str("intent_id", event.IntentID).
		Str("type", string(event.Type)).
		Str("action", string(action)).
		Bool("accepted", accepted).
		Msg("change event routed")
}
