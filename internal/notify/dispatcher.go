// Package notify delivers "match_new" pushes to intent owners. Delivery is
// best effort: callers log failures and never retry.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

const TypeMatchNew = "match_new"

// Push is one notification addressed to an owner.
type Push struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Dispatcher interface {
	SendPush(ctx context.Context, ownerID string, push Push) error
}

// LogDispatcher writes pushes to the log instead of sending them.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "notify").Logger()}
}

func (d *LogDispatcher) SendPush(_ context.Context, ownerID string, push Push) error {
	if strings.TrimSpace(ownerID) == "" {
		return errors.New("owner id is required")
	}
	d.logger.Info().
		Str("owner_id", ownerID).
		Str("title", push.Title).
		Str("type", push.Data["type"]).
		Msg("push dispatched")
	return nil
}

// Multi fans a push out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) SendPush(ctx context.Context, ownerID string, push Push) error {
	var errs []error
	for _, dispatcher := range m {
		if dispatcher == nil {
			continue
		}
		if err := dispatcher.SendPush(ctx, ownerID, push); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
