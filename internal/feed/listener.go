package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/logging"
)

const (
	DefaultSweepLimit = 1000
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
	closeConnTimeout  = 5 * time.Second
)

type Handler interface {
	HandleEvent(ctx context.Context, event Event)
}

// SweepStore finds work whose notification may have been missed.
type SweepStore interface {
	ListPendingPublished(ctx context.Context, kind string, limit int) ([]db.Intent, error)
	ListUnsweptRetractions(ctx context.Context, limit int) ([]db.RetractedIntent, error)
}

type notificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context, dsn, channel string) (notificationConn, error)

type ListenerOptions struct {
	SweepLimit int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Listener delivers every published, unprocessed intent and every unapplied
// retraction once on start and after each reconnect, then streams
// notifications until ctx ends. Delivery is at least once.
type Listener struct {
	dsn     string
	store   SweepStore
	opts    ListenerOptions
	logger  zerolog.Logger
	connect connectFunc
}

func NewListener(dsn string, store SweepStore, opts ListenerOptions, logger zerolog.Logger) *Listener {
	if opts.SweepLimit <= 0 {
		opts.SweepLimit = DefaultSweepLimit
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	return &Listener{
		dsn:     dsn,
		store:   store,
		opts:    opts,
		logger:  logging.Component(logger, "feed"),
		connect: connectPGX,
	}
}

func connectPGX(ctx context.Context, dsn, channel string) (notificationConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return conn, nil
}

// Run blocks until ctx is cancelled. Connection failures are retried with
// exponential backoff and never returned.
func (l *Listener) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("feed handler is required")
	}

	backoff := l.opts.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := l.connect(ctx, l.dsn, Channel)
		if err != nil {
			l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("change feed connect failed")
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, l.opts.MaxBackoff)
			continue
		}
		backoff = l.opts.MinBackoff
		l.logger.Info().Str("channel", Channel).Msg("change feed listening")

		l.sweep(ctx, handler)
		err = l.stream(ctx, conn, handler)

		closeCtx, cancel := context.WithTimeout(context.Background(), closeConnTimeout)
		_ = conn.Close(closeCtx)
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("change feed connection lost")
		if !sleepCtx(ctx, backoff) {
			return nil
		}
	}
}

func (l *Listener) sweep(ctx context.Context, handler Handler) {
	if l.store == nil {
		return
	}

	pending, err := l.store.ListPendingPublished(ctx, "", l.opts.SweepLimit)
	if err != nil {
		l.logger.Warn().Err(err).Msg("pending sweep failed")
	}
	for _, intent := range pending {
		handler.HandleEvent(ctx, Event{
			Type:     EventAdded,
			Kind:     intent.Kind,
			IntentID: intent.ID,
			OwnerID:  intent.OwnerID,
		})
	}

	retracted, err := l.store.ListUnsweptRetractions(ctx, l.opts.SweepLimit)
	if err != nil {
		l.logger.Warn().Err(err).Msg("retraction sweep failed")
	}
	for _, intent := range retracted {
		handler.HandleEvent(ctx, Event{
			Type:     EventRemoved,
			Kind:     intent.Kind,
			IntentID: intent.ID,
			OwnerID:  intent.OwnerID,
		})
	}

	l.logger.Info().
		Int("pending", len(pending)).
		Int("retracted", len(retracted)).
		Msg("sweep delivered")
}

func (l *Listener) stream(ctx context.Context, conn notificationConn, handler Handler) error {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if notification == nil {
			continue
		}

		event, err := ParseEvent(notification.Payload)
		if err != nil {
			l.logger.Warn().Err(err).Str("payload", notification.Payload).Msg("dropping malformed change event")
			continue
		}
		handler.HandleEvent(ctx, event)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
