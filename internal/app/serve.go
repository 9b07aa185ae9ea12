package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypol2113/magic-worker/internal/cli"
	"github.com/skypol2113/magic-worker/internal/feed"
	"github.com/skypol2113/magic-worker/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	noHTTP := fs.Bool("no-http", false, "Run only the change feed listener and engine")
	sweepLimit := fs.Int("sweep-limit", feed.DefaultSweepLimit, "Pending intents delivered per kind on each (re)connect")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}
	if *sweepLimit <= 0 {
		fmt.Fprintln(os.Stderr, "--sweep-limit must be > 0")
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to initialize")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	listener := feed.NewListener(rt.pool.DSN(), rt.pool, feed.ListenerOptions{SweepLimit: *sweepLimit}, logger)
	router := feed.NewRouter(rt.engine, logger)
	group.Go(func() error {
		return listener.Run(groupCtx, router)
	})

	if !*noHTTP {
		srv := httpapi.NewServer(httpapi.Dependencies{
			Store:        rt.pool,
			Engine:       rt.engine,
			Detector:     rt.detector,
			Translations: rt.translations,
			Embedder:     rt.embedder,
			Index:        rt.index,
			Logger:       logger,
		}, httpapi.Options{
			Host:             *host,
			Port:             *port,
			ReadTimeout:      *readTimeout,
			WriteTimeout:     *writeTimeout,
			ShutdownTimeout:  *shutdownTimeout,
			CORSAllowOrigins: cfg.CORSAllowedOriginsList(),
			CanonicalLang:    cfg.CanonicalLang,
		})
		group.Go(func() error {
			return srv.Start(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("serve failed")
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}

	logger.Info().Interface("stats", rt.engine.Stats()).Msg("serve stopped")
	return 0
}
