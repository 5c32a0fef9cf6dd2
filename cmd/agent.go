package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/okian/xferkarma/internal/adapters/alert"
	"github.com/okian/xferkarma/internal/adapters/http/api"
	"github.com/okian/xferkarma/internal/adapters/http/swagger"
	"github.com/okian/xferkarma/internal/adapters/mq/queue"
	workerpool "github.com/okian/xferkarma/internal/adapters/mq/worker"
	"github.com/okian/xferkarma/internal/adapters/reddit"
	"github.com/okian/xferkarma/internal/adapters/responder"
	"github.com/okian/xferkarma/internal/adapters/roles"
	app "github.com/okian/xferkarma/internal/app"
	"github.com/okian/xferkarma/internal/config"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/internal/domain/transfer"
	"github.com/okian/xferkarma/internal/domain/types"
	"github.com/okian/xferkarma/pkg/logger"
)

// runAgent wires the agent and blocks until ctx ends or a component fails.
func runAgent(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	store, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}

	client := reddit.NewClient(reddit.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Username:     cfg.Username,
		Password:     cfg.Password,
	}, cfg.UserAgent,
		reddit.WithRateLimit(cfg.RequestsPerSecond, cfg.RequestBurst),
		reddit.WithLogger(logger.Slog().With("component", "reddit")),
	)
	directory := reddit.NewDirectory(client, cfg.SourceSubreddit, cfg.DestinationSubreddit)
	resolver := roles.NewResolver(directory,
		roles.WithTTL(cfg.RoleCacheTTL),
		roles.WithCourierPage(cfg.CourierPage),
	)

	engine := transfer.NewEngine(store, directory, directory, policy,
		transfer.WithAdmin(resolver.IsModerator),
		transfer.WithPrivileged(resolver.IsModeratorOrCourier),
	)
	replies, err := responder.New(client, responder.Communities{
		Source:      cfg.SourceSubreddit,
		Destination: cfg.DestinationSubreddit,
		InfoURL:     cfg.InfoURL,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("load reply templates: %w", err)
	}

	faults := queue.NewInMemoryQueue(queue.WithCapacity(cfg.AlertQueueSize))
	var sink alert.Sink = alert.NewLogSink(log.Named("alert"))
	if cfg.AlertWebhook != "" {
		sink = alert.NewDiscordSink(cfg.AlertWebhook, logger.Slog().With("component", "alert"),
			alert.WithUsername(cfg.AlertUsername))
	}
	notifier := alert.NewNotifier(faults, sink, log.Named("alert"))

	comments := reddit.NewCommentFeed(client, cfg.DestinationSubreddit, cfg.PollMinDelay, cfg.PollMaxDelay)
	feed := workerpool.FeedFunc(func(ctx context.Context) (workerpool.Stream, error) {
		s, err := comments.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	svc := app.New(store, engine, replies, feed,
		app.WithLogger(log.Named("service")),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithBackoff(cfg.BackoffBase, cfg.BackoffMax),
		app.WithSelf(cfg.Username),
		app.WithClassifier(classify),
		app.WithReporter(notifier),
	)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := svc.Start(gctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}

	g.Go(func() error {
		return notifier.Run(gctx)
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("service shutdown: %w", err))
		}
		_ = faults.Close()
		log.Info(context.Background(), "agent stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// classify maps errors that originate in the upstream API to the upstream
// severity so alerts can tell outages apart from bugs.
func classify(err error) model.Severity {
	if reddit.IsUpstream(err) {
		return model.SeverityUpstream
	}
	return model.SeverityGeneric
}

func toEntry(rec model.TransferRecord) types.LedgerEntry {
	return types.LedgerEntry{
		Author:        rec.Author,
		Amount:        rec.Amount,
		SourceURL:     rec.SourceURL,
		TransferredAt: rec.TransferredAt,
	}
}
