package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v2"

	repository "github.com/okian/xferkarma/internal/adapters/repository"
	"github.com/okian/xferkarma/internal/config"
	"github.com/okian/xferkarma/pkg/logger"
	"github.com/okian/xferkarma/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := run(os.Args, os.Stdout); err != nil {
		os.Stderr.WriteString("xferkarma: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	app := cli.App{
		Name:      "xferkarma",
		Usage:     "moves community karma into destination flair, once per user",
		Writer:    out,
		ErrWriter: out,
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to a YAML config file",
			EnvVars: []string{config.EnvPrefix + "CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "overrides log_level from the config",
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
		infoCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "watch the comment feed and serve the ops API",
	Action: func(cctx *cli.Context) error {
		// Disable default Go metrics collection to avoid duplicate metrics
		// We collect our own custom system metrics instead
		prometheus.Unregister(collectors.NewGoCollector())
		prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		cfg, err := setup(cctx)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if err := cfg.ValidateCredentials(); err != nil {
			return err
		}

		// Root context with cancel on SIGINT/SIGTERM.
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runAgent(ctx, cfg)
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update the ledger schema",
	Action: func(cctx *cli.Context) error {
		cfg, err := setup(cctx)
		if err != nil {
			return err
		}
		ctx := cctx.Context

		store, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		logger.Get().Info(ctx, "ledger schema is up to date")
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "print the transfer record of a user",
	ArgsUsage: "<identity>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return errors.New("expected exactly one identity")
		}
		cfg, err := setup(cctx)
		if err != nil {
			return err
		}
		ctx := cctx.Context

		store, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rec, err := store.Lookup(ctx, cctx.Args().First())
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s has not transferred karma: %w", cctx.Args().First(), err)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cctx.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(toEntry(rec))
	},
}

// setup loads configuration and initializes logging.
func setup(cctx *cli.Context) (*config.Config, error) {
	if path := cctx.String("config"); path != "" {
		_ = os.Setenv(config.EnvPrefix+"CONFIG", path)
	}

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(cctx.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(cctx.Context, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (*repository.GormStore, error) {
	store, err := repository.Open(ctx, cfg.DatabaseURL,
		repository.WithLogger(logger.Slog().With("component", "ledger")),
	)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return store, nil
}

// startSystemMetricsUpdater updates system metrics until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
