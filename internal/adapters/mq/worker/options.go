package worker

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/xferkarma/internal/domain/dedupe"
	"github.com/okian/xferkarma/pkg/logger"
)

// Option applies a configuration option to the StreamWorker.
type Option func(*StreamWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *StreamWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *StreamWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock sets the clock used for backoff waits.
func WithClock(clock clockwork.Clock) Option {
	return func(w *StreamWorker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithBackoff sets the reconnect delay to base × attempt, capped at max.
// A zero max leaves the delay unbounded.
func WithBackoff(base, max time.Duration) Option {
	return func(w *StreamWorker) {
		if base > 0 {
			w.base = base
		}
		if max >= 0 {
			w.max = max
		}
	}
}

// WithClassifier sets how errors map to fault severity.
func WithClassifier(c Classifier) Option {
	return func(w *StreamWorker) {
		if c != nil {
			w.classify = c
		}
	}
}

// WithReporter sets where faults are reported.
func WithReporter(r Reporter) Option {
	return func(w *StreamWorker) {
		if r != nil {
			w.reporter = r
		}
	}
}

// WithDeduper sets the guard against re-delivered events.
func WithDeduper(d dedupe.Deduper) Option {
	return func(w *StreamWorker) {
		w.dedupe = d
	}
}
