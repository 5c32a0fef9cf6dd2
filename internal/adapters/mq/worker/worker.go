// Package worker runs the event consumption loop with failure recovery.
//
// The loop has two states. Connected: events are received and dispatched one
// at a time. Reconnecting: after any failure the stream is dropped, the fault
// is reported, and a fresh stream is opened once the backoff delay passes.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/xferkarma/internal/domain/dedupe"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/pkg/logger"
	"github.com/okian/xferkarma/pkg/metrics"
)

// Default backoff configuration.
const (
	DefaultBackoffBase = 5 * time.Minute
	DefaultBackoffMax  = time.Hour
)

// Stream delivers events from a live feed.
type Stream interface {
	// Next blocks until the next event arrives or ctx ends.
	Next(ctx context.Context) (model.Event, error)
	Close() error
}

// Feed opens streams positioned at "now".
type Feed interface {
	Open(ctx context.Context) (Stream, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context) (Stream, error)

// Open calls f(ctx).
func (f FeedFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// Handler dispatches a single event. A returned error sends the loop into
// reconnecting.
type Handler interface {
	Handle(ctx context.Context, ev model.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.Event) error

// Handle calls f(ctx, ev).
func (f HandlerFunc) Handle(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Reporter receives faults. It must not block.
type Reporter interface {
	Report(ctx context.Context, f model.Fault)
}

// Classifier maps an error to a fault severity.
type Classifier func(error) model.Severity

type nopReporter struct{}

func (nopReporter) Report(context.Context, model.Fault) {}

func generic(error) model.Severity { return model.SeverityGeneric }

// Stats is a snapshot of the loop state.
type Stats struct {
	Connected   bool
	Attempt     int
	Dispatched  int64
	Faults      int64
	LastFault   string
	LastFaultAt time.Time
}

// StreamWorker consumes a feed sequentially and recovers from failures.
type StreamWorker struct {
	feed     Feed
	handler  Handler
	reporter Reporter
	classify Classifier
	dedupe   dedupe.Deduper
	clock    clockwork.Clock
	base     time.Duration
	max      time.Duration
	name     string

	connected  atomic.Bool
	attempt    atomic.Int64
	dispatched atomic.Int64
	faults     atomic.Int64

	mu        sync.Mutex
	lastFault model.Fault

	// Shutdown control
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	running  bool
	stopped  bool
	done     chan struct{}

	logger logger.Logger
}

// NewStreamWorker creates a worker reading feed and dispatching to handler.
func NewStreamWorker(feed Feed, handler Handler, opts ...Option) *StreamWorker {
	w := &StreamWorker{
		feed:     feed,
		handler:  handler,
		reporter: nopReporter{},
		classify: generic,
		clock:    clockwork.NewRealClock(),
		base:     DefaultBackoffBase,
		max:      DefaultBackoffMax,
		name:     "stream-worker",
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	w.attempt.Store(1)
	return w
}

// Run consumes the feed until ctx is canceled or Shutdown is called. A
// worker runs once: a second call returns ErrAlreadyRunning. Apart from that
// it only returns nil, every failure is handled by reconnecting.
func (w *StreamWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.cancelMu.Lock()
	if w.running {
		w.cancelMu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.cancel = cancel
	stopped := w.stopped
	w.cancelMu.Unlock()
	defer close(w.done)

	if stopped {
		return nil
	}

	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			w.logger.Info(ctx, "stream worker stopped")
			return nil
		}

		attempt := int(w.attempt.Load())
		delay := w.delay(attempt)
		fault := model.Fault{
			When:     w.clock.Now(),
			Severity: w.classify(err),
			Err:      err,
			Attempt:  attempt,
			Delay:    delay,
		}
		w.recordFault(ctx, fault)

		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "stream worker stopped during backoff")
			return nil
		case <-w.clock.After(delay):
		}
		w.attempt.Add(1)
	}
}

// Shutdown stops the loop and waits for Run to return. Called before Run,
// it makes the next Run return immediately.
func (w *StreamWorker) Shutdown(ctx context.Context) error {
	w.cancelMu.Lock()
	w.stopped = true
	cancel, running := w.cancel, w.running
	w.cancelMu.Unlock()
	if !running {
		return nil
	}
	cancel()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// GetStats returns a snapshot of the loop state.
func (w *StreamWorker) GetStats() Stats {
	s := Stats{
		Connected:  w.connected.Load(),
		Attempt:    int(w.attempt.Load()),
		Dispatched: w.dispatched.Load(),
		Faults:     w.faults.Load(),
	}
	w.mu.Lock()
	if w.lastFault.Err != nil {
		s.LastFault = w.lastFault.Summary()
		s.LastFaultAt = w.lastFault.When
	}
	w.mu.Unlock()
	return s
}

// session runs one connected period and returns the error that ended it.
func (w *StreamWorker) session(ctx context.Context) error {
	stream, err := w.feed.Open(ctx)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			w.logger.Warn(ctx, "closing stream", logger.Error(cerr))
		}
	}()

	w.connected.Store(true)
	defer w.connected.Store(false)
	w.logger.Info(ctx, "stream connected", logger.Int("attempt", int(w.attempt.Load())))

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		if w.dedupe != nil && w.dedupe.SeenAndRecord(ctx, ev.ID) {
			metrics.RecordEventDuplicate()
			w.logger.Debug(ctx, "skipping re-delivered event", logger.String("event_id", ev.ID))
			continue
		}
		metrics.RecordEventReceived()

		if err := w.dispatch(ctx, ev); err != nil {
			if w.dedupe != nil {
				w.dedupe.Unrecord(ctx, ev.ID)
			}
			return fmt.Errorf("dispatch %s: %w", ev.ID, err)
		}
		w.dispatched.Add(1)
		w.attempt.Store(1)
	}
}

// dispatch runs the handler, converting a panic into an error.
func (w *StreamWorker) dispatch(ctx context.Context, ev model.Event) (err error) {
	start := w.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "dispatch panicked",
				logger.String("event_id", ev.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		metrics.RecordDispatchLatency(w.clock.Since(start).Seconds())
		if err != nil {
			metrics.RecordDispatchError()
		}
	}()
	return w.handler.Handle(ctx, ev)
}

func (w *StreamWorker) delay(attempt int) time.Duration {
	d := w.base * time.Duration(attempt)
	if w.max > 0 && d > w.max {
		d = w.max
	}
	return d
}

func (w *StreamWorker) recordFault(ctx context.Context, f model.Fault) {
	w.faults.Add(1)
	w.mu.Lock()
	w.lastFault = f
	w.mu.Unlock()

	metrics.RecordReconnect(string(f.Severity))
	metrics.UpdateBackoff(f.Attempt, f.Delay.Seconds())

	fields := []logger.Field{
		logger.String("severity", string(f.Severity)),
		logger.Int("attempt", f.Attempt),
		logger.Duration("delay", f.Delay),
		logger.Error(f.Err),
	}
	if f.Severity == model.SeverityUpstream {
		w.logger.Warn(ctx, "upstream unavailable, reconnecting", fields...)
	} else {
		w.logger.Error(ctx, "stream failed, reconnecting", fields...)
	}
	w.reporter.Report(ctx, f)
}
