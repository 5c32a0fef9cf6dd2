// Package service wires the feed, the transfer engine and the responder into
// the running agent, and implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	workerpool "github.com/okian/xferkarma/internal/adapters/mq/worker"
	repository "github.com/okian/xferkarma/internal/adapters/repository"
	"github.com/okian/xferkarma/internal/domain/command"
	"github.com/okian/xferkarma/internal/domain/dedupe"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/internal/domain/transfer"
	"github.com/okian/xferkarma/internal/domain/types"
	"github.com/okian/xferkarma/pkg/logger"
	"github.com/okian/xferkarma/pkg/metrics"
)

// deletedAuthor is the placeholder author of removed comments.
const deletedAuthor = "[deleted]"

// Engine executes recognised commands.
type Engine interface {
	Transfer(ctx context.Context, req transfer.Request) (transfer.Outcome, error)
	Info(ctx context.Context, caller, target string) (transfer.Outcome, error)
	SetKarma(ctx context.Context, caller, target string, amount int, locator string) (transfer.Outcome, error)
}

// Responder publishes an outcome as a reply to the triggering event.
type Responder interface {
	Respond(ctx context.Context, ev model.Event, out transfer.Outcome) error
}

// Service consumes the comment feed and dispatches commands.
type Service struct {
	mu sync.RWMutex

	// Core components
	ledger    repository.Store
	engine    Engine
	responder Responder
	feed      workerpool.Feed
	deduper   dedupe.Deduper
	worker    *workerpool.StreamWorker

	// Configuration
	dedupeSize  int
	backoffBase time.Duration
	backoffMax  time.Duration
	self        string
	clock       clockwork.Clock
	classifier  workerpool.Classifier
	reporter    workerpool.Reporter

	// State
	started bool
	done    chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDedupeSize sets the size of the re-delivery cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBackoff sets the recovery loop delay base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Service) {
		s.backoffBase = base
		s.backoffMax = max
	}
}

// WithSelf sets the bot's own account name so its comments are ignored.
func WithSelf(name string) Option {
	return func(s *Service) {
		s.self = model.NormalizeIdentity(name)
	}
}

// WithClock sets the clock driving the recovery loop.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithClassifier sets how feed and dispatch errors map to fault severities.
func WithClassifier(c workerpool.Classifier) Option {
	return func(s *Service) {
		s.classifier = c
	}
}

// WithReporter sets the sink for recovery loop faults.
func WithReporter(r workerpool.Reporter) Option {
	return func(s *Service) {
		s.reporter = r
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Service. Nothing runs until Start.
func New(ledger repository.Store, engine Engine, responder Responder, feed workerpool.Feed, opts ...Option) *Service {
	s := &Service{
		ledger:      ledger,
		engine:      engine,
		responder:   responder,
		feed:        feed,
		dedupeSize:  dedupe.DefaultMaxSize,
		backoffBase: workerpool.DefaultBackoffBase,
		backoffMax:  workerpool.DefaultBackoffMax,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start launches the stream worker in the background. It returns once the
// worker is running; the worker stops when ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting transfer service...")

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	opts := []workerpool.Option{
		workerpool.WithDeduper(s.deduper),
		workerpool.WithBackoff(s.backoffBase, s.backoffMax),
		workerpool.WithClock(s.clock),
	}
	if s.classifier != nil {
		opts = append(opts, workerpool.WithClassifier(s.classifier))
	}
	if s.reporter != nil {
		opts = append(opts, workerpool.WithReporter(s.reporter))
	}
	s.worker = workerpool.NewStreamWorker(s.feed, workerpool.HandlerFunc(s.Handle), opts...)

	s.done = make(chan struct{})
	go func(w *workerpool.StreamWorker, done chan struct{}) {
		defer close(done)
		_ = w.Run(ctx)
	}(s.worker, s.done)

	s.started = true
	s.logger.Info(ctx, "transfer service started",
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("backoffBase", s.backoffBase),
		logger.Duration("backoffMax", s.backoffMax),
	)
	return nil
}

// Stop shuts the worker down and closes the ledger.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping transfer service...")

	var errs []error
	if err := s.worker.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	} else {
		<-s.done
	}
	if err := s.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "transfer service stopped")
	return errors.Join(errs...)
}

// Handle classifies one comment and runs the matching command. Comments that
// are not commands, the bot's own comments and removed comments are ignored.
// An error means the outcome could not be committed or published.
func (s *Service) Handle(ctx context.Context, ev model.Event) error {
	author := model.NormalizeIdentity(ev.Author)
	if author == "" || author == deletedAuthor || (s.self != "" && author == s.self) {
		return nil
	}

	cmd := command.Classify(ev.Body)
	if cmd.Kind == command.NoMatch {
		return nil
	}
	metrics.RecordCommand(cmd.Kind.String())

	log := s.logger.With(
		logger.String("dispatch_id", uuid.NewString()),
		logger.String("event_id", ev.ID),
		logger.String("author", ev.Author),
		logger.String("command", cmd.Kind.String()),
	)
	log.Debug(ctx, "dispatching command")

	var (
		out transfer.Outcome
		err error
	)
	switch cmd.Kind {
	case command.TransferRequest:
		out, err = s.engine.Transfer(ctx, transfer.Request{
			Identity:            ev.Author,
			Locator:             ev.Permalink,
			DestinationFlair:    ev.AuthorFlair,
			HasDestinationFlair: ev.HasAuthorFlair,
		})
	case command.InfoQuery:
		out, err = s.engine.Info(ctx, ev.Author, cmd.Target)
	case command.SetKarma:
		out, err = s.engine.SetKarma(ctx, ev.Author, cmd.Target, cmd.Amount, ev.Permalink)
	}
	if err != nil {
		log.Error(ctx, "command failed", logger.Error(err))
		return fmt.Errorf("%s for %s: %w", cmd.Kind, ev.Author, err)
	}
	metrics.RecordOutcome(out.Kind.String())
	log.Info(ctx, "command handled", logger.String("outcome", out.Kind.String()))

	if err := s.responder.Respond(ctx, ev, out); err != nil {
		return fmt.Errorf("respond to %s: %w", ev.ID, err)
	}
	return nil
}

// Lookup returns the ledger record for identity.
func (s *Service) Lookup(ctx context.Context, identity string) (types.LedgerEntry, error) {
	rec, err := s.ledger.Lookup(ctx, strings.TrimSpace(identity))
	if err != nil {
		return types.LedgerEntry{}, err
	}
	return types.LedgerEntry{
		Author:        rec.Author,
		Amount:        rec.Amount,
		SourceURL:     rec.SourceURL,
		TransferredAt: rec.TransferredAt,
	}, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"dedupeSize":  s.dedupeSize,
		"backoffBase": s.backoffBase.String(),
		"backoffMax":  s.backoffMax.String(),
	}

	if count, err := s.ledger.Count(context.Background()); err == nil {
		stats["ledgerRecords"] = count
		metrics.UpdateLedgerRecords(count)
	}

	if s.started {
		ws := s.worker.GetStats()
		stats["connected"] = ws.Connected
		stats["attempt"] = ws.Attempt
		stats["dispatched"] = ws.Dispatched
		stats["faults"] = ws.Faults
		stats["seenEvents"] = s.deduper.Size()
		if ws.LastFault != "" {
			stats["lastFault"] = ws.LastFault
			stats["lastFaultAt"] = ws.LastFaultAt
		}
	}
	return stats
}
