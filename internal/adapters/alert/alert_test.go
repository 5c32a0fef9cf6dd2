package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/xferkarma/internal/adapters/mq/queue"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	require.NoError(t, logger.Init(logger.WithWriter(io.Discard)))
	return logger.Get()
}

func TestDiscordSink_Send(t *testing.T) {
	var got discordBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewDiscordSink(srv.URL, nil)
	require.NoError(t, sink.Send(context.Background(), "[upstream] 503 (attempt 2, retrying in 10m0s)"))
	assert.Equal(t, "[upstream] 503 (attempt 2, retrying in 10m0s)", got.Content)
	assert.Equal(t, "Karma Transfer Bot", got.Username)
}

func TestDiscordSink_TruncatesLongMessages(t *testing.T) {
	var got discordBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewDiscordSink(srv.URL, nil, WithUsername("ops"), WithHTTPClient(srv.Client()))
	require.NoError(t, sink.Send(context.Background(), strings.Repeat("x", 5000)))
	assert.Len(t, []rune(got.Content), discordMaxContent)
	assert.Equal(t, "ops", got.Username)
}

func TestDiscordSink_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSink(srv.URL, nil, WithHTTPClient(srv.Client())).Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrWebhook)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
	fail bool
}

func (s *recordingSink) Send(_ context.Context, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("down")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestNotifier_DeliversQueuedFaults(t *testing.T) {
	log := testLogger(t)
	q := queue.NewInMemoryQueue(queue.WithCapacity(4))
	sink := &recordingSink{}
	n := NewNotifier(q, sink, log)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	n.Report(ctx, model.Fault{Severity: model.SeverityUpstream, Err: errors.New("503"), Attempt: 1, Delay: 5 * time.Minute})
	n.Report(ctx, model.Fault{Severity: model.SeverityGeneric, Err: errors.New("panic"), Attempt: 2})

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.msgs[0], "[upstream] 503")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
}

func TestNotifier_FailuresDoNotStopDelivery(t *testing.T) {
	log := testLogger(t)
	q := queue.NewInMemoryQueue(queue.WithCapacity(4))
	sink := &recordingSink{fail: true}
	n := NewNotifier(q, sink, log)
	ctx := context.Background()

	n.Report(ctx, model.Fault{Err: errors.New("first")})
	require.NoError(t, q.Close())
	require.NoError(t, n.Run(ctx))
	assert.Zero(t, sink.count())
}

func TestNotifier_ReportDropsWhenFull(t *testing.T) {
	log := testLogger(t)
	q := queue.NewInMemoryQueue(queue.WithCapacity(1))
	n := NewNotifier(q, NewLogSink(log), log)
	ctx := context.Background()

	n.Report(ctx, model.Fault{Err: errors.New("a")})
	n.Report(ctx, model.Fault{Err: errors.New("b")})
	assert.Equal(t, 1, q.Len(ctx))
	assert.NoError(t, NewLogSink(log).Send(ctx, "hello"))
}
