package reddit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReddit serves the token endpoint and delegates the rest to routes.
type fakeReddit struct {
	t      *testing.T
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	tokens atomic.Int32
	forms  map[string][]map[string]string
}

func newFakeReddit(t *testing.T) (*fakeReddit, *httptest.Server) {
	f := &fakeReddit{t: t, routes: map[string]http.HandlerFunc{}, forms: map[string][]map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeReddit) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = h
}

func (f *fakeReddit) posted(path string) []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func (f *fakeReddit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/access_token" {
		user, pass, ok := r.BasicAuth()
		assert.True(f.t, ok)
		assert.Equal(f.t, "id", user)
		assert.Equal(f.t, "secret", pass)
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "password", r.PostForm.Get("grant_type"))
		n := f.tokens.Add(1)
		writeJSON(w, map[string]any{"access_token": "tok" + string(rune('0'+n)), "expires_in": 3600})
		return
	}
	assert.Equal(f.t, "xferkarma-test", r.UserAgent())
	if r.Method == http.MethodPost {
		require.NoError(f.t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.mu.Lock()
		f.forms[r.URL.Path] = append(f.forms[r.URL.Path], form)
		f.mu.Unlock()
	}
	f.mu.Lock()
	h, ok := f.routes[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithBaseURLs(srv.URL, srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000, 100),
	}
	return NewClient(Credentials{ClientID: "id", ClientSecret: "secret", Username: "bot", Password: "pw"},
		"xferkarma-test", append(base, opts...)...)
}

func TestClient_TokenIsCachedUntilExpiry(t *testing.T) {
	f, srv := newFakeReddit(t)
	clock := clockwork.NewFakeClock()
	var auth []string
	f.handle("/r/test/about/moderators", func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"data": map[string]any{"children": []any{}}})
	})
	c := newTestClient(srv, WithClock(clock))
	d := NewDirectory(c, "Market76", "test")
	ctx := context.Background()

	_, err := d.Moderators(ctx)
	require.NoError(t, err)
	_, err = d.Moderators(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.tokens.Load())
	assert.Equal(t, []string{"bearer tok1", "bearer tok1"}, auth)

	clock.Advance(time.Hour)
	_, err = d.Moderators(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.tokens.Load())
}

func TestClient_UnauthorizedDropsToken(t *testing.T) {
	f, srv := newFakeReddit(t)
	var calls atomic.Int32
	f.handle("/r/test/wiki/page", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"data": map[string]any{"content_md": "ok"}})
	})
	d := NewDirectory(newTestClient(srv), "Market76", "test")

	_, err := d.WikiPage(context.Background(), "page")
	assert.ErrorIs(t, err, ErrAuth)

	md, err := d.WikiPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, "ok", md)
	assert.EqualValues(t, 2, f.tokens.Load())
}

func TestClient_StatusMapping(t *testing.T) {
	f, srv := newFakeReddit(t)
	status := http.StatusOK
	f.handle("/r/test/wiki/page", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	d := NewDirectory(newTestClient(srv), "Market76", "test")

	cases := []struct {
		code     int
		want     error
		upstream bool
	}{
		{http.StatusForbidden, ErrForbidden, false},
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusTooManyRequests, ErrUpstream, true},
		{http.StatusBadGateway, ErrUpstream, true},
		{http.StatusBadRequest, ErrAPI, false},
	}
	for _, tc := range cases {
		status = tc.code
		_, err := d.WikiPage(context.Background(), "page")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.code)
		assert.Equal(t, tc.upstream, IsUpstream(err), "status %d", tc.code)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	f, srv := newFakeReddit(t)
	var calls atomic.Int32
	f.handle("/r/test/wiki/page", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"data": map[string]any{"content_md": "third time"}})
	})
	c := NewClient(Credentials{ClientID: "id", ClientSecret: "secret"}, "xferkarma-test",
		WithBaseURLs(srv.URL, srv.URL),
		WithRetries(3, time.Millisecond, 2*time.Millisecond),
	)

	md, err := NewDirectory(c, "Market76", "test").WikiPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, "third time", md)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_ReplyIsNotRetried(t *testing.T) {
	f, srv := newFakeReddit(t)
	f.handle("/api/comment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := NewClient(Credentials{ClientID: "id", ClientSecret: "secret"}, "xferkarma-test",
		WithBaseURLs(srv.URL, srv.URL),
		WithRetries(3, time.Millisecond, 2*time.Millisecond),
	)

	_, err := c.Reply(context.Background(), "t1_parent", "hello")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.Len(t, f.posted("/api/comment"), 1)
}

func TestClient_NetworkFailureIsUpstream(t *testing.T) {
	_, srv := newFakeReddit(t)
	c := newTestClient(srv)
	srv.Close()

	_, err := NewDirectory(c, "Market76", "test").Moderators(context.Background())
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
}

func TestClient_ReplyModerated(t *testing.T) {
	f, srv := newFakeReddit(t)
	f.handle("/api/comment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"json": map[string]any{
			"errors": []any{},
			"data":   map[string]any{"things": []any{map[string]any{"data": map[string]any{"name": "t1_reply"}}}},
		}})
	})
	f.handle("/api/distinguish", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	f.handle("/api/lock", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})
	c := newTestClient(srv)

	id, err := c.ReplyModerated(context.Background(), "t1_parent", "hello")
	require.NoError(t, err)
	assert.Equal(t, "t1_reply", id)

	comment := f.posted("/api/comment")
	require.Len(t, comment, 1)
	assert.Equal(t, "t1_parent", comment[0]["thing_id"])
	assert.Equal(t, "hello", comment[0]["text"])
	assert.Equal(t, "t1_reply", f.posted("/api/lock")[0]["id"])
	assert.Equal(t, "yes", f.posted("/api/distinguish")[0]["how"])
}

func TestClient_ReplyAPIErrors(t *testing.T) {
	f, srv := newFakeReddit(t)
	f.handle("/api/comment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"json": map[string]any{
			"errors": []any{[]any{"THREAD_LOCKED", "that comment is locked", "parent"}},
		}})
	})

	_, err := newTestClient(srv).Reply(context.Background(), "t1_parent", "hello")
	assert.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "THREAD_LOCKED")
}
