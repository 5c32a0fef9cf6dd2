package reddit

import (
	"context"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okian/xferkarma/internal/domain/model"
)

const (
	seenWindow   = 1024
	pollMinDelay = time.Second
	pollMaxDelay = 16 * time.Second
)

// CommentFeed opens polling streams over a community's newest comments.
type CommentFeed struct {
	client    *Client
	subreddit string
	minDelay  time.Duration
	maxDelay  time.Duration
}

// NewCommentFeed creates a feed over subreddit. Idle polls back off from
// minDelay doubling up to maxDelay; zero values use the defaults.
func NewCommentFeed(c *Client, subreddit string, minDelay, maxDelay time.Duration) *CommentFeed {
	if minDelay <= 0 {
		minDelay = pollMinDelay
	}
	if maxDelay < minDelay {
		maxDelay = max(pollMaxDelay, minDelay)
	}
	return &CommentFeed{client: c, subreddit: subreddit, minDelay: minDelay, maxDelay: maxDelay}
}

// Open starts a stream positioned at "now": comments that already exist are
// marked seen and never delivered.
func (f *CommentFeed) Open(ctx context.Context) (*CommentStream, error) {
	// lru.New only fails for non-positive sizes.
	seen, _ := lru.New[string, struct{}](seenWindow)
	s := &CommentStream{feed: f, seen: seen, delay: f.minDelay}
	if _, err := s.poll(ctx); err != nil {
		return nil, err
	}
	s.pending = s.pending[:0]
	return s, nil
}

// CommentStream delivers new comments oldest first.
type CommentStream struct {
	feed    *CommentFeed
	seen    *lru.Cache[string, struct{}]
	pending []model.Event
	delay   time.Duration
	closed  atomic.Bool
}

// Next blocks until a new comment arrives, ctx ends, or a poll fails.
func (s *CommentStream) Next(ctx context.Context) (model.Event, error) {
	for {
		if s.closed.Load() {
			return model.Event{}, ErrStreamClosed
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		n, err := s.poll(ctx)
		if err != nil {
			return model.Event{}, err
		}
		if n > 0 {
			s.delay = s.feed.minDelay
			continue
		}

		select {
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		case <-s.feed.client.clock.After(s.delay):
		}
		s.delay = min(s.delay*2, s.feed.maxDelay)
	}
}

// Close ends the stream. It is safe to call more than once.
func (s *CommentStream) Close() error {
	s.closed.Store(true)
	return nil
}

// poll fetches the newest page and queues unseen comments. The listing is
// newest first; the queue is oldest first.
func (s *CommentStream) poll(ctx context.Context) (int, error) {
	var l listing[commentData]
	q := url.Values{"limit": {"100"}}
	if err := s.feed.client.get(ctx, "comments", "/r/"+s.feed.subreddit+"/comments", q, &l); err != nil {
		return 0, err
	}

	fresh := make([]model.Event, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if found, _ := s.seen.ContainsOrAdd(child.Data.Name, struct{}{}); found {
			continue
		}
		fresh = append(fresh, child.Data.event())
	}
	slices.Reverse(fresh)
	s.pending = append(s.pending, fresh...)
	return len(fresh), nil
}
