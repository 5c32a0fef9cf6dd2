package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	workerpool "github.com/okian/xferkarma/internal/adapters/mq/worker"
	repository "github.com/okian/xferkarma/internal/adapters/repository"
	"github.com/okian/xferkarma/internal/adapters/responder"
	service "github.com/okian/xferkarma/internal/app"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/internal/domain/scoring"
	"github.com/okian/xferkarma/internal/domain/transfer"
	. "github.com/smartystreets/goconvey/convey"
)

// chanFeed delivers events pushed onto a channel.
type chanFeed struct {
	events chan model.Event
}

func (f *chanFeed) Open(context.Context) (workerpool.Stream, error) { return f, nil }

func (f *chanFeed) Next(ctx context.Context) (model.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	}
}

func (f *chanFeed) Close() error { return nil }

type directory struct {
	source map[string]string
}

func (d directory) SourceFlair(_ context.Context, id string) (string, bool, error) {
	f, ok := d.source[model.NormalizeIdentity(id)]
	return f, ok, nil
}

func (d directory) DestinationFlair(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (d directory) Exists(context.Context, string) (bool, error) { return true, nil }
func (d directory) Banned(context.Context, string) (bool, error) { return false, nil }

type labels struct {
	mu  sync.Mutex
	set map[string]string
}

func (l *labels) SetLabel(_ context.Context, identity, text, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set[model.NormalizeIdentity(identity)] = text
	return nil
}

type poster struct {
	mu      sync.Mutex
	replies map[string]string
}

func (p *poster) ReplyModerated(_ context.Context, parent, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[parent] = text
	return "t1_reply_" + parent, nil
}

func (p *poster) reply(parent string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.replies[parent]
	return text, ok
}

func (p *poster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replies)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service over a real ledger, engine and responder", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ledger, err := repository.Open(ctx, "sqlite://:memory:", repository.WithMetricsUpdateInterval(0))
		So(err, ShouldBeNil)
		So(ledger.Migrate(ctx), ShouldBeNil)

		dir := directory{source: map[string]string{"trader_joe": "+23 Karma", "newbie": ""}}
		flair := &labels{set: map[string]string{}}
		engine := transfer.NewEngine(ledger, dir, flair, scoring.MustPolicy())
		replies := &poster{replies: map[string]string{}}
		resp, err := responder.New(replies, responder.Communities{Source: "GameSale", Destination: "GameTrade"})
		So(err, ShouldBeNil)

		feed := &chanFeed{events: make(chan model.Event, 16)}
		svc := service.New(ledger, engine, resp, feed, service.WithSelf("xferkarmabot"))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()

		Convey("When a user requests a transfer", func() {
			feed.events <- comment("t1_first", "Trader_Joe", "xferkarma!")

			Convey("Then the flair is written, the ledger records it and a reply is posted", func() {
				So(eventually(func() bool { return replies.count() == 1 }), ShouldBeTrue)

				flair.mu.Lock()
				So(flair.set["trader_joe"], ShouldEqual, "Karma: 23")
				flair.mu.Unlock()

				entry, err := svc.Lookup(ctx, "TRADER_JOE")
				So(err, ShouldBeNil)
				So(entry.Amount, ShouldEqual, 23)
				So(entry.SourceURL, ShouldContainSubstring, "t1_first")

				text, _ := replies.reply("t1_first")
				So(text, ShouldContainSubstring, "successfully able to transfer 23 karma from GameSale")
			})

			Convey("And a second request is refused without touching the ledger", func() {
				So(eventually(func() bool { return replies.count() == 1 }), ShouldBeTrue)
				feed.events <- comment("t1_second", "trader_joe", "!xferkarma")

				So(eventually(func() bool { return replies.count() == 2 }), ShouldBeTrue)
				text, _ := replies.reply("t1_second")
				So(strings.Contains(text, "already have transferred 23 karma"), ShouldBeTrue)

				entry, err := svc.Lookup(ctx, "trader_joe")
				So(err, ShouldBeNil)
				So(entry.SourceURL, ShouldContainSubstring, "t1_first")
			})
		})

		Convey("When the same event is delivered twice", func() {
			ev := comment("t1_dup", "newbie", "xferkarma!")
			feed.events <- ev
			feed.events <- ev
			feed.events <- comment("t1_after", "someone", "not a command")
			feed.events <- comment("t1_marker", "trader_joe", "xferkarma!")

			Convey("Then it is dispatched once", func() {
				So(eventually(func() bool { return replies.count() == 2 }), ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)
				So(replies.count(), ShouldEqual, 2)
				So(svc.GetStats()["dispatched"], ShouldEqual, int64(3))
			})
		})
	})
}
