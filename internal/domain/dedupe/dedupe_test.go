package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/xferkarma/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should be empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording events", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the event is new", func() {
				seen := d.SeenAndRecord(ctx, "t1_abc")

				Convey("Then it should return false and record the event", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the event was already seen", func() {
				d.SeenAndRecord(ctx, "t1_abc")
				seen := d.SeenAndRecord(ctx, "t1_abc")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the event is unrecorded after a failed dispatch", func() {
				d.SeenAndRecord(ctx, "t1_abc")
				d.Unrecord(ctx, "t1_abc")

				Convey("Then it can be recorded again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "t1_abc"), ShouldBeFalse)
				})
			})

			Convey("And an unknown id is unrecorded", func() {
				d.Unrecord(ctx, "missing")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the window is full", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 0; i < 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("t1_%d", i))
			}

			Convey("Then the oldest id is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "t1_3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "t1_0"), ShouldBeFalse)
			})
		})

		Convey("When the size is not positive", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			So(d.SeenAndRecord(ctx, "t1_a"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 1)
		})

		Convey("When many goroutines race on the same id", func() {
			d := dedupe.NewInMemoryDeduper()
			var wg sync.WaitGroup
			var fresh atomic.Int64
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if !d.SeenAndRecord(ctx, "t1_race") {
						fresh.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(fresh.Load(), ShouldEqual, 1)
			})
		})
	})
}
