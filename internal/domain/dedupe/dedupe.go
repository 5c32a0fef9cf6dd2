// Package dedupe tracks which stream events were already dispatched.
package dedupe

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSize bounds the seen set when no size is configured.
const DefaultMaxSize = 50000

// Deduper records seen event IDs to ensure at-most-once dispatch within the
// retained window.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed dispatch can be retried when the event
	// is delivered again.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// lruDeduper keeps the most recently recorded IDs; the oldest are evicted
// once the window is full.
type lruDeduper struct {
	seen    *lru.Cache[string, struct{}]
	maxSize int
}

// NewInMemoryDeduper creates a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &lruDeduper{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 {
		d.maxSize = DefaultMaxSize
	}
	// lru.New only fails for non-positive sizes.
	d.seen, _ = lru.New[string, struct{}](d.maxSize)
	return d
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	found, _ := d.seen.ContainsOrAdd(id, struct{}{})
	return found
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.seen.Remove(id)
}

func (d *lruDeduper) Size() int64 {
	return int64(d.seen.Len())
}
