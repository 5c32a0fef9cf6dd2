// Package queue buffers faults between the recovery loop and alerting.
//
// Enqueue never blocks: the recovery loop must not stall because a webhook
// is slow, so a full queue drops the fault and counts it.
package queue

import (
	"context"
	"sync"

	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/pkg/metrics"
)

const defaultQueueCapacity = 64

// Fault is the payload type flowing through the queue.
type Fault = model.Fault

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a fault to the queue.
	// Returns false if the queue is full or closed and the fault was dropped.
	Enqueue(ctx context.Context, f Fault) bool

	// Dequeue returns a channel that receives faults as they become
	// available. The channel is closed when the queue is closed and drained,
	// or when ctx ends.
	Dequeue(ctx context.Context) <-chan Fault

	// Len returns the current number of queued faults.
	Len(ctx context.Context) int

	// Close stops accepting faults. Queued faults can still be dequeued.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	faults   chan Fault
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.faults = make(chan Fault, q.capacity)
	metrics.UpdateFaultQueueSize(0)
	return q
}

// Enqueue adds a fault to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, f Fault) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || ctx.Err() != nil {
		metrics.RecordFaultDropped()
		return false
	}

	select {
	case q.faults <- f:
		metrics.UpdateFaultQueueSize(len(q.faults))
		return true
	default:
		metrics.RecordFaultDropped()
		return false
	}
}

// Dequeue returns a channel that will receive faults as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Fault {
	out := make(chan Fault)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-q.faults:
				if !ok {
					return
				}
				metrics.UpdateFaultQueueSize(len(q.faults))
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued faults.
func (q *InMemoryQueue) Len(context.Context) int {
	return len(q.faults)
}

// Close stops accepting new faults.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.faults)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
