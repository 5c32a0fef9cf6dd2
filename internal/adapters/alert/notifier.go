package alert

import (
	"context"

	"github.com/okian/xferkarma/internal/adapters/mq/queue"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/pkg/logger"
	"github.com/okian/xferkarma/pkg/metrics"
)

// Notifier queues faults and delivers them to a sink from its own
// goroutine.
type Notifier struct {
	queue queue.Queue
	sink  Sink
	log   logger.Logger
}

// NewNotifier creates a notifier draining q into sink.
func NewNotifier(q queue.Queue, sink Sink, log logger.Logger) *Notifier {
	return &Notifier{queue: q, sink: sink, log: log}
}

// Report queues f. It never blocks.
func (n *Notifier) Report(ctx context.Context, f model.Fault) {
	if !n.queue.Enqueue(ctx, f) {
		n.log.Warn(ctx, "alert dropped", logger.String("fault", f.Summary()))
	}
}

// Run delivers queued faults until ctx ends or the queue is closed.
func (n *Notifier) Run(ctx context.Context) error {
	for f := range n.queue.Dequeue(ctx) {
		if err := n.sink.Send(ctx, f.Summary()); err != nil {
			metrics.RecordAlertFailed()
			n.log.Error(ctx, "alert delivery failed", logger.Error(err))
			continue
		}
		metrics.RecordAlertSent()
	}
	return nil
}
