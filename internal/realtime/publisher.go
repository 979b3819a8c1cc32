package realtime

import (
	"context"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/observability/metrics"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 2 * time.Second
)

// Publisher implements requests.Publisher. Publish enqueues and returns; a
// pump goroutine started by Run forwards to the broker.
type Publisher struct {
	broker  Broker
	queue   chan Envelope
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewPublisher(broker Broker, queueSize int, m *metrics.BookingMetrics, logger *logging.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		broker:  broker,
		queue:   make(chan Envelope, queueSize),
		metrics: m,
		logger:  logger.Component("realtime.publisher"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish never blocks. When the queue is full the event is dropped and counted.
func (p *Publisher) Publish(_ context.Context, change requests.Change) {
	if change.Request == nil {
		return
	}
	env := FromChange(change, p.now())
	select {
	case p.queue <- env:
		p.metrics.ObserveRealtime("queued")
	default:
		p.metrics.ObserveRealtime("dropped_queue_full")
		p.logger.Warn("realtime queue full, dropping event", "type", env.Event.Type, "booking_id", change.Request.ID)
	}
}

// Run pumps queued envelopes to the broker until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			pctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
			err := p.broker.Publish(pctx, env)
			cancel()
			if err != nil {
				p.metrics.ObserveRealtime("publish_failed")
				p.logger.Warn("realtime publish failed", "type", env.Event.Type, "error", err)
				continue
			}
			p.metrics.ObserveRealtime("published")
		}
	}
}
