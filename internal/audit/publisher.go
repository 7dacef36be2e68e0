package audit

import (
	"context"
	"log/slog"
	"time"

	"debtgate/internal/platform/middleware"
	"debtgate/pkg/platform/circuit"
)

// Sink is where drained events end up: Kafka in production, memory in tests.
type Sink interface {
	Publish(ctx context.Context, events []Event) error
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// Publisher buffers events and drains them to a sink in batches. Emit never
// blocks: under sustained overload the oldest events are dropped, and the
// drop count is logged at flush time.
type Publisher struct {
	buffer  *ringBuffer
	sink    Sink
	breaker *circuit.Breaker
	logger  *slog.Logger

	batchSize     int
	flushInterval time.Duration

	lastDropped int64
}

func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		buffer:        newRingBuffer(0),
		sink:          sink,
		breaker:       circuit.New("audit-sink", circuit.WithFailureThreshold(3)),
		logger:        logger,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
}

// Emit enqueues an event, stamping the timestamp and request id.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestID(ctx)
	}
	p.buffer.enqueue(event)
}

// Run drains the buffer until the context is cancelled, then performs a final
// flush so shutdown does not lose buffered events.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	for {
		batch := p.buffer.dequeueBatch(p.batchSize)
		if len(batch) == 0 {
			break
		}
		if err := p.sink.Publish(ctx, batch); err != nil {
			_, change := p.breaker.RecordFailure()
			p.logger.ErrorContext(ctx, "failed to publish audit batch",
				"error", err,
				"batch_size", len(batch),
				"breaker_opened", change.Opened,
			)
			// Re-enqueue would reorder; accept the loss and move on.
			break
		}
		p.breaker.RecordSuccess()

		// While the breaker is open, one probe batch per interval is enough;
		// the rest stays buffered until the sink recovers.
		if p.breaker.IsOpen() {
			break
		}
	}

	if dropped := p.buffer.droppedCount(); dropped > p.lastDropped {
		p.logger.WarnContext(ctx, "audit buffer overflow dropped events",
			"dropped_total", dropped,
		)
		p.lastDropped = dropped
	}
}
