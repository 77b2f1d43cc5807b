package dispatcher

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/metrics"
)

// failedAtFormat is RFC3339 with millisecond precision.
const failedAtFormat = "2006-01-02T15:04:05.000Z07:00"

// Broker is the slice of the broker adapter the dispatcher needs.
type Broker interface {
	Ack(deliveryTag uint64) error
	Reject(deliveryTag uint64, requeue bool) error
	PublishToDLQ(ctx context.Context, msg domain.DlqMessage) error
}

// MessageProcessor handles one raw payload.
type MessageProcessor interface {
	Process(ctx context.Context, payload []byte) error
}

// Dispatcher drives the consume loop: it takes deliveries from the broker,
// bounds parallelism with a counting semaphore and routes each outcome to
// ack, or DLQ plus reject without requeue.
type Dispatcher struct {
	broker    Broker
	processor MessageProcessor
	sem       *semaphore.Weighted
	log       zerolog.Logger
}

func New(broker Broker, processor MessageProcessor, concurrency int) *Dispatcher {
	return &Dispatcher{
		broker:    broker,
		processor: processor,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		log:       logger.WithComponent("dispatcher"),
	}
}

// Run consumes deliveries until the stream closes or ctx is canceled, then
// waits for in-flight work to finish. Each delivery holds one concurrency
// slot for the duration of its processing.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	// Cancellation stops the accept loop only. In-flight deliveries run to
	// completion under a context that survives shutdown, so their gateway
	// calls and DLQ publishes are not poisoned mid-flight; anything still
	// unacknowledged is the broker's to redeliver.
	procCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopping, draining in-flight work")
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				d.log.Info().Msg("delivery stream closed, draining in-flight work")
				return nil
			}

			metrics.RecordMessageConsumed()

			if err := d.sem.Acquire(ctx, 1); err != nil {
				// Shutdown while waiting for a slot; the broker redelivers
				// anything unacknowledged.
				d.log.Warn().Err(err).Msg("slot acquire aborted")
				return err
			}

			wg.Add(1)
			go func(delivery amqp.Delivery) {
				defer wg.Done()
				defer d.sem.Release(1)
				d.handle(procCtx, delivery)
			}(delivery)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()
	metrics.IncInflight()
	defer func() {
		metrics.DecInflight()
		metrics.RecordProcessingDuration(time.Since(start))
	}()

	err := d.processor.Process(ctx, delivery.Body)
	if err == nil {
		if ackErr := d.broker.Ack(delivery.DeliveryTag); ackErr != nil {
			// The broker redelivers on reconnect; nothing else to do here.
			d.log.Error().Err(ackErr).Uint64("delivery_tag", delivery.DeliveryTag).Msg("ack failed")
		}
		return
	}

	d.log.Error().Err(err).Uint64("delivery_tag", delivery.DeliveryTag).Msg("message processing failed")

	// Dead-letter only payloads that parse; an unreadable payload carries
	// nothing worth replaying.
	if msg, parseErr := domain.ParseNotification(delivery.Body); parseErr == nil {
		dlq := domain.DlqMessage{
			OriginalMessage: *msg,
			FailureReason:   err.Error(),
			FailedAt:        time.Now().UTC().Format(failedAtFormat),
		}
		if pubErr := d.broker.PublishToDLQ(ctx, dlq); pubErr != nil {
			d.log.Error().Err(pubErr).Str("trace_id", msg.TraceID).Msg("DLQ publish failed")
		} else {
			metrics.RecordDLQMessage(string(domain.CodeOf(err)))
		}
	} else {
		d.log.Error().Err(parseErr).Msg("payload not parseable, skipping DLQ")
	}

	if rejErr := d.broker.Reject(delivery.DeliveryTag, false); rejErr != nil {
		d.log.Error().Err(rejErr).Uint64("delivery_tag", delivery.DeliveryTag).Msg("reject failed")
	}
}
