package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageviewer-pipeline/internal/metrics"
)

// Consume opens a dedicated channel with the configured prefetch and starts
// delivering messages from queue. The returned channel closes when the
// connection drops or ctx is cancelled; callers are expected to loop and
// call Consume again after a drop.
func (b *Broker) Consume(ctx context.Context, queue, consumerTag string) (<-chan amqp.Delivery, error) {
	ch, err := b.channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("setting prefetch on %s: %w", queue, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consuming from %s: %w", queue, err)
	}

	out := make(chan amqp.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()

		for d := range deliveries {
			metrics.BrokerConsumedTotal.WithLabelValues(queue).Inc()
			if d.Redelivered {
				metrics.BrokerRedeliveredTotal.WithLabelValues(queue).Inc()
			}

			select {
			case out <- d:
			case <-ctx.Done():
				// Not handled by anyone; give it back to the broker.
				_ = d.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

// queueDepth returns the number of messages waiting in a queue.
func (b *Broker) queueDepth(queue string) (int64, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspecting queue %s: %w", queue, err)
	}
	return int64(q.Messages), nil
}

// QueueDepths returns the depth of every pipeline queue plus the dead-letter
// queue.
func (b *Broker) QueueDepths() (map[string]int64, error) {
	queues := append(Queues(), DeadLetterQueue)
	depths := make(map[string]int64, len(queues))
	for _, queue := range queues {
		depth, err := b.queueDepth(queue)
		if err != nil {
			return nil, err
		}
		depths[queue] = depth
	}
	return depths, nil
}

// Purge drops all messages waiting in a queue. Returns the number purged.
func (b *Broker) Purge(queue string) (int, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	n, err := ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("purging queue %s: %w", queue, err)
	}
	return n, nil
}
