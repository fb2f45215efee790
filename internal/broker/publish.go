package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/metrics"
)

// PublishMessage encodes a typed message and publishes it under routingKey.
func (b *Broker) PublishMessage(ctx context.Context, routingKey string, msg any) error {
	body, err := messages.Encode(msg)
	if err != nil {
		return err
	}
	return b.publish(ctx, routingKey, body, nil)
}

// publish sends a raw JSON body to the topic exchange under routingKey.
// Messages are persistent so queue contents survive a broker restart.
func (b *Broker) publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
	ch, err := b.publisherChannel()
	if err != nil {
		metrics.BrokerPublishedTotal.WithLabelValues(routingKey, "error").Inc()
		return err
	}

	err = ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		metrics.BrokerPublishedTotal.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("publishing to %s: %w", routingKey, err)
	}

	metrics.BrokerPublishedTotal.WithLabelValues(routingKey, "success").Inc()
	return nil
}

// RetryCount reads the retry counter from a delivery's headers. AMQP tables
// round-trip integers in several widths depending on the client that wrote
// them.
func RetryCount(headers amqp.Table) int {
	v, ok := headers[RetryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Ack acknowledges a delivery after its effects are durably recorded.
func (b *Broker) Ack(queue string, d amqp.Delivery) error {
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("acking delivery on %s: %w", queue, err)
	}
	metrics.BrokerAckedTotal.WithLabelValues(queue).Inc()
	return nil
}

// DeadLetter rejects a delivery without requeue, routing it to the DLX.
func (b *Broker) DeadLetter(queue string, d amqp.Delivery) error {
	if err := d.Reject(false); err != nil {
		return fmt.Errorf("rejecting delivery on %s: %w", queue, err)
	}
	metrics.BrokerDeadLetteredTotal.WithLabelValues(queue).Inc()
	return nil
}

// RetryOrDeadLetter retries a failed delivery by republishing it with an
// incremented retry counter, or dead-letters it once the budget is spent.
// Returns whether the message stays in circulation.
//
// Republishing instead of nack-with-requeue is deliberate: a requeued
// message keeps no count, so a poisoned payload would cycle forever.
func (b *Broker) RetryOrDeadLetter(ctx context.Context, queue string, d amqp.Delivery) (bool, error) {
	count := RetryCount(d.Headers)
	if count >= b.cfg.MaxRetryCount {
		if err := b.DeadLetter(queue, d); err != nil {
			return false, err
		}
		logging.Warn("Message %s exhausted %d retries on %s, dead-lettered",
			messages.PeekType(d.Body), count, queue)
		return false, nil
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryCountHeader] = int32(count + 1)

	if err := b.publish(ctx, queue, d.Body, headers); err != nil {
		// Republish failed; hand the original back to the broker so the
		// message is not lost. The counter stays put for the next attempt.
		logging.Warn("Republish for retry on %s failed (%v); requeueing original", queue, err)
		if nerr := d.Nack(false, true); nerr != nil {
			return false, fmt.Errorf("requeueing delivery on %s: %w", queue, nerr)
		}
		return true, nil
	}

	if err := d.Ack(false); err != nil {
		return true, fmt.Errorf("acking retried delivery on %s: %w", queue, err)
	}
	metrics.BrokerRequeuedTotal.WithLabelValues(queue).Inc()
	return true, nil
}
