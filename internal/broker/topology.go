package broker

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageviewer-pipeline/internal/logging"
)

// DeclareTopology declares the exchange, dead-letter exchange and queue,
// and the five pipeline queues with their bindings. Idempotent against a
// broker that already carries the topology; queues that exist with
// different arguments are kept as-is rather than failing startup.
func (b *Broker) DeclareTopology() error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", Exchange, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", DeadLetterExchange, err)
	}

	// Everything routed to the DLX lands in one inspection queue.
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, "#", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", DeadLetterQueue, err)
	}

	args := b.queueArgs()
	for _, queue := range Queues() {
		if err := b.declareQueue(queue, args); err != nil {
			return err
		}
		if err := ch.QueueBind(queue, queue, Exchange, false, nil); err != nil {
			return fmt.Errorf("binding queue %s: %w", queue, err)
		}
	}

	logging.Info("Declared exchange %s with %d queues (dead letters to %s)",
		Exchange, len(Queues()), DeadLetterExchange)
	return nil
}

func (b *Broker) queueArgs() amqp.Table {
	return amqp.Table{
		"x-max-length":           b.cfg.MaxQueueLength,
		"x-message-ttl":          b.cfg.MessageTTL.Milliseconds(),
		"x-dead-letter-exchange": DeadLetterExchange,
	}
}

// declareQueue declares one queue on a short-lived channel. A declaration
// that fails with PRECONDITION_FAILED closes its channel, so each queue
// gets its own; the existing queue is then verified with a passive declare.
func (b *Broker) declareQueue(name string, args amqp.Table) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(name, true, false, false, false, args)
	if err == nil {
		return nil
	}
	if !isPreconditionFailed(err) {
		return fmt.Errorf("declaring queue %s: %w", name, err)
	}

	logging.Warn("Queue %s already exists with different arguments; using the existing queue", name)

	check, cerr := b.channel()
	if cerr != nil {
		return cerr
	}
	defer check.Close()

	if _, err := check.QueueDeclarePassive(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("checking existing queue %s: %w", name, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}
