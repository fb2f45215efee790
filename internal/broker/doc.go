// Package broker is the RabbitMQ adapter for the pipeline queues.
//
// # Topology
//
// One durable topic exchange carries all pipeline traffic; each queue binds
// with a routing key equal to its own name:
//
//	imageviewer.exchange            topic exchange
//	  collection.creation           expand a parent path into collections
//	  collection.scan               enumerate one collection
//	  image.processing              optional per-image fan-out stage
//	  thumbnail.generation          produce one thumbnail artifact
//	  cache.generation              produce one cache artifact
//	imageviewer.dlx                 dead-letter exchange
//	  imageviewer.dead-letter       collects everything routed to the DLX
//
// Queues are declared with a bounded length, a message TTL, and the DLX as
// their dead-letter exchange. A queue that already exists with different
// arguments is kept as-is: the declaration failure is logged and a passive
// declare verifies the queue, so a settings change never bricks startup
// against a populated broker.
//
// # Delivery Semantics
//
// Deliveries are manually acknowledged. A handler acks only after its
// effects are durably recorded, so every message is processed at least
// once and handlers are written to be idempotent.
//
// Retries are driven by an x-retry-count header: RetryOrDeadLetter
// republishes the body with the counter incremented and acks the original,
// or rejects to the DLX once maxRetryCount is reached. Plain
// nack-with-requeue carries no counter and is only used as the fallback
// when the republish itself fails.
//
// # Connection Handling
//
// Connect dials with bounded exponential backoff. A watcher redials when
// the server drops the connection and re-declares the topology; consumers
// observe their delivery channel closing and re-attach through Consume.
// Publishes run on one shared channel, reopened lazily after channel-level
// errors.
package broker
