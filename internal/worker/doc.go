// Package worker provides the worker-side client library: the small amount
// of coordination logic every module worker needs, regardless of what its
// enrichment logic does.
//
// A Producer appends discovery records to its stream and finishes with the
// completion marker as its final write. A Runner drives a consumer: it
// reads batches under the module's consumer group, hands each record to an
// opaque handler, acknowledges handled records, and only after the
// completion marker has been seen AND every earlier record acknowledged
// does it transition the module's own job to completed. Seeing the marker
// alone never completes a job; that rule is what keeps "stream fully read"
// and "work done" apart.
//
// Handlers must be idempotent. Delivery is at-least-once: a crash between
// handling and acking means the record is handled again after redelivery.
package worker
