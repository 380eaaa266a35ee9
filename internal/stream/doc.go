// Package stream implements the durable event stream that connects a
// pipeline's producer to its consumers: an append-only, replayable log with
// independent consumer groups and per-record acknowledgment.
//
// Delivery semantics are at-least-once per group. A record that is read but
// not acknowledged within the visibility timeout is redelivered to the
// group, possibly to a different consumer instance. Redelivery is bounded:
// after MaxDeliveries attempts the record is moved to a dead-letter table
// instead of being retried forever, so one poison record cannot wedge a
// consumer group.
//
// Groups never share cursors. Two modules reading the same stream progress
// entirely independently, which is what allows consumer modules to run in
// parallel without ordering relationships across groups.
//
// Completion is signaled in-band: the producer's last write is a completion
// marker record. Consumers treat the marker as "no more input will arrive"
// but must still drain and acknowledge every earlier record before their
// own job may complete; the worker package enforces that rule.
package stream
