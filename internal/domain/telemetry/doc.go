// Package telemetry fans pipeline status and queue data out to live
// subscribers.
//
// Subscribers attach either to a pipeline's status feed or to one of its
// data queues. Queue feeds are bridged lazily from the broker: the first
// subscriber on a queue opens the broker subscription, the last one to
// leave tears it down. A subscriber whose send fails is dropped on the
// spot and never retried.
package telemetry
