// Package broker carries live pipeline data between the processes that
// produce it and the WebSocket viewers that consume it.
//
// Pipelines publish to channels named pipeline:<name>:queue:<queue>.
// Redis pub/sub backs multi-process deployments; the in-memory broker
// serves single-process mode and tests. Delivery is best-effort: a slow
// or absent subscriber never blocks a publisher.
package broker
