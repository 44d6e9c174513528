// Package ws streams pipeline telemetry to WebSocket viewers.
//
// Routes:
//   - /ws/pipeline/:name: status updates and lifecycle notices
//   - /ws/pipeline/:name/queue/:queue: data published to one queue
//
// Every connection first receives a connection_status acknowledgement.
// Connections to pipelines that are not registered are closed with code
// 4004. Client messages are read and discarded; the read loop only keeps
// the connection alive and notices when the viewer leaves.
package ws
