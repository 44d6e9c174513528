// Package http provides the REST control plane for pipelines.
//
// Endpoints:
//   - Health: / and /health
//   - Pipelines: GET /pipelines, GET /status
//   - Lifecycle: POST /pipelines/:name/start, POST /pipelines/:name/stop
//   - Control: POST /pipelines/:name/signal, GET /pipelines/:name/status
//   - Metrics: GET /metrics (Prometheus text format)
//
// Errors are reported as {"error": "...", "request_id": "..."} with the
// status chosen from the domain error: unknown pipelines are 404, bad
// input is 400, a pipeline that is not running is 409 and a pipeline
// that fails to build is 422.
//
// Example Usage:
//
//	handlers := http.NewHandlers(mgr, registry).WithLogger(logger)
//	handlers.Register(router)
package http
