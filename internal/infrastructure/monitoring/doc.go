/*
Package monitoring collects Prometheus metrics for the pipeline control
plane.

# Metrics

- HTTP request throughput and latency
- Pipeline lifecycle: active count, creates by result, stops by outcome
- Signals by priority and status snapshots received from children
- Telemetry fanout: subscribers per scope, failed sends, pub/sub bridges

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

Tests pass a fresh prometheus.NewRegistry() so collectors never collide.
*/
package monitoring
