// Package main is the entry point for the robot arm pipeline server.
//
// The server supervises camera-guided pick-and-place pipelines and exposes
// them over HTTP and WebSocket:
//
//	Operator UI → server → pipeline child (one OS process per pipeline)
//	                    ↘ telemetry fanout → WebSocket viewers
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Per-pipeline override files in PIPELINE_CONFIG_DIR
//
// Usage:
//
//	# Serve on :8000 with process isolation
//	./server
//
//	# Development mode, start a pipeline right away
//	./server serve --dev --pipeline yahboom_pick_and_place
//
// The hidden child command is what the server re-executes for every
// pipeline; it is not meant to be run by hand.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
