// Package logging provides structured logging using uber/zap.
//
// Two encodings are available:
//   - Production: JSON lines for machine parsing
//   - Development: colored console output for humans
//
// Pipeline child processes must log to stderr because their stdout
// carries the status stream, so every constructor takes output paths
// explicitly through Config.
//
//	logger := logging.NewDefault()
//	logger.Info("Pipeline started", zap.String("pipeline", name))
package logging
