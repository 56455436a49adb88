// Package observability provides structured logging, metrics and
// distributed tracing for featureflow passes.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pass context to a logger.
// Returns a new logger with identity, transformer and aggregate fields.
// Empty values are omitted.
//
// Example:
//
//	enriched := EnrichLogger(logger, "user-1", "sessions", "")
//	enriched.Info("processing") // includes identity, transformer
func EnrichLogger(logger *slog.Logger, identity, transformer, aggregate string) *slog.Logger {
	if logger == nil {
		return nil
	}
	attrs := make([]any, 0, 3)
	if identity != "" {
		attrs = append(attrs, slog.String("identity", identity))
	}
	if transformer != "" {
		attrs = append(attrs, slog.String("transformer", transformer))
	}
	if aggregate != "" {
		attrs = append(attrs, slog.String("aggregate", aggregate))
	}
	return logger.With(attrs...)
}

// LogPassStart logs the start of an identity pass.
func LogPassStart(logger *slog.Logger, transformer, identity string, events int) {
	if logger == nil {
		return
	}
	logger.Debug("pass starting",
		slog.String("transformer", transformer),
		slog.String("identity", identity),
		slog.Int("events", events),
	)
}

// LogPassComplete logs a finished identity pass.
func LogPassComplete(logger *slog.Logger, transformer, identity string, durationMs float64, rows int) {
	if logger == nil {
		return
	}
	logger.Info("pass completed",
		slog.String("transformer", transformer),
		slog.String("identity", identity),
		slog.Float64("duration_ms", durationMs),
		slog.Int("rows", rows),
	)
}

// LogPassError logs a failed identity pass.
func LogPassError(logger *slog.Logger, transformer, identity string, err error) {
	if logger == nil {
		return
	}
	logger.Error("pass failed",
		slog.String("transformer", transformer),
		slog.String("identity", identity),
		slog.String("error", err.Error()),
	)
}

// LogBlockPersisted logs an aggregate snapshot written to a store.
func LogBlockPersisted(logger *slog.Logger, aggregate, key string) {
	if logger == nil {
		return
	}
	logger.Debug("aggregate persisted",
		slog.String("aggregate", aggregate),
		slog.String("key", key),
	)
}

// LogWindowEmitted logs a window row produced for an anchor block.
func LogWindowEmitted(logger *slog.Logger, identity string, anchorStart time.Time) {
	if logger == nil {
		return
	}
	logger.Debug("window emitted",
		slog.String("identity", identity),
		slog.Time("anchor_start", anchorStart),
	)
}

// LogStoreError logs a store operation failure.
func LogStoreError(logger *slog.Logger, storeName, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("store operation failed",
		slog.String("store", storeName),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
