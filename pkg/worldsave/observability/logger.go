// Package observability provides structured logging, metrics and tracing
// for save and load tasks.
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

// EnrichLogger adds task context to a logger.
// Returns a new logger with task_id, task_kind and scope fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "8d3c...", "save", "both")
//	enriched.Info("encoding level") // includes task_id, task_kind, scope
func EnrichLogger(logger *slog.Logger, taskID, kind, scope string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("task_id", taskID),
		slog.String("task_kind", kind),
		slog.String("scope", scope),
	)
}

// LogTaskStart logs the start of a task.
func LogTaskStart(logger *slog.Logger, slot string) {
	if logger == nil {
		return
	}
	logger.Info("task starting",
		slog.String("slot", slot),
	)
}

// LogTaskComplete logs successful task completion.
func LogTaskComplete(logger *slog.Logger, durationMs float64, ticks int) {
	if logger == nil {
		return
	}
	logger.Info("task completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("ticks", ticks),
	)
}

// LogTaskError logs task failure.
func LogTaskError(logger *slog.Logger, err error, durationMs float64, lastStep string) {
	if logger == nil {
		return
	}
	logger.Error("task failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_step", lastStep),
	)
}

// LogStep logs a state transition.
func LogStep(logger *slog.Logger, step string) {
	if logger == nil {
		return
	}
	logger.Debug("task step",
		slog.String("step", step),
	)
}

// LogBlobWritten logs a blob write.
func LogBlobWritten(logger *slog.Logger, key string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("blob written",
		slog.String("key", key),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogSpawnFailure logs a record that could not be re-created (non-fatal).
func LogSpawnFailure(logger *slog.Logger, identity, class string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("spawn failed, record skipped",
		slog.String("identity", identity),
		slog.String("class", class),
		slog.String("error", err.Error()),
	)
}

// LogVersionMismatch logs artifacts of one slot written by different
// versions (non-fatal).
func LogVersionMismatch(logger *slog.Logger, slot string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("save version mismatch",
		slog.String("slot", slot),
		slog.String("error", err.Error()),
	)
}

// LogWatchdogExpired logs a task killed by its deadline.
func LogWatchdogExpired(logger *slog.Logger, deadline time.Duration, step string) {
	if logger == nil {
		return
	}
	logger.Error("task watchdog expired",
		slog.Duration("deadline", deadline),
		slog.String("step", step),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
