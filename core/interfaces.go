package core

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution on a pool worker.
// The panic is also stored in the task as a *PanicError, so joiners observe it.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task body received
	// - poolName: The name of the pool where the panic occurred
	// - workerID: The queue index of the worker
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, poolName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics, at most a few per second per pool so a
// failing recursive computation cannot flood the log.
type DefaultPanicHandler struct {
	logger  Logger
	limiter *catrate.Limiter
}

// NewDefaultPanicHandler creates a DefaultPanicHandler logging to logger.
func NewDefaultPanicHandler(logger Logger) *DefaultPanicHandler {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &DefaultPanicHandler{
		logger: logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
	}
}

// HandlePanic logs the panic unless the pool's rate limit is exhausted.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, poolName string, workerID int, panicInfo any, stackTrace []byte) {
	if _, ok := h.limiter.Allow(poolName); !ok {
		return
	}
	h.logger.Error("task panicked",
		F("pool", poolName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting pool metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task executed by a worker took.
	RecordTaskDuration(poolName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(poolName string, panicInfo any)

	// RecordQueueDepth records the depth of a submission queue after a push.
	RecordQueueDepth(poolName string, depth int)

	// RecordTaskRejected records that a submission was rejected.
	RecordTaskRejected(poolName string, reason string)

	// RecordCompensation records how a blocked joiner was compensated:
	// "wake", "reduce", "spawn" or "saturate".
	RecordCompensation(poolName string, kind string)

	// RecordWorkerChange records a worker starting (+1) or exiting (-1).
	RecordWorkerChange(poolName string, delta int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(poolName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(poolName string, panicInfo any)            {}
func (m *NilMetrics) RecordQueueDepth(poolName string, depth int)               {}
func (m *NilMetrics) RecordTaskRejected(poolName string, reason string)         {}
func (m *NilMetrics) RecordCompensation(poolName string, kind string)           {}
func (m *NilMetrics) RecordWorkerChange(poolName string, delta int)             {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is rejected, either because
// the pool is shutting down or because a queue reached its capacity.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(poolName string, reason string)
}

// LoggingRejectedTaskHandler logs rejected submissions at warn level.
type LoggingRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *LoggingRejectedTaskHandler) HandleRejectedTask(poolName string, reason string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn("task rejected", F("pool", poolName), F("reason", reason))
}

// =============================================================================
// ManagedBlocker
// =============================================================================

// ManagedBlocker is a blocking operation that may be run inside a task via
// ManagedBlock. The pool may activate a spare worker while it blocks.
type ManagedBlocker interface {
	// Block blocks the caller, returning true once no further blocking is needed.
	Block() bool

	// IsReleasable reports whether blocking is unnecessary.
	IsReleasable() bool
}
