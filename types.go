package forkjoin

import "github.com/Swind/go-forkjoin/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the forkjoin package for most use cases.

// Task is a unit of work that can be forked into a pool and joined.
type Task = core.Task

// TaskFunc is the body of a Task.
type TaskFunc = core.TaskFunc

// Status is the lifecycle state of a Task.
type Status = core.Status

// Pool is a work-stealing pool of worker goroutines.
type Pool = core.Pool

// Config holds configuration options for a Pool.
type Config = core.Config

// Option configures a Pool.
type Option = core.Option

// PoolStats and QueueStats are observability snapshots.
type PoolStats = core.PoolStats
type QueueStats = core.QueueStats

// ManagedBlocker is a blocking operation run through ManagedBlock.
type ManagedBlocker = core.ManagedBlocker

// Handler and logging contracts.
type (
	Logger              = core.Logger
	Field               = core.Field
	Metrics             = core.Metrics
	PanicHandler        = core.PanicHandler
	RejectedTaskHandler = core.RejectedTaskHandler
	WorkerFactory       = core.WorkerFactory
)

// Error types.
type (
	ExecutionError = core.ExecutionError
	PanicError     = core.PanicError
	PoolError      = core.PoolError
)

// Status constants
const (
	StatusInitial                = core.StatusInitial
	StatusForked                 = core.StatusForked
	StatusCompletedNormally      = core.StatusCompletedNormally
	StatusCompletedExceptionally = core.StatusCompletedExceptionally
	StatusCancelled              = core.StatusCancelled
)

// Constructors
var (
	NewTask                = core.NewTask
	NewNamedTask           = core.NewNamedTask
	NewAction              = core.NewAction
	NewRunnable            = core.NewRunnable
	NewPool                = core.NewPool
	NewPoolWithConfig      = core.NewPoolWithConfig
	DefaultConfig          = core.DefaultConfig
	NewDefaultLogger       = core.NewDefaultLogger
	NewWriterLogger        = core.NewWriterLogger
	NewZerologLogger       = core.NewZerologLogger
	NewLogifaceLogger      = core.NewLogifaceLogger
	NewNoOpLogger          = core.NewNoOpLogger
	F                      = core.F
	GoroutineFactory       = core.GoroutineFactory
	NewDefaultPanicHandler = core.NewDefaultPanicHandler
)

// Options
var (
	WithName                = core.WithName
	WithParallelism         = core.WithParallelism
	WithMinThreads          = core.WithMinThreads
	WithMaxThreads          = core.WithMaxThreads
	WithMinRunnable         = core.WithMinRunnable
	WithKeepAlive           = core.WithKeepAlive
	WithSaturate            = core.WithSaturate
	WithAsyncMode           = core.WithAsyncMode
	WithHelpDepth           = core.WithHelpDepth
	WithWorkerFactory       = core.WithWorkerFactory
	WithLogger              = core.WithLogger
	WithMetrics             = core.WithMetrics
	WithPanicHandler        = core.WithPanicHandler
	WithRejectedTaskHandler = core.WithRejectedTaskHandler
)

// Task helpers usable inside task bodies.
var (
	CurrentPool            = core.CurrentPool
	InWorker               = core.InWorker
	SurplusQueuedTaskCount = core.SurplusQueuedTaskCount
	ManagedBlock           = core.ManagedBlock
	HelpQuiesce            = core.HelpQuiesce
	PollNextLocalTask      = core.PollNextLocalTask
	PeekNextLocalTask      = core.PeekNextLocalTask
)

// Sentinel errors
var (
	ErrRejected          = core.ErrRejected
	ErrPoolShutdown      = core.ErrPoolShutdown
	ErrQueueCapacity     = core.ErrQueueCapacity
	ErrResourceExhausted = core.ErrResourceExhausted
	ErrWorkerCreation    = core.ErrWorkerCreation
	ErrCancelled         = core.ErrCancelled
	ErrTimeout           = core.ErrTimeout
	ErrNilTask           = core.ErrNilTask
	ErrAlreadyForked     = core.ErrAlreadyForked
	ErrInvalidConfig     = core.ErrInvalidConfig
)
