package forkjoin

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swind/go-forkjoin/core"
)

// TestOptionWrappersConfigurePool verifies the re-exported options reach the pool
// Given: A pool built only through root package options
// When: Its accessors are inspected
// Then: Each reflects the option that set it
func TestOptionWrappersConfigurePool(t *testing.T) {
	// Arrange
	var buf bytes.Buffer

	// Act
	p, err := NewPool(
		WithName("wrapped"),
		WithParallelism(3),
		WithAsyncMode(true),
		WithKeepAlive(time.Second),
		WithLogger(NewWriterLogger(&buf)),
	)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer p.ShutdownNow()

	// Assert
	if p.Name() != "wrapped" || p.Parallelism() != 3 || !p.AsyncMode() {
		t.Errorf("pool = %s, want wrapped with parallelism 3 in async mode", p)
	}
	if buf.Len() == 0 {
		t.Error("writer logger received no output")
	}
}

// TestNewPoolWithConfig_InvalidIsWrapped verifies config errors surface through the wrappers
func TestNewPoolWithConfig_InvalidIsWrapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Parallelism = -1

	_, err := NewPoolWithConfig(cfg)

	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewPoolWithConfig() error = %v, want ErrInvalidConfig", err)
	}
	var pe *PoolError
	if !errors.As(err, &pe) {
		t.Errorf("error %T is not a *PoolError", err)
	}
}

func TestReExportedStatusAndErrors(t *testing.T) {
	if StatusCancelled != core.StatusCancelled || ErrTimeout != core.ErrTimeout {
		t.Fatal("re-exported values differ from core")
	}

	task := NewNamedTask("named", func(ctx context.Context) (any, error) { return nil, nil })
	if task.Status() != StatusInitial {
		t.Errorf("Status() = %v, want %v", task.Status(), StatusInitial)
	}
	if !task.Cancel() || task.Status() != StatusCancelled {
		t.Errorf("Status() after Cancel = %v, want %v", task.Status(), StatusCancelled)
	}
	if InWorker(context.Background()) || CurrentPool(context.Background()) != nil {
		t.Error("background context reports a worker")
	}
}
