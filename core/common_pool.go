package core

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// CommonParallelismEnv overrides the common pool's parallelism.
const CommonParallelismEnv = "FORKJOIN_COMMON_PARALLELISM"

var (
	commonPool atomic.Pointer[Pool]
	commonMu   sync.Mutex
)

// InitCommonPool builds the common pool with opts applied over its
// defaults. It returns false if the common pool already exists.
func InitCommonPool(opts ...Option) (bool, error) {
	commonMu.Lock()
	defer commonMu.Unlock()

	if commonPool.Load() != nil {
		return false, nil
	}
	p, err := newCommonPool(opts...)
	if err != nil {
		return false, err
	}
	commonPool.Store(p)
	return true, nil
}

// CommonPool returns the process-wide pool used by Fork outside a worker.
// It is built on first use and never terminates.
func CommonPool() *Pool {
	if p := commonPool.Load(); p != nil {
		return p
	}
	commonMu.Lock()
	defer commonMu.Unlock()

	if p := commonPool.Load(); p != nil {
		return p
	}
	p, err := newCommonPool()
	if err != nil {
		// defaults always validate
		panic(err)
	}
	commonPool.Store(p)
	return p
}

func commonPoolIfStarted() *Pool {
	return commonPool.Load()
}

func newCommonPool(opts ...Option) (*Pool, error) {
	cfg := DefaultConfig()
	cfg.Name = "common"
	cfg.Parallelism = commonParallelism()
	for _, opt := range opts {
		opt(cfg)
	}
	p, err := NewPoolWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	p.common = true
	return p, nil
}

func commonParallelism() int {
	if s := os.Getenv(CommonParallelismEnv); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return min(n, maxCap)
		}
	}
	return max(runtime.GOMAXPROCS(0)-1, 1)
}

// IsCommon reports whether p is the common pool.
func (p *Pool) IsCommon() bool { return p.common }
