package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-forkjoin/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	poolParallelism *prom.GaugeVec
	poolWorkers     *prom.GaugeVec
	poolActive      *prom.GaugeVec
	poolRunning     *prom.GaugeVec
	poolQueued      *prom.GaugeVec
	poolSubmissions *prom.GaugeVec
	poolSteals      *prom.GaugeVec
	poolState       *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "forkjoin",
			Name:      name,
			Help:      help,
		}, append([]string{"pool"}, labels...))
	}
	p := &SnapshotPoller{
		interval:        interval,
		pools:           make(map[string]PoolSnapshotProvider),
		poolParallelism: gauge("pool_parallelism", "Target parallelism per pool."),
		poolWorkers:     gauge("pool_workers", "Registered workers per pool."),
		poolActive:      gauge("pool_active", "Workers not idle per pool."),
		poolRunning:     gauge("pool_running", "Workers neither idle nor blocked per pool."),
		poolQueued:      gauge("pool_queued", "Tasks in worker queues per pool."),
		poolSubmissions: gauge("pool_submissions", "Tasks in submission queues per pool."),
		poolSteals:      gauge("pool_steals", "Steal count snapshot per pool."),
		poolState:       gauge("pool_state", "Pool lifecycle state (1 for the current state).", "state"),
	}

	var err error
	for _, g := range []**prom.GaugeVec{
		&p.poolParallelism, &p.poolWorkers, &p.poolActive, &p.poolRunning,
		&p.poolQueued, &p.poolSubmissions, &p.poolSteals, &p.poolState,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// RemovePool stops exporting the named pool and deletes its series.
func (p *SnapshotPoller) RemovePool(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	delete(p.pools, name)
	p.poolsMu.Unlock()

	labels := prom.Labels{"pool": name}
	for _, g := range []*prom.GaugeVec{
		p.poolParallelism, p.poolWorkers, p.poolActive, p.poolRunning,
		p.poolQueued, p.poolSubmissions, p.poolSteals, p.poolState,
	} {
		g.DeletePartialMatch(labels)
	}
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolParallelism.WithLabelValues(name).Set(float64(stats.Parallelism))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolSubmissions.WithLabelValues(name).Set(float64(stats.Submissions))
		p.poolSteals.WithLabelValues(name).Set(float64(stats.Steals))

		current := lifecycleState(stats)
		for _, state := range []string{"running", "shutdown", "terminated"} {
			v := 0.0
			if state == current {
				v = 1
			}
			p.poolState.WithLabelValues(name, state).Set(v)
		}
	}
}

func lifecycleState(s core.PoolStats) string {
	switch {
	case s.Terminated:
		return "terminated"
	case s.Shutdown:
		return "shutdown"
	default:
		return "running"
	}
}
