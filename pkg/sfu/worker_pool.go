package sfu

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/LingByte/LingSFU/pkg/constants"
	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

// WorkerHandle pairs an engine worker with its load and liveness record
type WorkerHandle struct {
	*models.Worker
	Engine   mediaengine.Worker
	Settings mediaengine.WorkerSettings
}

// WorkerPool owns a fixed set of engine workers. Worker death is fatal:
// the pool marks the worker dead, notifies death listeners and invokes the
// fatal handler once.
type WorkerPool struct {
	engine   mediaengine.Engine
	cfg      *Config
	balancer Balancer
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	workers   []*WorkerHandle
	listeners []func(*WorkerHandle, error)
	fatal     func(error)
	fatalOnce sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(engine mediaengine.Engine, cfg *Config, l *zap.Logger, m *metrics.Metrics) *WorkerPool {
	cfg = cfg.normalize()
	lg := logger.Named(l, "worker-pool")
	return &WorkerPool{
		engine:   engine,
		cfg:      cfg,
		balancer: NewBalancer(cfg.Balancer, lg),
		logger:   lg,
		metrics:  m,
	}
}

// WorkerCount resolves the pool size: the configured count, or the logical
// CPU count, capped so every worker owns MinPortsPerWorker ports.
func WorkerCount(cfg *Config) int {
	cfg = cfg.normalize()
	n := cfg.NumWorkers
	if n <= 0 {
		if c, err := cpu.Counts(true); err == nil && c > 0 {
			n = c
		} else {
			n = runtime.NumCPU()
		}
	}
	ports := int(cfg.RtcMaxPort) - int(cfg.RtcMinPort) + 1
	limit := ports / constants.MinPortsPerWorker
	if limit < 1 {
		limit = 1
	}
	if n > limit {
		n = limit
	}
	return n
}

// splitPorts divides [min,max] into n disjoint contiguous slices
func splitPorts(min, max uint16, n int) []mediaengine.WorkerSettings {
	total := int(max) - int(min) + 1
	size := total / n
	out := make([]mediaengine.WorkerSettings, n)
	start := int(min)
	for i := 0; i < n; i++ {
		end := start + size - 1
		if i == n-1 {
			end = int(max)
		}
		out[i] = mediaengine.WorkerSettings{RtcMinPort: uint16(start), RtcMaxPort: uint16(end)}
		start = end + 1
	}
	return out
}

// Start creates the workers and their liveness monitors
func (p *WorkerPool) Start(ctx context.Context) error {
	n := WorkerCount(p.cfg)
	settings := splitPorts(p.cfg.RtcMinPort, p.cfg.RtcMaxPort, n)

	monitorCtx, cancel := context.WithCancel(context.Background())
	handles := make([]*WorkerHandle, 0, n)
	for i, s := range settings {
		w, err := callEngine(ctx, p.cfg.OperationTimeout, func(ctx context.Context) (mediaengine.Worker, error) {
			return p.engine.CreateWorker(ctx, s)
		}, func(w mediaengine.Worker) { _ = w.Close() })
		if err != nil {
			cancel()
			for _, h := range handles {
				_ = h.Engine.Close()
			}
			return fmt.Errorf("create worker %d: %w", i, err)
		}
		h := &WorkerHandle{Worker: models.NewWorker(w.ID(), i), Engine: w, Settings: s}
		handles = append(handles, h)
		p.logger.Info("worker started",
			zap.String("worker_id", w.ID()),
			zap.Int("index", i),
			zap.Uint16("rtc_min_port", s.RtcMinPort),
			zap.Uint16("rtc_max_port", s.RtcMaxPort))
	}

	p.mu.Lock()
	p.workers = handles
	p.cancel = cancel
	p.mu.Unlock()

	for _, h := range handles {
		p.wg.Add(1)
		go p.monitor(monitorCtx, h)
	}
	p.metrics.SetWorkers(len(handles), 0)
	return nil
}

func (p *WorkerPool) monitor(ctx context.Context, h *WorkerHandle) {
	defer p.wg.Done()
	select {
	case <-h.Engine.Died():
		err := h.Engine.Err()
		if err == nil {
			err = mediaengine.ErrWorkerDied
		}
		p.ReportDeath(h, err)
	case <-ctx.Done():
	}
}

// Acquire reserves a router slot on a worker chosen by the balancer
func (p *WorkerPool) Acquire() (*WorkerHandle, error) {
	p.mu.RLock()
	workers := p.workers
	p.mu.RUnlock()

	for attempt := 0; attempt <= len(workers); attempt++ {
		candidates := make([]*WorkerHandle, 0, len(workers))
		for _, w := range workers {
			if w.Eligible(p.cfg.MaxRoutersPerWorker) {
				candidates = append(candidates, w)
			}
		}
		if len(candidates) == 0 {
			break
		}
		w := p.balancer.Pick(candidates)
		if w.Reserve(p.cfg.MaxRoutersPerWorker) {
			return w, nil
		}
	}
	return nil, ErrNoWorkerAvailable
}

// Release returns a router slot
func (p *WorkerPool) Release(h *WorkerHandle) {
	if h != nil {
		h.Release()
	}
}

// OnWorkerDeath registers fn to run when a worker dies
func (p *WorkerPool) OnWorkerDeath(fn func(*WorkerHandle, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SetFatalHandler installs the process-level reaction to worker death
func (p *WorkerPool) SetFatalHandler(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatal = fn
}

// ReportDeath marks h dead. Listeners run on every first report; the fatal
// handler runs at most once per pool.
func (p *WorkerPool) ReportDeath(h *WorkerHandle, err error) {
	if !h.MarkDead(err) {
		return
	}
	p.logger.Error("media worker died, process will exit",
		zap.String("worker_id", h.ID),
		zap.Int("index", h.Index),
		zap.Error(err))
	p.metrics.WorkerDied()
	alive, dead := p.counts()
	p.metrics.SetWorkers(alive, dead)

	p.mu.RLock()
	listeners := append([]func(*WorkerHandle, error){}, p.listeners...)
	fatal := p.fatal
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(h, err)
	}
	if fatal != nil {
		p.fatalOnce.Do(func() {
			fatal(fmt.Errorf("%w: worker %s: %w", ErrWorkerDied, h.ID, err))
		})
	}
}

// Workers returns the pool members
func (p *WorkerPool) Workers() []*WorkerHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*WorkerHandle, len(p.workers))
	copy(out, p.workers)
	return out
}

func (p *WorkerPool) counts() (alive, dead int) {
	for _, w := range p.Workers() {
		if w.State() == models.WorkerStateAlive {
			alive++
		} else {
			dead++
		}
	}
	return alive, dead
}

// Close stops the monitors and closes every worker
func (p *WorkerPool) Close() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	workers := p.workers
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	for _, w := range workers {
		if err := w.Engine.Close(); err != nil {
			p.logger.Warn("worker close failed", zap.String("worker_id", w.ID), zap.Error(err))
		}
	}
}
