package sfu

import (
	"fmt"
	"os"
	"sync"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// StatsReporter periodically logs node counters and process resource usage
type StatsReporter struct {
	node     *CentralNode
	schedule string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	cron *cron.Cron
	proc *process.Process
}

// NewStatsReporter returns a reporter for node. An empty schedule disables it.
func NewStatsReporter(node *CentralNode, schedule string, l *zap.Logger, m *metrics.Metrics) *StatsReporter {
	return &StatsReporter{
		node:     node,
		schedule: schedule,
		logger:   logger.Named(l, "stats"),
		metrics:  m,
	}
}

func (s *StatsReporter) Start() error {
	if s.schedule == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		s.logger.Warn("process stats unavailable", zap.Error(err))
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.Report); err != nil {
		return fmt.Errorf("stats schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop waits for a running report to finish
func (s *StatsReporter) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Report logs one snapshot
func (s *StatsReporter) Report() {
	snap := s.node.Snapshot()
	s.metrics.SetWorkers(snap.WorkersAlive, snap.WorkersDead)

	fields := []zap.Field{
		zap.Int("rooms", snap.Rooms),
		zap.Int("peers", snap.Peers),
		zap.Int("workers_alive", snap.WorkersAlive),
		zap.Int("workers_dead", snap.WorkersDead),
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			fields = append(fields, zap.Uint64("rss_bytes", mem.RSS))
		}
		if pct, err := s.proc.CPUPercent(); err == nil {
			fields = append(fields, zap.Float64("cpu_percent", pct))
		}
	}
	s.logger.Info("node stats", fields...)
}
