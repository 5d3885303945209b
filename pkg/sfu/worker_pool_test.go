package sfu

import (
	"context"
	"errors"
	"testing"

	"github.com/LingByte/LingSFU/pkg/constants"
	"github.com/LingByte/LingSFU/pkg/mediaengine/memengine"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitPorts(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint16
		n        int
	}{
		{"single", 2000, 2020, 1},
		{"even", 2000, 2019, 4},
		{"remainder to last", 2000, 2020, 4},
		{"one port each", 10000, 10004, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := splitPorts(tt.min, tt.max, tt.n)
			require.Len(t, out, tt.n)
			assert.Equal(t, tt.min, out[0].RtcMinPort)
			assert.Equal(t, tt.max, out[tt.n-1].RtcMaxPort)
			for i := 1; i < len(out); i++ {
				assert.Equal(t, out[i-1].RtcMaxPort+1, out[i].RtcMinPort, "slices are contiguous and disjoint")
			}
			for _, s := range out {
				assert.LessOrEqual(t, s.RtcMinPort, s.RtcMaxPort)
			}
		})
	}
}

func TestWorkerCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 3
	assert.Equal(t, 3, WorkerCount(cfg))

	// 21 ports allow at most 5 workers
	cfg.NumWorkers = 100
	assert.Equal(t, 21/constants.MinPortsPerWorker, WorkerCount(cfg))

	cfg.NumWorkers = 0
	n := WorkerCount(cfg)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 21/constants.MinPortsPerWorker)

	cfg.NumWorkers = 4
	cfg.RtcMinPort, cfg.RtcMaxPort = 5000, 5001
	assert.Equal(t, 1, WorkerCount(cfg))
}

func handles(n int) []*WorkerHandle {
	out := make([]*WorkerHandle, n)
	for i := range out {
		out[i] = &WorkerHandle{Worker: models.NewWorker("w"+string(rune('a'+i)), i)}
	}
	return out
}

func TestLeastLoadedBalancer(t *testing.T) {
	ws := handles(3)
	b := NewBalancer(constants.BalancerLeastLoaded, nil)

	assert.Equal(t, 0, b.Pick(ws).Index, "ties go to the lowest index")
	ws[0].Reserve(0)
	ws[0].Reserve(0)
	ws[1].Reserve(0)
	assert.Equal(t, 2, b.Pick(ws).Index)
	ws[2].Reserve(0)
	ws[2].Reserve(0)
	assert.Equal(t, 1, b.Pick(ws).Index)
}

func TestRoundRobinBalancer(t *testing.T) {
	ws := handles(3)
	b := NewBalancer(constants.BalancerRoundRobin, nil)
	var picked []int
	for i := 0; i < 6; i++ {
		picked = append(picked, b.Pick(ws).Index)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, picked)
}

func TestNewBalancer_UnknownFallsBack(t *testing.T) {
	_, ok := NewBalancer("random", zap.NewNop()).(leastLoadedBalancer)
	assert.True(t, ok)
}

func newTestPool(t *testing.T, cfg *Config) (*WorkerPool, *memengine.Engine) {
	t.Helper()
	engine := memengine.New()
	pool := NewWorkerPool(engine, cfg, zap.NewNop(), nil)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Close)
	return pool, engine
}

func TestWorkerPool_StartSplitsPorts(t *testing.T) {
	cfg := testConfig()
	cfg.NumWorkers = 3
	pool, engine := newTestPool(t, cfg)

	workers := pool.Workers()
	require.Len(t, workers, 3)
	require.Len(t, engine.Workers(), 3)
	for i, w := range workers {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, models.WorkerStateAlive, w.State())
	}
	assert.Equal(t, cfg.RtcMinPort, workers[0].Settings.RtcMinPort)
	assert.Equal(t, cfg.RtcMaxPort, workers[2].Settings.RtcMaxPort)
}

func TestWorkerPool_AcquireRespectsRouterCap(t *testing.T) {
	cfg := testConfig()
	cfg.NumWorkers = 2
	cfg.MaxRoutersPerWorker = 1
	pool, _ := newTestPool(t, cfg)

	first, err := pool.Acquire()
	require.NoError(t, err)
	second, err := pool.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = pool.Acquire()
	require.ErrorIs(t, err, ErrNoWorkerAvailable)

	pool.Release(first)
	again, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestWorkerPool_DeathSkipsWorkerAndFiresOnce(t *testing.T) {
	cfg := testConfig()
	cfg.NumWorkers = 2
	pool, _ := newTestPool(t, cfg)

	var (
		fatalCalls int
		deaths     []string
	)
	pool.OnWorkerDeath(func(h *WorkerHandle, err error) { deaths = append(deaths, h.ID) })
	pool.SetFatalHandler(func(err error) { fatalCalls++ })

	ws := pool.Workers()
	pool.ReportDeath(ws[0], errors.New("exit status 1"))
	pool.ReportDeath(ws[0], errors.New("again"))
	pool.ReportDeath(ws[1], errors.New("exit status 1"))

	assert.Equal(t, []string{ws[0].ID, ws[1].ID}, deaths)
	assert.Equal(t, 1, fatalCalls)
	assert.EqualError(t, ws[0].Err(), "exit status 1")

	_, err := pool.Acquire()
	assert.ErrorIs(t, err, ErrNoWorkerAvailable)
}

func TestWorkerPool_StartCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := NewWorkerPool(memengine.New(), testConfig(), zap.NewNop(), nil)
	err := pool.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pool.Workers())
	pool.Close()
}
