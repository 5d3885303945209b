package sfu

import (
	"sync/atomic"

	"github.com/LingByte/LingSFU/pkg/constants"
	"go.uber.org/zap"
)

// Balancer picks the worker that hosts a new router. Candidates are alive
// and below the router cap; Pick never sees an empty slice.
type Balancer interface {
	Pick(candidates []*WorkerHandle) *WorkerHandle
}

// NewBalancer returns the policy named by config, defaulting to least-loaded
func NewBalancer(name string, logger *zap.Logger) Balancer {
	switch name {
	case constants.BalancerRoundRobin:
		return &roundRobinBalancer{}
	case "", constants.BalancerLeastLoaded:
		return leastLoadedBalancer{}
	default:
		if logger != nil {
			logger.Warn("unknown balancer, using least-loaded", zap.String("balancer", name))
		}
		return leastLoadedBalancer{}
	}
}

// leastLoadedBalancer scores workers by hosted routers; ties go to the
// lowest index so assignment is deterministic.
type leastLoadedBalancer struct{}

func (leastLoadedBalancer) Pick(candidates []*WorkerHandle) *WorkerHandle {
	best := candidates[0]
	bestScore := loadScore(best)
	for _, w := range candidates[1:] {
		score := loadScore(w)
		if score < bestScore || (score == bestScore && w.Index < best.Index) {
			best, bestScore = w, score
		}
	}
	return best
}

func loadScore(w *WorkerHandle) int {
	return w.Routers()
}

type roundRobinBalancer struct {
	next atomic.Uint64
}

func (b *roundRobinBalancer) Pick(candidates []*WorkerHandle) *WorkerHandle {
	n := b.next.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}
