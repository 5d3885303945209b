package models

import "sync"

// Worker tracks liveness and router load of one engine worker
type Worker struct {
	ID    string
	Index int

	mu      sync.Mutex
	state   WorkerState
	routers int
	err     error
}

func NewWorker(id string, index int) *Worker {
	return &Worker{ID: id, Index: index, state: WorkerStateAlive}
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) Routers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.routers
}

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Eligible reports whether the worker can take another router. A max of 0
// means unlimited.
func (w *Worker) Eligible(max int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == WorkerStateAlive && (max <= 0 || w.routers < max)
}

// Reserve claims a router slot if the worker is still eligible
func (w *Worker) Reserve(max int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WorkerStateAlive || (max > 0 && w.routers >= max) {
		return false
	}
	w.routers++
	return true
}

func (w *Worker) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.routers > 0 {
		w.routers--
	}
}

// MarkDead reports whether this call performed the transition
func (w *Worker) MarkDead(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WorkerStateDead {
		return false
	}
	w.state = WorkerStateDead
	w.err = err
	return true
}
