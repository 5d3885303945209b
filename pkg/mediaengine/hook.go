package mediaengine

import "sync"

// Hook is a list of callbacks for one event. Fire runs them on the calling
// goroutine without holding the hook's lock.
type Hook[T any] struct {
	mu  sync.Mutex
	fns []func(T)
}

func (h *Hook[T]) Add(fn func(T)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *Hook[T]) Fire(v T) {
	h.mu.Lock()
	fns := make([]func(T), len(h.fns))
	copy(fns, h.fns)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Signal is a Hook for events without a payload
type Signal struct {
	h Hook[struct{}]
}

func (s *Signal) Add(fn func()) {
	if fn == nil {
		return
	}
	s.h.Add(func(struct{}) { fn() })
}

func (s *Signal) Fire() {
	s.h.Fire(struct{}{})
}
