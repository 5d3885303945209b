// Package memengine is an in-process media engine. It keeps the full object
// graph and event semantics of a real engine but never opens a socket, so it
// backs unit tests and `--engine memory` development runs.
package memengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/utils"
)

// Op names an engine call that can be delayed or failed on purpose
type Op string

const (
	OpCreateRouter    Op = "createRouter"
	OpCreateTransport Op = "createTransport"
	OpConnect         Op = "connect"
	OpProduce         Op = "produce"
	OpConsume         Op = "consume"
)

type Option func(*Engine)

// WithLatency delays every engine call by d. The delay ignores context
// cancellation so callers can observe objects returned after a deadline.
func WithLatency(d time.Duration) Option {
	return func(e *Engine) { e.latency = d }
}

type Engine struct {
	mu       sync.Mutex
	latency  time.Duration
	holdDtls bool
	failures map[Op][]error
	workers  []*Worker
}

var _ mediaengine.Engine = (*Engine)(nil)

func New(opts ...Option) *Engine {
	e := &Engine{failures: make(map[Op][]error)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InjectFailure makes the next call of op fail with err
func (e *Engine) InjectFailure(op Op, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

// SetLatency changes the delay applied to subsequent calls
func (e *Engine) SetLatency(d time.Duration) {
	e.mu.Lock()
	e.latency = d
	e.mu.Unlock()
}

// HoldHandshake makes Connect return with DTLS still connecting, like a
// network engine. Tests finish the handshake with SimulateDtlsState.
func (e *Engine) HoldHandshake(hold bool) {
	e.mu.Lock()
	e.holdDtls = hold
	e.mu.Unlock()
}

func (e *Engine) holdsHandshake() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holdDtls
}

// Workers returns the workers created so far
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Worker, len(e.workers))
	copy(out, e.workers)
	return out
}

func (e *Engine) begin(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	latency := e.latency
	var injected error
	if q := e.failures[op]; len(q) > 0 {
		injected = q[0]
		e.failures[op] = q[1:]
	}
	e.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return injected
}

func (e *Engine) CreateWorker(ctx context.Context, settings mediaengine.WorkerSettings) (mediaengine.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if settings.RtcMinPort == 0 || settings.RtcMaxPort < settings.RtcMinPort {
		return nil, fmt.Errorf("%w: port range %d-%d", mediaengine.ErrInvalidParameters, settings.RtcMinPort, settings.RtcMaxPort)
	}
	w := &Worker{
		id:       utils.NewObjectID(),
		engine:   e,
		settings: settings,
		nextPort: settings.RtcMinPort,
		routers:  make(map[string]*Router),
		died:     make(chan struct{}),
	}
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

type Worker struct {
	id       string
	engine   *Engine
	settings mediaengine.WorkerSettings

	mu       sync.Mutex
	closed   bool
	nextPort uint16
	routers  map[string]*Router

	died    chan struct{}
	dieOnce sync.Once
	err     error
}

var _ mediaengine.Worker = (*Worker)(nil)

func (w *Worker) ID() string { return w.id }

func (w *Worker) Settings() mediaengine.WorkerSettings { return w.settings }

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// RouterCount returns the number of open routers on the worker
func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []mediaengine.RtpCodecCapability) (mediaengine.Router, error) {
	caps, err := mediaengine.GenerateRouterRtpCapabilities(codecs)
	if err != nil {
		return nil, err
	}
	if err := w.engine.begin(ctx, OpCreateRouter); err != nil {
		return nil, err
	}

	r := &Router{
		id:         utils.NewObjectID(),
		worker:     w,
		caps:       caps,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		if w.err != nil {
			return nil, mediaengine.ErrWorkerDied
		}
		return nil, mediaengine.ErrClosed
	}
	w.routers[r.id] = r
	return r, nil
}

// allocPort hands out ports from the worker's range in rotation
func (w *Worker) allocPort() uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.nextPort
	if w.nextPort >= w.settings.RtcMaxPort {
		w.nextPort = w.settings.RtcMinPort
	} else {
		w.nextPort++
	}
	return p
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

// Kill simulates an unexpected worker exit
func (w *Worker) Kill(err error) {
	w.dieOnce.Do(func() {
		if err == nil {
			err = mediaengine.ErrWorkerDied
		}
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		w.shutdown()
		close(w.died)
	})
}

func (w *Worker) Close() error {
	w.shutdown()
	return nil
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*Router)
	w.mu.Unlock()

	for _, r := range routers {
		r.shutdown()
	}
}
