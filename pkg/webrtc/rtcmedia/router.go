package rtcmedia

import (
	"context"
	"fmt"
	"sync"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type closeCause int

const (
	closeExplicit closeCause = iota
	closeByParent
	closeByProducer
)

// deferred collects pion teardown and user callbacks while the router lock
// is held. Teardown runs before callbacks.
type deferred struct {
	stops []func()
	fires []func()
}

func (d *deferred) stop(fn func()) { d.stops = append(d.stops, fn) }
func (d *deferred) fire(fn func()) { d.fires = append(d.fires, fn) }

func (d *deferred) run() {
	for _, fn := range d.stops {
		fn()
	}
	for _, fn := range d.fires {
		fn()
	}
}

// Router owns one pion MediaEngine shared by every transport it creates.
// The object graph is guarded by mu.
type Router struct {
	id     string
	worker *Worker
	caps   mediaengine.RtpCapabilities
	media  *webrtc.MediaEngine

	mu         sync.Mutex
	closed     bool
	payloads   map[uint8]bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

var _ mediaengine.Router = (*Router)(nil)

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() mediaengine.RtpCapabilities { return r.caps }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) CanConsume(producerID string, caps mediaengine.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return mediaengine.CanConsume(p.params, caps)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts mediaengine.WebRtcTransportOptions) (mediaengine.Transport, error) {
	if len(opts.ListenIPs) == 0 {
		return nil, fmt.Errorf("%w: no listen ips", mediaengine.ErrInvalidParameters)
	}
	if !opts.EnableUDP && !opts.EnableTCP {
		return nil, fmt.Errorf("%w: neither udp nor tcp enabled", mediaengine.ErrInvalidParameters)
	}
	if r.Closed() {
		return nil, mediaengine.ErrClosed
	}
	se, err := r.worker.settingEngine(opts)
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(r.media), webrtc.WithSettingEngine(se))

	t, err := newTransport(ctx, r, api)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.teardown()
		return nil, mediaengine.ErrClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	r.worker.logger.Debug("transport created",
		zap.String("router_id", r.id),
		zap.String("transport_id", t.id),
		zap.Int("candidates", len(t.candidates)))
	return t, nil
}

// registerPayloadLocked teaches the media engine a producer payload type the
// router did not assign itself, so incoming packets resolve to a codec.
func (r *Router) registerPayloadLocked(kind mediaengine.MediaKind, params mediaengine.RtpParameters) error {
	for _, c := range params.Codecs {
		if r.payloads[c.PayloadType] {
			continue
		}
		if err := r.media.RegisterCodec(parameterCodec(c), codecType(kind)); err != nil {
			return fmt.Errorf("%w: %w", mediaengine.ErrUnsupportedCodec, err)
		}
		r.payloads[c.PayloadType] = true
	}
	return nil
}

func (r *Router) Close() error {
	r.shutdown()
	r.worker.removeRouter(r.id)
	return nil
}

func (r *Router) shutdown() {
	var d deferred
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, t := range r.transports {
		r.closeTransportLocked(t, closeByParent, &d)
	}
	r.mu.Unlock()
	d.run()
}

func (r *Router) closeTransportLocked(t *Transport, cause closeCause, d *deferred) {
	if t.closed {
		return
	}
	t.closed = true
	delete(r.transports, t.id)
	for _, p := range t.producers {
		r.closeProducerLocked(p, closeByParent, d)
	}
	for _, c := range t.consumers {
		r.closeConsumerLocked(c, closeByParent, d)
	}
	d.stop(t.teardown)
	if cause == closeByParent {
		d.fire(t.onClose.Fire)
	}
}

func (r *Router) closeProducerLocked(p *Producer, cause closeCause, d *deferred) {
	if p.closed {
		return
	}
	p.closed = true
	delete(r.producers, p.id)
	delete(p.transport.producers, p.id)
	for _, c := range p.consumers {
		r.closeConsumerLocked(c, closeByProducer, d)
	}
	p.publishSinksLocked()
	d.stop(p.teardown)
	if cause == closeByParent {
		d.fire(p.onTransportClose.Fire)
	}
}

func (r *Router) closeConsumerLocked(c *Consumer, cause closeCause, d *deferred) {
	if c.closed {
		return
	}
	c.closed = true
	delete(c.transport.consumers, c.id)
	delete(c.producer.consumers, c.id)
	c.producer.publishSinksLocked()
	d.stop(c.teardown)
	switch cause {
	case closeByParent:
		d.fire(c.onTransportClose.Fire)
	case closeByProducer:
		d.fire(c.onProducerClose.Fire)
	}
}
