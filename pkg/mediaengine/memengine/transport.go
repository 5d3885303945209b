package memengine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/utils"
)

type Transport struct {
	id         string
	router     *Router
	ice        mediaengine.IceParameters
	candidates []mediaengine.IceCandidate
	dtls       mediaengine.DtlsParameters

	// guarded by router.mu
	closed    bool
	dtlsState mediaengine.DtlsState
	remote    *mediaengine.ConnectOptions
	nextMid   int
	producers map[string]*Producer
	consumers map[string]*Consumer

	onDtls  mediaengine.Hook[mediaengine.DtlsState]
	onClose mediaengine.Signal
}

var _ mediaengine.Transport = (*Transport)(nil)

func (t *Transport) ID() string                                 { return t.id }
func (t *Transport) IceParameters() mediaengine.IceParameters   { return t.ice }
func (t *Transport) DtlsParameters() mediaengine.DtlsParameters { return t.dtls }

func (t *Transport) IceCandidates() []mediaengine.IceCandidate {
	out := make([]mediaengine.IceCandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *Transport) DtlsState() mediaengine.DtlsState {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	return t.dtlsState
}

func (t *Transport) Closed() bool {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	return t.closed
}

func (t *Transport) OnDtlsStateChange(fn func(mediaengine.DtlsState)) { t.onDtls.Add(fn) }
func (t *Transport) OnClose(fn func())                                { t.onClose.Add(fn) }

func (t *Transport) Connect(ctx context.Context, opts mediaengine.ConnectOptions) error {
	if len(opts.DtlsParameters.Fingerprints) == 0 {
		return fmt.Errorf("%w: missing dtls fingerprints", mediaengine.ErrInvalidParameters)
	}
	r := t.router
	r.mu.Lock()
	switch {
	case t.closed:
		r.mu.Unlock()
		return mediaengine.ErrClosed
	case t.remote != nil:
		r.mu.Unlock()
		return mediaengine.ErrAlreadyConnected
	}
	r.mu.Unlock()

	if err := r.worker.engine.begin(ctx, OpConnect); err != nil {
		return err
	}
	hold := r.worker.engine.holdsHandshake()

	r.mu.Lock()
	if t.closed {
		r.mu.Unlock()
		return mediaengine.ErrClosed
	}
	if t.remote != nil {
		r.mu.Unlock()
		return mediaengine.ErrAlreadyConnected
	}
	remote := opts
	t.remote = &remote
	t.dtlsState = mediaengine.DtlsStateConnected
	if hold {
		t.dtlsState = mediaengine.DtlsStateConnecting
	}
	r.mu.Unlock()

	t.onDtls.Fire(mediaengine.DtlsStateConnecting)
	if !hold {
		t.onDtls.Fire(mediaengine.DtlsStateConnected)
	}
	return nil
}

// SimulateDtlsState forces a DTLS transition as if reported by the network
func (t *Transport) SimulateDtlsState(state mediaengine.DtlsState) {
	t.router.mu.Lock()
	if t.closed {
		t.router.mu.Unlock()
		return
	}
	t.dtlsState = state
	t.router.mu.Unlock()
	t.onDtls.Fire(state)
}

func (t *Transport) Produce(ctx context.Context, opts mediaengine.ProduceOptions) (mediaengine.Producer, error) {
	r := t.router
	if err := mediaengine.ValidateProduce(opts.Kind, opts.RtpParameters, r.caps); err != nil {
		return nil, err
	}
	if err := r.worker.engine.begin(ctx, OpProduce); err != nil {
		return nil, err
	}

	params := opts.RtpParameters
	if len(params.Encodings) == 0 {
		params.Encodings = []mediaengine.RtpEncodingParameters{{Ssrc: mediaengine.NewSsrc()}}
	}
	p := &Producer{
		id:        utils.NewObjectID(),
		transport: t,
		kind:      opts.Kind,
		params:    params,
		paused:    opts.Paused,
		consumers: make(map[string]*Consumer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t.closed {
		return nil, mediaengine.ErrClosed
	}
	t.producers[p.id] = p
	r.producers[p.id] = p
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts mediaengine.ConsumeOptions) (mediaengine.Consumer, error) {
	r := t.router
	r.mu.Lock()
	p, ok := r.producers[opts.ProducerID]
	r.mu.Unlock()
	if !ok {
		return nil, mediaengine.ErrUnknownProducer
	}
	if !mediaengine.CanConsume(p.params, opts.RtpCapabilities) {
		return nil, mediaengine.ErrCannotConsume
	}
	params, err := mediaengine.ConsumerRtpParameters(p.params, opts.RtpCapabilities)
	if err != nil {
		return nil, err
	}
	if err := r.worker.engine.begin(ctx, OpConsume); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t.closed || p.closed {
		return nil, mediaengine.ErrClosed
	}
	params.Mid = strconv.Itoa(t.nextMid)
	t.nextMid++
	c := &Consumer{
		id:        utils.NewObjectID(),
		producer:  p,
		transport: t,
		kind:      p.kind,
		params:    params,
		paused:    opts.Paused,
	}
	t.consumers[c.id] = c
	p.consumers[c.id] = c
	return c, nil
}

func (t *Transport) Close() error {
	var fire fireList
	t.router.mu.Lock()
	t.router.closeTransportLocked(t, closeExplicit, &fire)
	t.router.mu.Unlock()
	fire.run()
	return nil
}
