package rtcmedia

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/utils"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Transport is one ICE-lite + DTLS association. Receivers and senders
// created before the handshake completes start once it does.
type Transport struct {
	id         string
	router     *Router
	api        *webrtc.API
	gatherer   *webrtc.ICEGatherer
	ice        *webrtc.ICETransport
	dtls       *webrtc.DTLSTransport
	iceParams  mediaengine.IceParameters
	candidates []mediaengine.IceCandidate
	dtlsParams mediaengine.DtlsParameters
	logger     *zap.Logger

	// guarded by router.mu
	closed    bool
	nextMid   int
	producers map[string]*Producer
	consumers map[string]*Consumer

	stateMu       sync.Mutex
	connectCalled bool
	ready         bool
	pending       []func()
	dtlsState     mediaengine.DtlsState

	onDtls   mediaengine.Hook[mediaengine.DtlsState]
	onClose  mediaengine.Signal
	stopOnce sync.Once
}

var _ mediaengine.Transport = (*Transport)(nil)

// newTransport gathers local candidates and prepares the ICE and DTLS
// transports without starting them.
func newTransport(ctx context.Context, r *Router, api *webrtc.API) (*Transport, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	done := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather candidates: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	cands, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice candidates: %w", err)
	}
	iceTransport := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(iceTransport, nil)
	if err != nil {
		_ = iceTransport.Stop()
		_ = gatherer.Close()
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = iceTransport.Stop()
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	id := utils.NewObjectID()
	t := &Transport{
		id:       id,
		router:   r,
		api:      api,
		gatherer: gatherer,
		ice:      iceTransport,
		dtls:     dtls,
		iceParams: mediaengine.IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
			IceLite:          iceParams.ICELite,
		},
		candidates: localCandidates(cands),
		dtlsParams: fromPionDtls(dtlsParams),
		logger:     r.worker.logger.With(zap.String("transport_id", id)),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
		dtlsState:  mediaengine.DtlsStateNew,
	}
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		switch s {
		case webrtc.DTLSTransportStateFailed:
			t.setDtlsState(mediaengine.DtlsStateFailed)
		case webrtc.DTLSTransportStateClosed:
			t.setDtlsState(mediaengine.DtlsStateClosed)
		}
	})
	iceTransport.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		if s == webrtc.ICETransportStateFailed {
			t.setDtlsState(mediaengine.DtlsStateFailed)
		}
	})
	return t, nil
}

func (t *Transport) ID() string                                 { return t.id }
func (t *Transport) IceParameters() mediaengine.IceParameters   { return t.iceParams }
func (t *Transport) DtlsParameters() mediaengine.DtlsParameters { return t.dtlsParams }

func (t *Transport) IceCandidates() []mediaengine.IceCandidate {
	out := make([]mediaengine.IceCandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *Transport) DtlsState() mediaengine.DtlsState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.dtlsState
}

func (t *Transport) Closed() bool {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	return t.closed
}

func (t *Transport) OnDtlsStateChange(fn func(mediaengine.DtlsState)) { t.onDtls.Add(fn) }
func (t *Transport) OnClose(fn func())                                { t.onClose.Add(fn) }

// Connect applies the remote parameters and starts the handshake in the
// background. Progress is reported through OnDtlsStateChange. Pion's ICE
// agent needs the remote credentials up front.
func (t *Transport) Connect(ctx context.Context, opts mediaengine.ConnectOptions) error {
	if len(opts.DtlsParameters.Fingerprints) == 0 {
		return fmt.Errorf("%w: missing dtls fingerprints", mediaengine.ErrInvalidParameters)
	}
	if opts.IceParameters == nil || opts.IceParameters.UsernameFragment == "" || opts.IceParameters.Password == "" {
		return fmt.Errorf("%w: missing remote ice parameters", mediaengine.ErrInvalidParameters)
	}
	remote, err := remoteCandidates(opts.IceCandidates)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Closed() {
		return mediaengine.ErrClosed
	}

	t.stateMu.Lock()
	if t.connectCalled {
		t.stateMu.Unlock()
		return mediaengine.ErrAlreadyConnected
	}
	t.connectCalled = true
	t.stateMu.Unlock()

	if len(remote) > 0 {
		if err := t.ice.SetRemoteCandidates(remote); err != nil {
			t.stateMu.Lock()
			t.connectCalled = false
			t.stateMu.Unlock()
			return fmt.Errorf("%w: %w", mediaengine.ErrInvalidParameters, err)
		}
	}

	iceParams := webrtc.ICEParameters{
		UsernameFragment: opts.IceParameters.UsernameFragment,
		Password:         opts.IceParameters.Password,
		ICELite:          opts.IceParameters.IceLite,
	}
	go t.handshake(iceParams, toPionDtls(opts.DtlsParameters))
	return nil
}

func (t *Transport) handshake(iceParams webrtc.ICEParameters, dtlsParams webrtc.DTLSParameters) {
	t.setDtlsState(mediaengine.DtlsStateConnecting)

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
		t.handshakeFailed("ice", err)
		return
	}
	if err := t.dtls.Start(dtlsParams); err != nil {
		t.handshakeFailed("dtls", err)
		return
	}
	t.setDtlsState(mediaengine.DtlsStateConnected)
	t.markReady()
}

func (t *Transport) handshakeFailed(stage string, err error) {
	if t.Closed() {
		return
	}
	t.logger.Warn("handshake failed", zap.String("stage", stage), zap.Error(err))
	t.setDtlsState(mediaengine.DtlsStateFailed)
}

// setDtlsState records a transition and fires the hook. Terminal states
// stick and nothing fires after the transport is closed.
func (t *Transport) setDtlsState(s mediaengine.DtlsState) {
	if t.Closed() {
		return
	}
	t.stateMu.Lock()
	if t.dtlsState == s || t.dtlsState.Terminal() {
		t.stateMu.Unlock()
		return
	}
	t.dtlsState = s
	t.stateMu.Unlock()

	t.logger.Debug("dtls state changed", zap.String("state", string(s)))
	t.onDtls.Fire(s)
}

// whenReady runs fn once SRTP is available
func (t *Transport) whenReady(fn func()) {
	t.stateMu.Lock()
	if t.ready {
		t.stateMu.Unlock()
		go fn()
		return
	}
	t.pending = append(t.pending, fn)
	t.stateMu.Unlock()
}

func (t *Transport) markReady() {
	t.stateMu.Lock()
	t.ready = true
	fns := t.pending
	t.pending = nil
	t.stateMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Transport) Produce(ctx context.Context, opts mediaengine.ProduceOptions) (mediaengine.Producer, error) {
	r := t.router
	if err := mediaengine.ValidateProduce(opts.Kind, opts.RtpParameters, r.caps); err != nil {
		return nil, err
	}
	params := opts.RtpParameters
	if len(params.Encodings) != 1 || params.Encodings[0].Ssrc == 0 {
		return nil, fmt.Errorf("%w: exactly one encoding with an ssrc is required", mediaengine.ErrInvalidParameters)
	}
	codec, ok := primaryCodec(params)
	if !ok {
		return nil, fmt.Errorf("%w: no media codec", mediaengine.ErrInvalidParameters)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	receiver, err := t.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp receiver: %w", err)
	}
	id := utils.NewObjectID()
	p := &Producer{
		id:          id,
		transport:   t,
		kind:        opts.Kind,
		params:      params,
		ssrc:        params.Encodings[0].Ssrc,
		payloadType: codec.PayloadType,
		receiver:    receiver,
		logger:      t.logger.With(zap.String("producer_id", id)),
		consumers:   make(map[string]*Consumer),
	}
	p.paused.Store(opts.Paused)

	r.mu.Lock()
	if t.closed {
		r.mu.Unlock()
		_ = receiver.Stop()
		return nil, mediaengine.ErrClosed
	}
	if err := r.registerPayloadLocked(opts.Kind, params); err != nil {
		r.mu.Unlock()
		_ = receiver.Stop()
		return nil, err
	}
	t.producers[p.id] = p
	r.producers[p.id] = p
	p.publishSinksLocked()
	r.mu.Unlock()

	t.whenReady(p.start)
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
	codec, _ := primaryCodec(params)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := utils.NewObjectID()
	track, err := webrtc.NewTrackLocalStaticRTP(parameterCodec(codec).RTPCodecCapability, id, p.id)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	send := sender.GetParameters()
	if len(send.Encodings) > 0 {
		params.Encodings = []mediaengine.RtpEncodingParameters{{Ssrc: uint32(send.Encodings[0].SSRC)}}
	}
	c := &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		kind:      p.kind,
		track:     track,
		sender:    sender,
		logger:    t.logger.With(zap.String("consumer_id", id)),
	}
	c.paused.Store(opts.Paused)

	r.mu.Lock()
	if t.closed || p.closed {
		r.mu.Unlock()
		_ = sender.Stop()
		return nil, mediaengine.ErrClosed
	}
	params.Mid = strconv.Itoa(t.nextMid)
	t.nextMid++
	c.params = params
	t.consumers[c.id] = c
	p.consumers[c.id] = c
	p.publishSinksLocked()
	r.mu.Unlock()

	t.whenReady(func() { c.start(send) })
	return c, nil
}

func (t *Transport) Close() error {
	var d deferred
	t.router.mu.Lock()
	t.router.closeTransportLocked(t, closeExplicit, &d)
	t.router.mu.Unlock()
	d.run()
	return nil
}

// teardown stops the pion transports exactly once
func (t *Transport) teardown() {
	t.stopOnce.Do(func() {
		if err := t.dtls.Stop(); err != nil {
			t.logger.Debug("dtls stop", zap.Error(err))
		}
		if err := t.ice.Stop(); err != nil {
			t.logger.Debug("ice stop", zap.Error(err))
		}
		_ = t.gatherer.Close()
	})
}

func localCandidates(in []webrtc.ICECandidate) []mediaengine.IceCandidate {
	out := make([]mediaengine.IceCandidate, 0, len(in))
	for _, c := range in {
		out = append(out, mediaengine.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	return out
}

func remoteCandidates(in []mediaengine.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate protocol %q", mediaengine.ErrInvalidParameters, c.Protocol)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate type %q", mediaengine.ErrInvalidParameters, c.Type)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func toPionDtls(p mediaengine.DtlsParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: webrtc.DTLSRoleAuto}
	switch p.Role {
	case mediaengine.DtlsRoleClient:
		out.Role = webrtc.DTLSRoleClient
	case mediaengine.DtlsRoleServer:
		out.Role = webrtc.DTLSRoleServer
	}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func fromPionDtls(p webrtc.DTLSParameters) mediaengine.DtlsParameters {
	out := mediaengine.DtlsParameters{Role: mediaengine.DtlsRoleAuto}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, mediaengine.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}
