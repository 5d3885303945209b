// Package mediaengine is the boundary between session orchestration and the
// component that actually moves RTP. Implementations live in
// pkg/webrtc/rtcmedia (pion) and pkg/mediaengine/memengine (in-process).
//
// Close callbacks fire only for closures the caller did not request through
// the object's own Close method: a transport closed by its router, a
// producer closed with its transport, a consumer closed with its producer.
package mediaengine

import (
	"context"
	"errors"
)

var (
	ErrClosed            = errors.New("mediaengine: object closed")
	ErrWorkerDied        = errors.New("mediaengine: worker died")
	ErrAlreadyConnected  = errors.New("mediaengine: connect already called")
	ErrUnknownProducer   = errors.New("mediaengine: unknown producer")
	ErrCannotConsume     = errors.New("mediaengine: rtp capabilities cannot consume producer")
	ErrUnsupportedCodec  = errors.New("mediaengine: unsupported codec")
	ErrInvalidParameters = errors.New("mediaengine: invalid parameters")
)

// Engine spawns workers
type Engine interface {
	CreateWorker(ctx context.Context, settings WorkerSettings) (Worker, error)
}

// Worker hosts routers. Died is closed when the worker stops unexpectedly;
// Err then reports the cause.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	Died() <-chan struct{}
	Err() error
	Close() error
}

type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (Transport, error)
	Closed() bool
	Close() error
}

type Transport interface {
	ID() string
	IceParameters() IceParameters
	IceCandidates() []IceCandidate
	DtlsParameters() DtlsParameters
	DtlsState() DtlsState
	Connect(ctx context.Context, opts ConnectOptions) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	// OnDtlsStateChange fires on every DTLS transition
	OnDtlsStateChange(fn func(DtlsState))
	// OnClose fires when the router closes underneath the transport
	OnClose(fn func())
	Close() error
}

type Producer interface {
	ID() string
	Kind() MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	OnTransportClose(fn func())
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	OnTransportClose(fn func())
	OnProducerClose(fn func())
	Close() error
}
