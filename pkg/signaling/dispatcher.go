package signaling

import (
	"context"
	"time"

	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/LingByte/LingSFU/pkg/protocol"
	"github.com/LingByte/LingSFU/pkg/sfu"
	"go.uber.org/zap"
)

// handlerFunc serves one request method for a joined peer. decode fills the
// method's payload struct.
type handlerFunc func(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error)

// Dispatcher routes decoded requests to the SFU node
type Dispatcher struct {
	node     *sfu.CentralNode
	logger   *zap.Logger
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc
}

func NewDispatcher(node *sfu.CentralNode, l *zap.Logger, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		node:    node,
		logger:  logger.Named(l, "dispatcher"),
		metrics: m,
	}
	d.handlers = map[string]handlerFunc{
		protocol.MethodGetRtpCapabilities:    d.getRtpCapabilities,
		protocol.MethodCreateWebRtcTransport: d.createWebRtcTransport,
		protocol.MethodTransportConnect:      d.connect(true),
		protocol.MethodTransportRecvConnect:  d.connect(false),
		protocol.MethodTransportProduce:      d.produce,
		protocol.MethodConsume:               d.consume,
		protocol.MethodConsumerResume:        d.consumerOp(d.node.ResumeConsumer),
		protocol.MethodConsumerPause:         d.consumerOp(d.node.PauseConsumer),
		protocol.MethodConsumerClose:         d.consumerClose,
		protocol.MethodProducerPause:         d.producerOp(d.node.PauseProducer),
		protocol.MethodProducerResume:        d.producerOp(d.node.ResumeProducer),
		protocol.MethodProducerClose:         d.producerClose,
		protocol.MethodTransportClose:        d.transportClose,
		protocol.MethodGetProducers:          d.getProducers,
	}
	return d
}

// Handle serves req for session s and returns the response envelope. It
// never fails; errors become error responses.
func (d *Dispatcher) Handle(ctx context.Context, s *Client, req *protocol.Request, codec Codec) *protocol.Message {
	start := time.Now()
	data, err := d.handle(ctx, s, req, codec)

	result := "ok"
	var resp *protocol.Message
	if err != nil {
		appErr := sfu.ToAppError(err)
		result = string(appErr.Code)
		resp = protocol.NewErrorResponse(req.ID, appErr)
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("peer_id", s.PeerID()),
			zap.String("code", string(appErr.Code)),
			zap.Error(err),
		}
		if appErr.Kind == errors2.KindInternal || appErr.Kind == errors2.KindEngineFailure {
			d.logger.Error("request failed", fields...)
		} else {
			d.logger.Debug("request rejected", fields...)
		}
	} else {
		resp = protocol.NewResponse(req.ID, data)
	}
	d.metrics.ObserveRequest(req.Method, result, time.Since(start))
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, s *Client, req *protocol.Request, codec Codec) (interface{}, error) {
	decode := func(v interface{}) error {
		if err := codec.DecodeData(req.Data, v); err != nil {
			return errors2.NewAppError(errors2.ErrCodeInvalidInput, "invalid payload for "+req.Method).WithCause(err)
		}
		return nil
	}

	if req.Method == protocol.MethodJoin {
		return d.join(ctx, s, decode)
	}
	h, ok := d.handlers[req.Method]
	if !ok {
		return nil, errors2.NewAppError(errors2.ErrCodeUnknownMethod, "unknown method "+req.Method)
	}
	peerID := s.PeerID()
	if peerID == "" {
		return nil, errors2.NewAppError(errors2.ErrCodeNotJoined, "join a room first")
	}
	return h(ctx, peerID, decode)
}

func (d *Dispatcher) join(ctx context.Context, s *Client, decode func(interface{}) error) (interface{}, error) {
	if s.PeerID() != "" {
		return nil, errors2.NewAppError(errors2.ErrCodeAlreadyJoined, "already joined").WithDetails("peer_id", s.PeerID())
	}
	var req protocol.JoinRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	peer, producers, err := d.node.Join(ctx, req.RoomID, s)
	if err != nil {
		return nil, err
	}
	s.setPeerID(peer.ID)
	return protocol.JoinResponse{
		PeerID:    peer.ID,
		RoomID:    peer.RoomID,
		Producers: toProtocolProducers(producers),
	}, nil
}

func (d *Dispatcher) getRtpCapabilities(_ context.Context, peerID string, _ func(interface{}) error) (interface{}, error) {
	caps, err := d.node.RtpCapabilities(peerID)
	if err != nil {
		return nil, err
	}
	return protocol.RtpCapabilitiesResponse{RtpCapabilities: caps}, nil
}

func (d *Dispatcher) createWebRtcTransport(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
	var req protocol.CreateTransportRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	info, err := d.node.CreateWebRtcTransport(ctx, peerID, req.Sender)
	if err != nil {
		return nil, err
	}
	return protocol.TransportResponse{
		ID:             info.ID,
		IceParameters:  info.IceParameters,
		IceCandidates:  info.IceCandidates,
		DtlsParameters: info.DtlsParameters,
	}, nil
}

func (d *Dispatcher) connect(sender bool) handlerFunc {
	return func(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
		var req protocol.ConnectRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return nil, d.node.ConnectTransport(ctx, peerID, sender, mediaengine.ConnectOptions{
			DtlsParameters: req.DtlsParameters,
			IceParameters:  req.IceParameters,
			IceCandidates:  req.IceCandidates,
		})
	}
}

func (d *Dispatcher) produce(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
	var req protocol.ProduceRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	id, err := d.node.Produce(ctx, peerID, req.Kind, req.RtpParameters, req.AppData)
	if err != nil {
		return nil, err
	}
	return protocol.IDResponse{ID: id}, nil
}

func (d *Dispatcher) consume(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
	var req protocol.ConsumeRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	c, err := d.node.Consume(ctx, peerID, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		return nil, err
	}
	return protocol.ConsumeResponse{
		ID:            c.ID,
		ProducerID:    c.ProducerID,
		Kind:          c.Kind,
		RtpParameters: c.RtpParameters,
	}, nil
}

func (d *Dispatcher) consumerOp(op func(context.Context, string, string) error) handlerFunc {
	return func(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
		var req protocol.ConsumerRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return nil, op(ctx, peerID, req.ConsumerID)
	}
}

func (d *Dispatcher) consumerClose(_ context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
	var req protocol.ConsumerRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	return nil, d.node.CloseConsumer(peerID, req.ConsumerID)
}

func (d *Dispatcher) producerOp(op func(context.Context, string, string) error) handlerFunc {
	return func(ctx context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
		var req protocol.ProducerRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return nil, op(ctx, peerID, req.ProducerID)
	}
}

func (d *Dispatcher) producerClose(_ context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
	var req protocol.ProducerRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	return nil, d.node.CloseProducer(peerID, req.ProducerID)
}

func (d *Dispatcher) transportClose(_ context.Context, peerID string, decode func(interface{}) error) (interface{}, error) {
	var req protocol.TransportCloseRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	return nil, d.node.CloseTransport(peerID, req.Sender)
}

func (d *Dispatcher) getProducers(_ context.Context, peerID string, _ func(interface{}) error) (interface{}, error) {
	producers, err := d.node.Producers(peerID)
	if err != nil {
		return nil, err
	}
	return protocol.ProducersResponse{Producers: toProtocolProducers(producers)}, nil
}

func toProtocolProducers(in []models.ProducerInfo) []protocol.ProducerInfo {
	out := make([]protocol.ProducerInfo, 0, len(in))
	for _, p := range in {
		out = append(out, protocol.ProducerInfo(p))
	}
	return out
}
