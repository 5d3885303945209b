package sfu

import (
	"context"
	"errors"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/LingByte/LingSFU/pkg/protocol"
	"go.uber.org/zap"
)

type closeReason string

const (
	reasonRequested       closeReason = "requested"
	reasonPeerLeft        closeReason = "peer left"
	reasonRouterClosed    closeReason = "router closed"
	reasonConnectTimeout  closeReason = "connect timeout"
	reasonDtlsFailed      closeReason = "dtls failed"
	reasonDtlsClosed      closeReason = "dtls closed"
	reasonTransportClosed closeReason = "transport closed"
	reasonProducerClosed  closeReason = "producer closed"
)

// notifiesOwner reports whether the owning peer learns about the close
// through a notification rather than a response.
func (r closeReason) notifiesOwner() bool {
	return r != reasonRequested && r != reasonPeerLeft
}

// TransportInfo is what a client needs to finish the ICE/DTLS handshake
type TransportInfo struct {
	ID             string
	IceParameters  mediaengine.IceParameters
	IceCandidates  []mediaengine.IceCandidate
	DtlsParameters mediaengine.DtlsParameters
}

// TransportManager drives transports through created -> connecting ->
// connected -> closed. Explicit closes, engine events and peer removal all
// go through closeLocked.
type TransportManager struct {
	sessions *SessionRegistry
	rooms    *RouterRegistry
	media    *MediaManager
	cfg      *Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewTransportManager(sessions *SessionRegistry, rooms *RouterRegistry, media *MediaManager, cfg *Config, l *zap.Logger, m *metrics.Metrics) *TransportManager {
	tm := &TransportManager{
		sessions: sessions,
		rooms:    rooms,
		media:    media,
		cfg:      cfg.normalize(),
		logger:   logger.Named(l, "transports"),
		metrics:  m,
	}
	sessions.transports = tm
	return tm
}

// CreateTransport opens the peer's transport for role. A peer holds at most
// one live transport per role.
func (tm *TransportManager) CreateTransport(ctx context.Context, peerID string, role models.TransportRole) (*TransportInfo, error) {
	var info *TransportInfo
	err := tm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		if peer.Transport(role) != nil {
			return ErrTransportExists
		}
		room, err := tm.rooms.Usable(peer.RoomID)
		if err != nil {
			return err
		}
		et, err := callEngine(ctx, tm.cfg.OperationTimeout, func(ctx context.Context) (mediaengine.Transport, error) {
			return room.Router.CreateWebRtcTransport(ctx, tm.cfg.transportOptions(string(role)))
		}, func(t mediaengine.Transport) { _ = t.Close() })
		if err != nil {
			return err
		}
		if peer.Closed() {
			_ = et.Close()
			return ErrPeerClosed
		}

		t := models.NewTransport(peer.ID, role, et)
		if err := tm.sessions.AttachTransport(peer, t); err != nil {
			_ = et.Close()
			return err
		}
		tm.watch(peer.ID, t)
		tm.metrics.TransportOpened(string(role))
		info = &TransportInfo{
			ID:             t.ID,
			IceParameters:  et.IceParameters(),
			IceCandidates:  et.IceCandidates(),
			DtlsParameters: et.DtlsParameters(),
		}
		tm.logger.Debug("transport created",
			zap.String("peer_id", peer.ID),
			zap.String("transport_id", t.ID),
			zap.String("role", string(role)))
		return nil
	})
	return info, err
}

// watch feeds engine events into the same close path as explicit requests
func (tm *TransportManager) watch(peerID string, t *models.Transport) {
	id := t.ID
	t.Engine.OnDtlsStateChange(func(state mediaengine.DtlsState) {
		switch state {
		case mediaengine.DtlsStateConnected:
			go tm.handshakeDone(peerID, id)
		case mediaengine.DtlsStateFailed:
			go tm.closeByID(peerID, id, reasonDtlsFailed)
		case mediaengine.DtlsStateClosed:
			go tm.closeByID(peerID, id, reasonDtlsClosed)
		}
	})
	t.Engine.OnClose(func() {
		go tm.closeByID(peerID, id, reasonRouterClosed)
	})
}

// Connect hands the remote parameters to the peer's transport for role.
// The transport stays connecting until the engine reports the DTLS
// handshake done. An engine failure leaves it in created so the client may
// retry; a timeout closes it.
func (tm *TransportManager) Connect(ctx context.Context, peerID string, role models.TransportRole, opts mediaengine.ConnectOptions) error {
	var cascade []models.ConsumerRef
	err := tm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		t := peer.Transport(role)
		if t == nil {
			return ErrTransportNotFound
		}
		if err := t.BeginConnect(); err != nil {
			return ErrTransportAlreadyConnected
		}
		err := callEngineErr(ctx, tm.cfg.OperationTimeout, func(ctx context.Context) error {
			return t.Engine.Connect(ctx, opts)
		})
		switch {
		case errors.Is(err, ErrTimeout):
			cascade = tm.closeLocked(peer, t, reasonConnectTimeout)
			return err
		case err != nil:
			t.FinishConnect(false)
			return err
		}
		t.FinishConnect(true)
		tm.logger.Debug("transport connect accepted",
			zap.String("peer_id", peer.ID),
			zap.String("transport_id", t.ID),
			zap.String("role", string(role)))
		return nil
	})
	tm.media.closeConsumerRefs(cascade)
	return err
}

// CloseByRole closes the peer's transport for role on request
func (tm *TransportManager) CloseByRole(peerID string, role models.TransportRole) error {
	var cascade []models.ConsumerRef
	err := tm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		t := peer.Transport(role)
		if t == nil {
			return ErrTransportNotFound
		}
		cascade = tm.closeLocked(peer, t, reasonRequested)
		return nil
	})
	tm.media.closeConsumerRefs(cascade)
	return err
}

// handshakeDone moves the transport to connected once DTLS is up
func (tm *TransportManager) handshakeDone(peerID, transportID string) {
	_ = tm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		t := peer.TransportByID(transportID)
		if t == nil || !t.HandshakeDone() {
			return nil
		}
		tm.logger.Debug("transport connected",
			zap.String("peer_id", peer.ID),
			zap.String("transport_id", t.ID),
			zap.String("role", string(t.Role)))
		return nil
	})
}

// closeByID is the engine-event entry point. Missing peers and transports
// are ignored.
func (tm *TransportManager) closeByID(peerID, transportID string, reason closeReason) {
	peer, err := tm.sessions.GetPeer(peerID)
	if err != nil {
		return
	}
	peer.Lock()
	t := peer.TransportByID(transportID)
	var cascade []models.ConsumerRef
	if t != nil {
		cascade = tm.closeLocked(peer, t, reason)
	}
	peer.Unlock()
	tm.media.closeConsumerRefs(cascade)
}

// closeLocked closes t and everything it hosts. The caller holds the peer
// lock and must pass the returned consumers of other peers to
// MediaManager.closeConsumerRefs after releasing it.
func (tm *TransportManager) closeLocked(peer *models.Peer, t *models.Transport, reason closeReason) []models.ConsumerRef {
	if !t.Close() {
		return nil
	}
	tm.sessions.DetachTransport(peer, t.ID)

	var cascade []models.ConsumerRef
	for _, p := range peer.ProducersOn(t.ID) {
		cascade = append(cascade, tm.media.closeProducerLocked(peer, p)...)
	}
	for _, c := range peer.ConsumersOn(t.ID) {
		tm.media.closeConsumerLocked(peer, c)
	}
	if err := t.Engine.Close(); err != nil {
		tm.logger.Warn("engine transport close failed", zap.String("transport_id", t.ID), zap.Error(err))
	}
	tm.metrics.TransportClosed(string(t.Role))

	if reason.notifiesOwner() {
		peer.Notify(protocol.NotificationTransportClosed, protocol.TransportClosedNotification{TransportID: t.ID})
	}
	tm.logger.Debug("transport closed",
		zap.String("peer_id", peer.ID),
		zap.String("transport_id", t.ID),
		zap.String("reason", string(reason)))
	return cascade
}
