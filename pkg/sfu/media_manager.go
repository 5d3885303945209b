package sfu

import (
	"context"
	"fmt"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/LingByte/LingSFU/pkg/protocol"
	"go.uber.org/zap"
)

// ConsumerInfo is returned to the consuming peer
type ConsumerInfo struct {
	ID            string
	ProducerID    string
	Kind          mediaengine.MediaKind
	RtpParameters mediaengine.RtpParameters
}

// MediaManager creates producers and consumers on connected transports and
// maintains the room producer directory.
type MediaManager struct {
	sessions *SessionRegistry
	rooms    *RouterRegistry
	cfg      *Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewMediaManager(sessions *SessionRegistry, rooms *RouterRegistry, cfg *Config, l *zap.Logger, m *metrics.Metrics) *MediaManager {
	return &MediaManager{
		sessions: sessions,
		rooms:    rooms,
		cfg:      cfg.normalize(),
		logger:   logger.Named(l, "media"),
		metrics:  m,
	}
}

// connectedTransport returns the peer's transport for role once its connect
// was accepted. Clients produce and consume right after the connect
// response, so a transport still finishing its handshake qualifies.
func connectedTransport(peer *models.Peer, role models.TransportRole) (*models.Transport, error) {
	t := peer.Transport(role)
	if t == nil {
		return nil, fmt.Errorf("%w: no %s transport", ErrTransportNotConnected, role)
	}
	if !t.Accepted() {
		return nil, ErrTransportNotConnected
	}
	return t, nil
}

// Produce publishes a track on the peer's producer transport and announces
// it to every other member of the room.
func (mm *MediaManager) Produce(ctx context.Context, peerID string, kind mediaengine.MediaKind, params mediaengine.RtpParameters, appData map[string]interface{}) (string, error) {
	if !kind.Valid() {
		return "", ErrInvalidParameters
	}
	var (
		info      models.ProducerInfo
		notifiers []models.Notifier
	)
	err := mm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		t, err := connectedTransport(peer, models.RoleProducer)
		if err != nil {
			return err
		}
		room, err := mm.rooms.Usable(peer.RoomID)
		if err != nil {
			return err
		}
		ep, err := callEngine(ctx, mm.cfg.OperationTimeout, func(ctx context.Context) (mediaengine.Producer, error) {
			return t.Engine.Produce(ctx, mediaengine.ProduceOptions{
				Kind:          kind,
				RtpParameters: params,
				AppData:       appData,
			})
		}, func(p mediaengine.Producer) { _ = p.Close() })
		if err != nil {
			return err
		}
		if peer.Closed() {
			_ = ep.Close()
			return ErrPeerClosed
		}

		p := models.NewProducer(peer.ID, t.ID, ep, appData)
		if err := mm.sessions.AttachProducer(peer, p); err != nil {
			_ = ep.Close()
			return err
		}
		id := p.ID
		ep.OnTransportClose(func() { go mm.closeProducerByID(peerID, id) })

		info = models.ProducerInfo{ProducerID: p.ID, PeerID: peer.ID, Kind: p.Kind}
		notifiers = room.AddProducer(info, t.ID)
		mm.metrics.ProducerOpened(string(p.Kind))
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, n := range notifiers {
		n.Notify(protocol.NotificationNewProducer, protocol.NewProducerNotification(info))
	}
	mm.logger.Info("producer created",
		zap.String("peer_id", peerID),
		zap.String("producer_id", info.ProducerID),
		zap.String("kind", string(kind)),
		zap.Int("notified", len(notifiers)))
	return info.ProducerID, nil
}

// Consume creates a paused consumer of producerID on the peer's consumer
// transport. Nothing is created when the capabilities cannot consume it.
func (mm *MediaManager) Consume(ctx context.Context, peerID, producerID string, caps mediaengine.RtpCapabilities) (*ConsumerInfo, error) {
	var out *ConsumerInfo
	err := mm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		t, err := connectedTransport(peer, models.RoleConsumer)
		if err != nil {
			return err
		}
		room, err := mm.rooms.Usable(peer.RoomID)
		if err != nil {
			return err
		}
		src, ok := room.Producer(producerID)
		if !ok {
			return ErrProducerNotFound
		}
		if !room.Router.CanConsume(producerID, caps) {
			return ErrCannotConsume
		}
		ec, err := callEngine(ctx, mm.cfg.OperationTimeout, func(ctx context.Context) (mediaengine.Consumer, error) {
			return t.Engine.Consume(ctx, mediaengine.ConsumeOptions{
				ProducerID:      producerID,
				RtpCapabilities: caps,
				Paused:          true,
			})
		}, func(c mediaengine.Consumer) { _ = c.Close() })
		if err != nil {
			return err
		}
		if peer.Closed() {
			_ = ec.Close()
			return ErrPeerClosed
		}

		c := models.NewConsumer(peer.ID, t.ID, src.PeerID, ec)
		if !room.AddConsumer(producerID, c.ID, peer.ID) {
			_ = ec.Close()
			return ErrProducerNotFound
		}
		if err := mm.sessions.AttachConsumer(peer, c); err != nil {
			room.RemoveConsumer(producerID, c.ID)
			_ = ec.Close()
			return err
		}
		id := c.ID
		ec.OnProducerClose(func() { go mm.closeConsumerByID(peerID, id, true) })
		ec.OnTransportClose(func() { go mm.closeConsumerByID(peerID, id, false) })
		mm.metrics.ConsumerOpened(string(c.Kind))

		out = &ConsumerInfo{
			ID:            c.ID,
			ProducerID:    c.ProducerID,
			Kind:          c.Kind,
			RtpParameters: c.RtpParameters,
		}
		mm.logger.Debug("consumer created",
			zap.String("peer_id", peer.ID),
			zap.String("consumer_id", c.ID),
			zap.String("producer_id", producerID))
		return nil
	})
	return out, err
}

// ResumeConsumer moves a paused consumer to resumed. It succeeds once.
func (mm *MediaManager) ResumeConsumer(ctx context.Context, peerID, consumerID string) error {
	return mm.withConsumer(peerID, consumerID, func(c *models.Consumer) error {
		prev := c.State
		if err := c.Resume(); err != nil {
			return err
		}
		if err := callEngineErr(ctx, mm.cfg.OperationTimeout, c.Engine.Resume); err != nil {
			c.State = prev
			return err
		}
		return nil
	})
}

func (mm *MediaManager) PauseConsumer(ctx context.Context, peerID, consumerID string) error {
	return mm.withConsumer(peerID, consumerID, func(c *models.Consumer) error {
		prev := c.State
		if err := c.Pause(); err != nil {
			return err
		}
		if err := callEngineErr(ctx, mm.cfg.OperationTimeout, c.Engine.Pause); err != nil {
			c.State = prev
			return err
		}
		return nil
	})
}

func (mm *MediaManager) PauseProducer(ctx context.Context, peerID, producerID string) error {
	return mm.withProducer(peerID, producerID, func(p *models.Producer) error {
		prev := p.State
		if err := p.Pause(); err != nil {
			return err
		}
		if err := callEngineErr(ctx, mm.cfg.OperationTimeout, p.Engine.Pause); err != nil {
			p.State = prev
			return err
		}
		return nil
	})
}

func (mm *MediaManager) ResumeProducer(ctx context.Context, peerID, producerID string) error {
	return mm.withProducer(peerID, producerID, func(p *models.Producer) error {
		prev := p.State
		if err := p.Resume(); err != nil {
			return err
		}
		if err := callEngineErr(ctx, mm.cfg.OperationTimeout, p.Engine.Resume); err != nil {
			p.State = prev
			return err
		}
		return nil
	})
}

// CloseProducer closes a producer on request. Consumers of it in other
// peers are closed and notified.
func (mm *MediaManager) CloseProducer(peerID, producerID string) error {
	var cascade []models.ConsumerRef
	err := mm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		p := peer.Producer(producerID)
		if p == nil {
			return ErrProducerNotFound
		}
		cascade = mm.closeProducerLocked(peer, p)
		return nil
	})
	mm.closeConsumerRefs(cascade)
	return err
}

// CloseConsumer closes a consumer on request; the owner is not notified
func (mm *MediaManager) CloseConsumer(peerID, consumerID string) error {
	return mm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		c := peer.Consumer(consumerID)
		if c == nil {
			return ErrConsumerNotFound
		}
		mm.closeConsumerLocked(peer, c)
		return nil
	})
}

// ListProducers returns the producers of the other members of the peer's room
func (mm *MediaManager) ListProducers(peerID string) ([]models.ProducerInfo, error) {
	peer, err := mm.sessions.GetPeer(peerID)
	if err != nil {
		return nil, err
	}
	room := mm.rooms.Get(peer.RoomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room.ProducersExcept(peerID), nil
}

func (mm *MediaManager) withConsumer(peerID, consumerID string, fn func(*models.Consumer) error) error {
	return mm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		c := peer.Consumer(consumerID)
		if c == nil {
			return ErrConsumerNotFound
		}
		return fn(c)
	})
}

func (mm *MediaManager) withProducer(peerID, producerID string, fn func(*models.Producer) error) error {
	return mm.sessions.WithPeer(peerID, func(peer *models.Peer) error {
		p := peer.Producer(producerID)
		if p == nil {
			return ErrProducerNotFound
		}
		return fn(p)
	})
}

// closeProducerLocked removes p from the peer and the room directory and
// returns the consumers that were bound to it. The caller holds the peer lock.
func (mm *MediaManager) closeProducerLocked(peer *models.Peer, p *models.Producer) []models.ConsumerRef {
	if !p.Close() {
		return nil
	}
	mm.sessions.DetachProducer(peer, p.ID)
	var refs []models.ConsumerRef
	if room := mm.rooms.Get(peer.RoomID); room != nil {
		refs = room.RemoveProducer(p.ID)
	}
	if err := p.Engine.Close(); err != nil {
		mm.logger.Warn("engine producer close failed", zap.String("producer_id", p.ID), zap.Error(err))
	}
	mm.metrics.ProducerClosed(string(p.Kind))
	mm.logger.Debug("producer closed",
		zap.String("peer_id", peer.ID),
		zap.String("producer_id", p.ID),
		zap.Int("consumers", len(refs)))
	return refs
}

// closeConsumerLocked requires the owning peer's lock
func (mm *MediaManager) closeConsumerLocked(peer *models.Peer, c *models.Consumer) bool {
	if !c.Close() {
		return false
	}
	mm.sessions.DetachConsumer(peer, c.ID)
	if room := mm.rooms.Get(peer.RoomID); room != nil {
		room.RemoveConsumer(c.ProducerID, c.ID)
	}
	if err := c.Engine.Close(); err != nil {
		mm.logger.Warn("engine consumer close failed", zap.String("consumer_id", c.ID), zap.Error(err))
	}
	mm.metrics.ConsumerClosed(string(c.Kind))
	return true
}

func (mm *MediaManager) closeProducerByID(peerID, producerID string) {
	peer, err := mm.sessions.GetPeer(peerID)
	if err != nil {
		return
	}
	var cascade []models.ConsumerRef
	peer.Lock()
	if p := peer.Producer(producerID); p != nil {
		cascade = mm.closeProducerLocked(peer, p)
	}
	peer.Unlock()
	mm.closeConsumerRefs(cascade)
}

// closeConsumerByID closes a consumer from outside its peer's lock. When
// notify is set the owner receives consumerClosed.
func (mm *MediaManager) closeConsumerByID(peerID, consumerID string, notify bool) {
	peer, err := mm.sessions.GetPeer(peerID)
	if err != nil {
		return
	}
	peer.Lock()
	defer peer.Unlock()
	c := peer.Consumer(consumerID)
	if c == nil || !mm.closeConsumerLocked(peer, c) {
		return
	}
	if notify && !peer.Closed() {
		peer.Notify(protocol.NotificationConsumerClosed, protocol.ConsumerClosedNotification{
			ConsumerID: c.ID,
			ProducerID: c.ProducerID,
		})
	}
}

// closeConsumerRefs closes consumers left behind by closed producers. It must
// be called without holding any peer lock.
func (mm *MediaManager) closeConsumerRefs(refs []models.ConsumerRef) {
	for _, ref := range refs {
		mm.closeConsumerByID(ref.PeerID, ref.ConsumerID, true)
	}
}
