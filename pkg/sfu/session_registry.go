package sfu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/LingByte/LingSFU/pkg/utils"
	"go.uber.org/zap"
)

// SessionRegistry maps peer ids to their records and tracks which peer owns
// every transport, producer and consumer id.
type SessionRegistry struct {
	rooms      *RouterRegistry
	transports *TransportManager
	maxPeers   int
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	peers  map[string]*models.Peer
	owners map[string]string // object id -> peer id
}

func NewSessionRegistry(rooms *RouterRegistry, cfg *Config, l *zap.Logger, m *metrics.Metrics) *SessionRegistry {
	return &SessionRegistry{
		rooms:    rooms,
		maxPeers: cfg.normalize().MaxPeers,
		logger:   logger.Named(l, "sessions"),
		metrics:  m,
		peers:    make(map[string]*models.Peer),
		owners:   make(map[string]string),
	}
}

// AddPeer creates a peer in roomID and returns the room's existing producers
func (s *SessionRegistry) AddPeer(ctx context.Context, roomID string, n models.Notifier) (*models.Peer, []models.ProducerInfo, error) {
	if roomID == "" {
		return nil, nil, fmt.Errorf("%w: empty room id", ErrInvalidParameters)
	}
	peer := models.NewPeer(utils.NewPeerID(), roomID, n)

	s.mu.Lock()
	if s.maxPeers > 0 && len(s.peers) >= s.maxPeers {
		s.mu.Unlock()
		return nil, nil, ErrServerFull
	}
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	_, producers, err := s.rooms.Join(ctx, roomID, peer.ID, n)
	if err != nil {
		s.mu.Lock()
		delete(s.peers, peer.ID)
		s.mu.Unlock()
		return nil, nil, err
	}
	s.metrics.PeerJoined()
	s.logger.Info("peer joined",
		zap.String("peer_id", peer.ID),
		zap.String("room_id", roomID),
		zap.Int("existing_producers", len(producers)))
	return peer, producers, nil
}

// RemovePeer closes both transports, which cascades to every producer and
// consumer, then leaves the room. It never fails; unknown peers are ignored.
func (s *SessionRegistry) RemovePeer(peerID string, reason string) {
	s.mu.Lock()
	peer, ok := s.peers[peerID]
	delete(s.peers, peerID)
	s.mu.Unlock()
	if !ok || !peer.MarkClosed() {
		return
	}

	var cascade []models.ConsumerRef
	peer.Lock()
	for _, t := range peer.Transports() {
		cascade = append(cascade, s.transports.closeLocked(peer, t, reasonPeerLeft)...)
	}
	peer.Unlock()
	s.transports.media.closeConsumerRefs(cascade)

	s.rooms.Leave(peer.RoomID, peer.ID)
	s.metrics.PeerLeft()
	s.logger.Info("peer left",
		zap.String("peer_id", peer.ID),
		zap.String("room_id", peer.RoomID),
		zap.String("reason", reason))
}

func (s *SessionRegistry) GetPeer(peerID string) (*models.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[peerID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return peer, nil
}

// WithPeer runs fn holding the peer's lock. Peers already leaving are
// rejected.
func (s *SessionRegistry) WithPeer(peerID string, fn func(*models.Peer) error) error {
	peer, err := s.GetPeer(peerID)
	if err != nil {
		return err
	}
	peer.Lock()
	defer peer.Unlock()
	if peer.Closed() {
		return ErrPeerClosed
	}
	return fn(peer)
}

// AttachTransport stores t on a locked peer
func (s *SessionRegistry) AttachTransport(peer *models.Peer, t *models.Transport) error {
	if peer.Transport(t.Role) != nil {
		return ErrTransportExists
	}
	if err := s.own(t.ID, peer.ID); err != nil {
		return err
	}
	peer.SetTransport(t)
	return nil
}

func (s *SessionRegistry) DetachTransport(peer *models.Peer, id string) {
	peer.RemoveTransport(id)
	s.disown(id)
}

func (s *SessionRegistry) AttachProducer(peer *models.Peer, p *models.Producer) error {
	if err := s.own(p.ID, peer.ID); err != nil {
		return err
	}
	peer.SetProducer(p)
	return nil
}

func (s *SessionRegistry) DetachProducer(peer *models.Peer, id string) {
	peer.RemoveProducer(id)
	s.disown(id)
}

func (s *SessionRegistry) AttachConsumer(peer *models.Peer, c *models.Consumer) error {
	if err := s.own(c.ID, peer.ID); err != nil {
		return err
	}
	peer.SetConsumer(c)
	return nil
}

func (s *SessionRegistry) DetachConsumer(peer *models.Peer, id string) {
	peer.RemoveConsumer(id)
	s.disown(id)
}

// Owner returns the peer owning a transport, producer or consumer id
func (s *SessionRegistry) Owner(objectID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[objectID]
	return id, ok
}

func (s *SessionRegistry) own(objectID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.owners[objectID]; ok {
		return fmt.Errorf("%w: object %s already owned by peer %s", ErrInvalidParameters, objectID, owner)
	}
	s.owners[objectID] = peerID
	return nil
}

func (s *SessionRegistry) disown(objectID string) {
	s.mu.Lock()
	delete(s.owners, objectID)
	s.mu.Unlock()
}

func (s *SessionRegistry) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Peers returns the registered peers ordered by id
func (s *SessionRegistry) Peers() []*models.Peer {
	s.mu.RLock()
	out := make([]*models.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
