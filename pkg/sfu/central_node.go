package sfu

import (
	"context"
	"time"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"go.uber.org/zap"
)

// CentralNode represents the central SFU node: the worker pool, the room
// and session registries and the managers operating on them.
type CentralNode struct {
	ID     string
	Logger *zap.Logger
	Config *Config

	metrics    *metrics.Metrics
	fatal      func(error)
	pool       *WorkerPool
	rooms      *RouterRegistry
	sessions   *SessionRegistry
	transports *TransportManager
	media      *MediaManager
	stats      *StatsReporter
}

// Option configures a CentralNode
type Option func(*CentralNode)

// WithMetrics records node activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(cn *CentralNode) { cn.metrics = m }
}

// WithFatalHandler installs the reaction to a media worker death
func WithFatalHandler(fn func(error)) Option {
	return func(cn *CentralNode) { cn.fatal = fn }
}

// NewCentralNode creates a new central SFU node
func NewCentralNode(id string, config *Config, engine mediaengine.Engine, l *zap.Logger, opts ...Option) *CentralNode {
	cn := &CentralNode{
		ID:     id,
		Logger: logger.Named(l, "sfu").With(zap.String("node_id", id)),
		Config: config.normalize(),
	}
	for _, opt := range opts {
		opt(cn)
	}

	cn.pool = NewWorkerPool(engine, cn.Config, cn.Logger, cn.metrics)
	cn.pool.SetFatalHandler(cn.onFatal)
	cn.rooms = NewRouterRegistry(cn.pool, cn.Config, cn.Logger, cn.metrics)
	cn.sessions = NewSessionRegistry(cn.rooms, cn.Config, cn.Logger, cn.metrics)
	cn.media = NewMediaManager(cn.sessions, cn.rooms, cn.Config, cn.Logger, cn.metrics)
	cn.transports = NewTransportManager(cn.sessions, cn.rooms, cn.media, cn.Config, cn.Logger, cn.metrics)
	cn.stats = NewStatsReporter(cn, cn.Config.StatsSchedule, cn.Logger, cn.metrics)
	return cn
}

// Start spawns the media workers and the stats reporter
func (cn *CentralNode) Start(ctx context.Context) error {
	if err := cn.pool.Start(ctx); err != nil {
		return err
	}
	if err := cn.stats.Start(); err != nil {
		cn.pool.Close()
		return err
	}
	cn.Logger.Info("SFU node started",
		zap.Int("workers", len(cn.pool.Workers())),
		zap.String("balancer", cn.Config.Balancer),
		zap.Duration("operation_timeout", cn.Config.OperationTimeout))
	return nil
}

// Close removes every peer and stops the workers
func (cn *CentralNode) Close() {
	cn.stats.Stop()
	for _, p := range cn.sessions.Peers() {
		cn.sessions.RemovePeer(p.ID, "shutdown")
	}
	cn.pool.Close()
	cn.Logger.Info("SFU node stopped")
}

func (cn *CentralNode) onFatal(err error) {
	cn.Logger.Error("fatal media engine failure", zap.Error(err))
	if cn.fatal != nil {
		cn.fatal(err)
	}
}

// Join registers a new peer in roomID; n receives its notifications
func (cn *CentralNode) Join(ctx context.Context, roomID string, n models.Notifier) (*models.Peer, []models.ProducerInfo, error) {
	return cn.sessions.AddPeer(ctx, roomID, n)
}

// Leave tears down everything the peer owns. Unknown peers are ignored.
func (cn *CentralNode) Leave(peerID, reason string) {
	cn.sessions.RemovePeer(peerID, reason)
}

// RtpCapabilities returns the capabilities of the peer's room router
func (cn *CentralNode) RtpCapabilities(peerID string) (mediaengine.RtpCapabilities, error) {
	peer, err := cn.sessions.GetPeer(peerID)
	if err != nil {
		return mediaengine.RtpCapabilities{}, err
	}
	room, err := cn.rooms.Usable(peer.RoomID)
	if err != nil {
		return mediaengine.RtpCapabilities{}, err
	}
	return room.Router.RtpCapabilities(), nil
}

func (cn *CentralNode) CreateWebRtcTransport(ctx context.Context, peerID string, sender bool) (*TransportInfo, error) {
	return cn.transports.CreateTransport(ctx, peerID, models.RoleFromSender(sender))
}

func (cn *CentralNode) ConnectTransport(ctx context.Context, peerID string, sender bool, opts mediaengine.ConnectOptions) error {
	return cn.transports.Connect(ctx, peerID, models.RoleFromSender(sender), opts)
}

func (cn *CentralNode) CloseTransport(peerID string, sender bool) error {
	return cn.transports.CloseByRole(peerID, models.RoleFromSender(sender))
}

func (cn *CentralNode) Produce(ctx context.Context, peerID string, kind mediaengine.MediaKind, params mediaengine.RtpParameters, appData map[string]interface{}) (string, error) {
	return cn.media.Produce(ctx, peerID, kind, params, appData)
}

func (cn *CentralNode) Consume(ctx context.Context, peerID, producerID string, caps mediaengine.RtpCapabilities) (*ConsumerInfo, error) {
	return cn.media.Consume(ctx, peerID, producerID, caps)
}

func (cn *CentralNode) ResumeConsumer(ctx context.Context, peerID, consumerID string) error {
	return cn.media.ResumeConsumer(ctx, peerID, consumerID)
}

func (cn *CentralNode) PauseConsumer(ctx context.Context, peerID, consumerID string) error {
	return cn.media.PauseConsumer(ctx, peerID, consumerID)
}

func (cn *CentralNode) CloseConsumer(peerID, consumerID string) error {
	return cn.media.CloseConsumer(peerID, consumerID)
}

func (cn *CentralNode) PauseProducer(ctx context.Context, peerID, producerID string) error {
	return cn.media.PauseProducer(ctx, peerID, producerID)
}

func (cn *CentralNode) ResumeProducer(ctx context.Context, peerID, producerID string) error {
	return cn.media.ResumeProducer(ctx, peerID, producerID)
}

func (cn *CentralNode) CloseProducer(peerID, producerID string) error {
	return cn.media.CloseProducer(peerID, producerID)
}

// Producers lists the producers of the other peers in the peer's room
func (cn *CentralNode) Producers(peerID string) ([]models.ProducerInfo, error) {
	return cn.media.ListProducers(peerID)
}

// GetRoom retrieves a room by ID
func (cn *CentralNode) GetRoom(roomID string) (*models.Room, bool) {
	room := cn.rooms.Get(roomID)
	return room, room != nil
}

// GetPeer retrieves a peer by ID
func (cn *CentralNode) GetPeer(peerID string) (*models.Peer, bool) {
	peer, err := cn.sessions.GetPeer(peerID)
	return peer, err == nil
}

// Pool exposes the worker pool
func (cn *CentralNode) Pool() *WorkerPool { return cn.pool }

// RoomSummary is the admin view of one room
type RoomSummary struct {
	ID        string    `json:"id"`
	RouterID  string    `json:"routerId"`
	WorkerID  string    `json:"workerId"`
	Peers     []string  `json:"peers"`
	Producers int       `json:"producers"`
	Unusable  string    `json:"unusable,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Rooms summarizes every open room ordered by id
func (cn *CentralNode) Rooms() []RoomSummary {
	rooms := cn.rooms.Rooms()
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		s := RoomSummary{
			ID:        r.ID,
			RouterID:  r.Router.ID(),
			WorkerID:  r.WorkerID,
			Peers:     r.Members(),
			Producers: r.ProducerCount(),
			CreatedAt: r.CreatedAt,
		}
		if err := r.Unusable(); err != nil {
			s.Unusable = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Snapshot counts the node's live objects
type Snapshot struct {
	Rooms        int `json:"rooms"`
	Peers        int `json:"peers"`
	WorkersAlive int `json:"workersAlive"`
	WorkersDead  int `json:"workersDead"`
}

func (cn *CentralNode) Snapshot() Snapshot {
	alive, dead := cn.pool.counts()
	return Snapshot{
		Rooms:        cn.rooms.Count(),
		Peers:        cn.sessions.Count(),
		WorkersAlive: alive,
		WorkersDead:  dead,
	}
}
