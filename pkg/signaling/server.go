package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/LingByte/LingSFU/pkg/constants"
	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/sfu"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config bounds one signaling connection
type Config struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	SendQueue    int
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:    constants.DefaultWSReadLimit,
		WriteTimeout: constants.DefaultWSWriteTimeout,
		PongWait:     constants.DefaultWSPongWait,
		PingInterval: constants.DefaultWSPingInterval,
		SendQueue:    constants.DefaultWSSendQueue,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	return c
}

// Server accepts signaling websockets and ties each one to a peer
type Server struct {
	node       *sfu.CentralNode
	dispatcher *Dispatcher
	cfg        Config
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewServer(node *sfu.CentralNode, cfg Config, l *zap.Logger, m *metrics.Metrics) *Server {
	lg := logger.Named(l, "signaling")
	return &Server{
		node:       node,
		dispatcher: NewDispatcher(node, lg, m),
		cfg:        cfg.normalize(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  lg,
		metrics: m,
		clients: make(map[*Client]struct{}),
	}
}

// HandleWebSocket upgrades GET /ws and serves the connection until it closes
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	s.Serve(c.Request.Context(), conn)
}

// Serve runs conn's pumps and removes its peer when the connection ends
func (s *Server) Serve(ctx context.Context, conn *websocket.Conn) {
	client := newClient(conn, s.cfg, s.dispatcher, s.logger, s.metrics)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[client] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		if peerID := client.PeerID(); peerID != "" {
			s.node.Leave(peerID, "signaling closed")
		}
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		s.wg.Done()
	}()

	// requests outlive the HTTP request context once upgraded
	go client.WritePump()
	client.ReadPump(context.WithoutCancel(ctx))
}

// ClientCount returns the number of open connections
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and waits for their peers to be removed
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	s.wg.Wait()
}
