package signaling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type frame struct {
	typ  int
	data []byte
}

// Client is one signaling connection. ReadPump handles requests in order on
// the connection's goroutine; WritePump owns every write. Client implements
// models.Notifier.
type Client struct {
	conn       *websocket.Conn
	cfg        Config
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
	binary    atomic.Bool // last request arrived as msgpack

	mu     sync.RWMutex
	peerID string
}

func newClient(conn *websocket.Conn, cfg Config, d *Dispatcher, l *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		conn:       conn,
		cfg:        cfg,
		dispatcher: d,
		logger:     l,
		metrics:    m,
		send:       make(chan frame, cfg.SendQueue),
		done:       make(chan struct{}),
	}
}

// PeerID is empty until join succeeds
func (c *Client) PeerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID
}

func (c *Client) setPeerID(id string) {
	c.mu.Lock()
	c.peerID = id
	c.mu.Unlock()
}

func (c *Client) codec() Codec {
	if c.binary.Load() {
		return MsgPack
	}
	return JSON
}

// Notify queues a notification in the codec of the latest request. It never
// blocks; when the queue is full the notification is dropped.
func (c *Client) Notify(method string, data interface{}) {
	codec := c.codec()
	b, err := codec.Encode(protocol.NewNotification(method, data))
	if err != nil {
		c.logger.Error("encode notification", zap.String("method", method), zap.Error(err))
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame{typ: codec.FrameType(), data: b}:
	case <-c.done:
	default:
		c.metrics.NotificationDropped()
		c.logger.Warn("send queue full, notification dropped",
			zap.String("peer_id", c.PeerID()),
			zap.String("method", method))
	}
}

// reply queues a response, waiting for room in the queue
func (c *Client) reply(codec Codec, m *protocol.Message) {
	b, err := codec.Encode(m)
	if err != nil {
		c.logger.Error("encode response", zap.Uint32("id", m.ID), zap.Error(err))
		return
	}
	select {
	case c.send <- frame{typ: codec.FrameType(), data: b}:
	case <-c.done:
	}
}

// ReadPump reads and serves requests until the connection fails
func (c *Client) ReadPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(c.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("peer_id", c.PeerID()), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		codec, ok := CodecFor(typ)
		if !ok {
			continue
		}
		c.binary.Store(codec == MsgPack)

		req, err := codec.DecodeRequest(data)
		if err != nil {
			appErr := errors.NewAppError(errors.ErrCodeInvalidMessage, "malformed request").WithCause(err)
			c.reply(codec, protocol.NewErrorResponse(0, appErr))
			continue
		}
		c.reply(codec, c.dispatcher.Handle(ctx, c, req, codec))
	}
}

// WritePump drains the send queue and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(f.typ, f.data); err != nil {
				c.logger.Debug("websocket write failed", zap.String("peer_id", c.PeerID()), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// drain flushes frames queued before close
func (c *Client) drain() {
	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(f.typ, f.data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection stops serving
func (c *Client) Done() <-chan struct{} { return c.done }
