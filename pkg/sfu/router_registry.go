package sfu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"go.uber.org/zap"
)

// RouterRegistry maps room ids to rooms and their routers. Router creation
// and destruction for one room run under that room's keyed lock.
type RouterRegistry struct {
	pool    *WorkerPool
	cfg     *Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	locks keyedMutex

	mu      sync.RWMutex
	rooms   map[string]*models.Room
	workers map[string]*WorkerHandle // room id -> hosting worker
}

func NewRouterRegistry(pool *WorkerPool, cfg *Config, l *zap.Logger, m *metrics.Metrics) *RouterRegistry {
	rr := &RouterRegistry{
		pool:    pool,
		cfg:     cfg.normalize(),
		logger:  logger.Named(l, "router-registry"),
		metrics: m,
		rooms:   make(map[string]*models.Room),
		workers: make(map[string]*WorkerHandle),
	}
	pool.OnWorkerDeath(rr.workerDied)
	return rr
}

// Join adds peerID to the room, creating the room and its router on first
// join, and returns the producers already published there.
func (rr *RouterRegistry) Join(ctx context.Context, roomID, peerID string, n models.Notifier) (*models.Room, []models.ProducerInfo, error) {
	unlock := rr.locks.Lock(roomID)
	defer unlock()

	room := rr.Get(roomID)
	if room == nil {
		var err error
		if room, err = rr.createLocked(ctx, roomID); err != nil {
			return nil, nil, err
		}
	}
	if err := room.Unusable(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRoomUnusable, err)
	}
	if rr.cfg.MaxRoomPeers > 0 && room.MemberCount() >= rr.cfg.MaxRoomPeers {
		return nil, nil, ErrRoomFull
	}
	return room, room.AddMember(peerID, n), nil
}

func (rr *RouterRegistry) createLocked(ctx context.Context, roomID string) (*models.Room, error) {
	h, err := rr.pool.Acquire()
	if err != nil {
		return nil, err
	}
	router, err := callEngine(ctx, rr.cfg.OperationTimeout, func(ctx context.Context) (mediaengine.Router, error) {
		return h.Engine.CreateRouter(ctx, rr.cfg.MediaCodecs)
	}, func(r mediaengine.Router) { _ = r.Close() })
	if err != nil {
		rr.pool.Release(h)
		return nil, fmt.Errorf("create router for room %s: %w", roomID, err)
	}

	room := models.NewRoom(roomID, router, h.ID)
	rr.mu.Lock()
	rr.rooms[roomID] = room
	rr.workers[roomID] = h
	rr.mu.Unlock()

	rr.metrics.RoomStarted(h.ID)
	rr.logger.Info("Room created",
		zap.String("room_id", roomID),
		zap.String("router_id", router.ID()),
		zap.String("worker_id", h.ID))
	return room, nil
}

// Leave removes peerID and destroys the room when it becomes empty
func (rr *RouterRegistry) Leave(roomID, peerID string) {
	unlock := rr.locks.Lock(roomID)
	defer unlock()

	room := rr.Get(roomID)
	if room == nil {
		return
	}
	if room.RemoveMember(peerID) > 0 {
		return
	}
	rr.destroyLocked(room)
}

func (rr *RouterRegistry) destroyLocked(room *models.Room) {
	rr.mu.Lock()
	h := rr.workers[room.ID]
	delete(rr.rooms, room.ID)
	delete(rr.workers, room.ID)
	rr.mu.Unlock()

	if err := room.Router.Close(); err != nil {
		rr.logger.Warn("router close failed", zap.String("room_id", room.ID), zap.Error(err))
	}
	rr.pool.Release(h)
	rr.metrics.RoomEnded(room.WorkerID)
	rr.logger.Info("Room closed", zap.String("room_id", room.ID), zap.String("router_id", room.Router.ID()))
}

// Get returns the room or nil
func (rr *RouterRegistry) Get(roomID string) *models.Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[roomID]
}

// Usable returns the room when it exists and its worker is alive
func (rr *RouterRegistry) Usable(roomID string) (*models.Room, error) {
	room := rr.Get(roomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if err := room.Unusable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRoomUnusable, err)
	}
	return room, nil
}

// Rooms returns every open room ordered by id
func (rr *RouterRegistry) Rooms() []*models.Room {
	rr.mu.RLock()
	out := make([]*models.Room, 0, len(rr.rooms))
	for _, r := range rr.rooms {
		out = append(out, r)
	}
	rr.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (rr *RouterRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}

func (rr *RouterRegistry) workerDied(h *WorkerHandle, err error) {
	rr.mu.RLock()
	var affected []*models.Room
	for id, w := range rr.workers {
		if w == h {
			affected = append(affected, rr.rooms[id])
		}
	}
	rr.mu.RUnlock()

	for _, room := range affected {
		room.MarkUnusable(err)
		rr.logger.Error("room lost its worker",
			zap.String("room_id", room.ID),
			zap.String("worker_id", h.ID),
			zap.Int("members", room.MemberCount()))
	}
}
