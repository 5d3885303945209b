package models

import (
	"sort"
	"sync"
	"time"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
)

// ProducerInfo is what other room members learn about a producer
type ProducerInfo struct {
	ProducerID string                `json:"producerId"`
	PeerID     string                `json:"peerId"`
	Kind       mediaengine.MediaKind `json:"kind"`
}

// ConsumerRef locates a consumer in some peer's record
type ConsumerRef struct {
	ConsumerID string
	PeerID     string
}

type producerEntry struct {
	info        ProducerInfo
	transportID string
	consumers   map[string]string // consumerID -> peerID
}

// Room represents a communication room: its members, the router they share
// and the directory of producers published into it.
type Room struct {
	ID        string
	Router    mediaengine.Router
	WorkerID  string
	CreatedAt time.Time

	mu        sync.RWMutex
	members   map[string]Notifier
	producers map[string]*producerEntry
	unusable  error
}

// NewRoom creates a new room
func NewRoom(id string, router mediaengine.Router, workerID string) *Room {
	return &Room{
		ID:        id,
		Router:    router,
		WorkerID:  workerID,
		CreatedAt: time.Now(),
		members:   make(map[string]Notifier),
		producers: make(map[string]*producerEntry),
	}
}

// AddMember registers peerID and returns the producers already published.
// Both happen under one lock so a concurrent produce is either in the
// snapshot or notifies the new member.
func (r *Room) AddMember(peerID string, n Notifier) []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[peerID] = n
	return r.producersExceptLocked(peerID)
}

// RemoveMember returns the remaining member count
func (r *Room) RemoveMember(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, peerID)
	return len(r.members)
}

func (r *Room) HasMember(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[peerID]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns member ids in sorted order
func (r *Room) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddProducer records a producer and returns the notifiers of every other
// member, taken under the same lock.
func (r *Room) AddProducer(info ProducerInfo, transportID string) []Notifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[info.ProducerID] = &producerEntry{
		info:        info,
		transportID: transportID,
		consumers:   make(map[string]string),
	}
	out := make([]Notifier, 0, len(r.members))
	for id, n := range r.members {
		if id != info.PeerID && n != nil {
			out = append(out, n)
		}
	}
	return out
}

// RemoveProducer drops a producer and returns the consumers bound to it
func (r *Room) RemoveProducer(producerID string) []ConsumerRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.producers[producerID]
	if !ok {
		return nil
	}
	delete(r.producers, producerID)
	refs := make([]ConsumerRef, 0, len(e.consumers))
	for cid, pid := range e.consumers {
		refs = append(refs, ConsumerRef{ConsumerID: cid, PeerID: pid})
	}
	return refs
}

func (r *Room) Producer(producerID string) (ProducerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.producers[producerID]
	if !ok {
		return ProducerInfo{}, false
	}
	return e.info, true
}

// AddConsumer binds a consumer to a producer; false if the producer is gone
func (r *Room) AddConsumer(producerID, consumerID, peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.producers[producerID]
	if !ok {
		return false
	}
	e.consumers[consumerID] = peerID
	return true
}

func (r *Room) RemoveConsumer(producerID, consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.producers[producerID]; ok {
		delete(e.consumers, consumerID)
	}
}

// ProducersExcept lists producers not owned by peerID
func (r *Room) ProducersExcept(peerID string) []ProducerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producersExceptLocked(peerID)
}

func (r *Room) ProducerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

func (r *Room) producersExceptLocked(peerID string) []ProducerInfo {
	out := make([]ProducerInfo, 0, len(r.producers))
	for _, e := range r.producers {
		if e.info.PeerID != peerID {
			out = append(out, e.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProducerID < out[j].ProducerID })
	return out
}

// MarkUnusable records why the room can no longer serve requests
func (r *Room) MarkUnusable(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unusable == nil {
		r.unusable = err
	}
}

// Unusable returns the recorded failure, if any
func (r *Room) Unusable() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unusable
}
