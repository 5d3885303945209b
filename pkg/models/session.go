package models

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
)

// Notifier delivers server-initiated messages to one peer. Implementations
// must not block.
type Notifier interface {
	Notify(method string, data interface{})
}

// Transport is the session-side record of an engine transport. Fields are
// guarded by the owning peer's lock.
type Transport struct {
	ID        string
	PeerID    string
	Role      TransportRole
	State     TransportState
	Engine    mediaengine.Transport
	CreatedAt time.Time

	// accepted is set once the engine took the remote parameters. The
	// transport stays connecting until the handshake reports success.
	accepted bool
}

func NewTransport(peerID string, role TransportRole, engine mediaengine.Transport) *Transport {
	return &Transport{
		ID:        engine.ID(),
		PeerID:    peerID,
		Role:      role,
		State:     TransportStateCreated,
		Engine:    engine,
		CreatedAt: time.Now(),
	}
}

// BeginConnect moves created -> connecting
func (t *Transport) BeginConnect() error {
	if t.State != TransportStateCreated {
		return transitionError("transport", t.State, TransportStateConnecting)
	}
	t.State = TransportStateConnecting
	return nil
}

// FinishConnect records the outcome of the engine connect call. On success
// the transport stays connecting until HandshakeDone; on failure it returns
// to created so the client can retry.
func (t *Transport) FinishConnect(ok bool) {
	if t.State != TransportStateConnecting {
		return
	}
	if ok {
		t.accepted = true
	} else {
		t.State = TransportStateCreated
	}
}

// HandshakeDone moves an accepted transport from connecting to connected
// and reports whether it did.
func (t *Transport) HandshakeDone() bool {
	if t.State != TransportStateConnecting || !t.accepted {
		return false
	}
	t.State = TransportStateConnected
	return true
}

func (t *Transport) Connected() bool { return t.State == TransportStateConnected }

// Accepted reports whether the remote parameters were applied and the
// transport is not closed. Media may be set up from then on; the engine
// starts RTP once the handshake completes.
func (t *Transport) Accepted() bool {
	return t.accepted && (t.State == TransportStateConnecting || t.State == TransportStateConnected)
}

// Close reports whether this call performed the transition
func (t *Transport) Close() bool {
	if t.State == TransportStateClosed {
		return false
	}
	t.State = TransportStateClosed
	return true
}

type Producer struct {
	ID            string
	PeerID        string
	TransportID   string
	Kind          mediaengine.MediaKind
	State         ProducerState
	RtpParameters mediaengine.RtpParameters
	AppData       map[string]interface{}
	Engine        mediaengine.Producer
	CreatedAt     time.Time
}

func NewProducer(peerID, transportID string, engine mediaengine.Producer, appData map[string]interface{}) *Producer {
	state := ProducerStateActive
	if engine.Paused() {
		state = ProducerStatePaused
	}
	return &Producer{
		ID:            engine.ID(),
		PeerID:        peerID,
		TransportID:   transportID,
		Kind:          engine.Kind(),
		State:         state,
		RtpParameters: engine.RtpParameters(),
		AppData:       appData,
		Engine:        engine,
		CreatedAt:     time.Now(),
	}
}

func (p *Producer) Pause() error {
	if p.State != ProducerStateActive {
		return transitionError("producer", p.State, ProducerStatePaused)
	}
	p.State = ProducerStatePaused
	return nil
}

func (p *Producer) Resume() error {
	if p.State != ProducerStatePaused {
		return transitionError("producer", p.State, ProducerStateActive)
	}
	p.State = ProducerStateActive
	return nil
}

func (p *Producer) Close() bool {
	if p.State == ProducerStateClosed {
		return false
	}
	p.State = ProducerStateClosed
	return true
}

type Consumer struct {
	ID             string
	PeerID         string
	TransportID    string
	ProducerID     string
	ProducerPeerID string
	Kind           mediaengine.MediaKind
	State          ConsumerState
	RtpParameters  mediaengine.RtpParameters
	Engine         mediaengine.Consumer
	CreatedAt      time.Time
}

// NewConsumer records an engine consumer. Consumers always start paused.
func NewConsumer(peerID, transportID, producerPeerID string, engine mediaengine.Consumer) *Consumer {
	return &Consumer{
		ID:             engine.ID(),
		PeerID:         peerID,
		TransportID:    transportID,
		ProducerID:     engine.ProducerID(),
		ProducerPeerID: producerPeerID,
		Kind:           engine.Kind(),
		State:          ConsumerStatePaused,
		RtpParameters:  engine.RtpParameters(),
		Engine:         engine,
		CreatedAt:      time.Now(),
	}
}

// Resume moves paused -> resumed exactly once
func (c *Consumer) Resume() error {
	if c.State != ConsumerStatePaused {
		return transitionError("consumer", c.State, ConsumerStateResumed)
	}
	c.State = ConsumerStateResumed
	return nil
}

func (c *Consumer) Pause() error {
	if c.State != ConsumerStateResumed {
		return transitionError("consumer", c.State, ConsumerStatePaused)
	}
	c.State = ConsumerStatePaused
	return nil
}

func (c *Consumer) Close() bool {
	if c.State == ConsumerStateClosed {
		return false
	}
	c.State = ConsumerStateClosed
	return true
}

// Peer is one signaling connection's view of its media objects. Every
// accessor except ID, RoomID, Notify and Closed requires Lock.
type Peer struct {
	ID       string
	RoomID   string
	JoinedAt time.Time
	notifier Notifier

	mu         sync.Mutex
	closed     atomic.Bool
	transports map[TransportRole]*Transport
	producers  map[string]*Producer
	consumers  map[string]*Consumer
}

func NewPeer(id, roomID string, notifier Notifier) *Peer {
	return &Peer{
		ID:         id,
		RoomID:     roomID,
		JoinedAt:   time.Now(),
		notifier:   notifier,
		transports: make(map[TransportRole]*Transport),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
	}
}

func (p *Peer) Lock()   { p.mu.Lock() }
func (p *Peer) Unlock() { p.mu.Unlock() }

// MarkClosed flags the peer as leaving; it reports false if already flagged
func (p *Peer) MarkClosed() bool { return p.closed.CompareAndSwap(false, true) }

func (p *Peer) Closed() bool { return p.closed.Load() }

func (p *Peer) Notifier() Notifier { return p.notifier }

// Notify is a no-op for peers without a channel
func (p *Peer) Notify(method string, data interface{}) {
	if p.notifier != nil {
		p.notifier.Notify(method, data)
	}
}

func (p *Peer) Transport(role TransportRole) *Transport {
	return p.transports[role]
}

func (p *Peer) TransportByID(id string) *Transport {
	for _, t := range p.transports {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// SetTransport stores t in its role slot. The caller checks the slot is free.
func (p *Peer) SetTransport(t *Transport) {
	p.transports[t.Role] = t
}

func (p *Peer) RemoveTransport(id string) {
	for role, t := range p.transports {
		if t.ID == id {
			delete(p.transports, role)
		}
	}
}

func (p *Peer) Transports() []*Transport {
	out := make([]*Transport, 0, len(p.transports))
	for _, t := range p.transports {
		out = append(out, t)
	}
	return out
}

func (p *Peer) Producer(id string) *Producer { return p.producers[id] }

func (p *Peer) SetProducer(pr *Producer) { p.producers[pr.ID] = pr }

func (p *Peer) RemoveProducer(id string) { delete(p.producers, id) }

func (p *Peer) Producers() []*Producer {
	out := make([]*Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		out = append(out, pr)
	}
	return out
}

// ProducersOn returns the producers hosted on transportID
func (p *Peer) ProducersOn(transportID string) []*Producer {
	var out []*Producer
	for _, pr := range p.producers {
		if pr.TransportID == transportID {
			out = append(out, pr)
		}
	}
	return out
}

func (p *Peer) Consumer(id string) *Consumer { return p.consumers[id] }

func (p *Peer) SetConsumer(c *Consumer) { p.consumers[c.ID] = c }

func (p *Peer) RemoveConsumer(id string) { delete(p.consumers, id) }

func (p *Peer) Consumers() []*Consumer {
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

// ConsumersOn returns the consumers hosted on transportID
func (p *Peer) ConsumersOn(transportID string) []*Consumer {
	var out []*Consumer
	for _, c := range p.consumers {
		if c.TransportID == transportID {
			out = append(out, c)
		}
	}
	return out
}
