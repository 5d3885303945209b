package memengine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/utils"
	"github.com/google/uuid"
)

type closeCause int

const (
	closeExplicit closeCause = iota
	closeByParent
	closeByProducer
)

// fireList collects callbacks while a router lock is held
type fireList []func()

func (f *fireList) add(fn func()) { *f = append(*f, fn) }

func (f fireList) run() {
	for _, fn := range f {
		fn()
	}
}

// Router guards every transport, producer and consumer created under it
// with a single mutex.
type Router struct {
	id     string
	worker *Worker
	caps   mediaengine.RtpCapabilities

	mu         sync.Mutex
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

var _ mediaengine.Router = (*Router)(nil)

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() mediaengine.RtpCapabilities { return r.caps }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) CanConsume(producerID string, caps mediaengine.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return mediaengine.CanConsume(p.params, caps)
}

// ProducerCount returns the number of open producers on the router
func (r *Router) ProducerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts mediaengine.WebRtcTransportOptions) (mediaengine.Transport, error) {
	if len(opts.ListenIPs) == 0 {
		return nil, fmt.Errorf("%w: no listen ips", mediaengine.ErrInvalidParameters)
	}
	if !opts.EnableUDP && !opts.EnableTCP {
		return nil, fmt.Errorf("%w: neither udp nor tcp enabled", mediaengine.ErrInvalidParameters)
	}
	if err := r.worker.engine.begin(ctx, OpCreateTransport); err != nil {
		return nil, err
	}

	t := &Transport{
		id:        utils.NewObjectID(),
		router:    r,
		dtlsState: mediaengine.DtlsStateNew,
		ice: mediaengine.IceParameters{
			UsernameFragment: randomToken(16),
			Password:         randomToken(32),
			IceLite:          true,
		},
		dtls: mediaengine.DtlsParameters{
			Role:         mediaengine.DtlsRoleAuto,
			Fingerprints: []mediaengine.DtlsFingerprint{{Algorithm: "sha-256", Value: randomFingerprint()}},
		},
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	t.candidates = r.buildCandidates(opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, mediaengine.ErrClosed
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) buildCandidates(opts mediaengine.WebRtcTransportOptions) []mediaengine.IceCandidate {
	udpPref, tcpPref := uint32(65535), uint32(65534)
	if !opts.PreferUDP {
		udpPref, tcpPref = tcpPref, udpPref
	}
	var out []mediaengine.IceCandidate
	for i, lip := range opts.ListenIPs {
		ip := lip.IP
		if lip.AnnouncedIP != "" {
			ip = lip.AnnouncedIP
		}
		port := r.worker.allocPort()
		if opts.EnableUDP {
			out = append(out, mediaengine.IceCandidate{
				Foundation: fmt.Sprintf("udpcandidate%d", i),
				Priority:   hostPriority(udpPref - uint32(i)),
				IP:         ip,
				Protocol:   "udp",
				Port:       port,
				Type:       "host",
			})
		}
		if opts.EnableTCP {
			out = append(out, mediaengine.IceCandidate{
				Foundation: fmt.Sprintf("tcpcandidate%d", i),
				Priority:   hostPriority(tcpPref - uint32(i)),
				IP:         ip,
				Protocol:   "tcp",
				Port:       port,
				Type:       "host",
				TCPType:    "passive",
			})
		}
	}
	return out
}

// hostPriority follows RFC 8445 5.1.2.1 with host type preference 126
func hostPriority(localPref uint32) uint32 {
	return (1<<24)*126 + (1<<8)*localPref + 255
}

func (r *Router) Close() error {
	r.shutdown()
	r.worker.removeRouter(r.id)
	return nil
}

func (r *Router) shutdown() {
	var fire fireList
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, t := range r.transports {
		r.closeTransportLocked(t, closeByParent, &fire)
	}
	r.mu.Unlock()
	fire.run()
}

func (r *Router) closeTransportLocked(t *Transport, cause closeCause, fire *fireList) {
	if t.closed {
		return
	}
	t.closed = true
	delete(r.transports, t.id)
	for _, p := range t.producers {
		r.closeProducerLocked(p, closeByParent, fire)
	}
	for _, c := range t.consumers {
		r.closeConsumerLocked(c, closeByParent, fire)
	}
	if cause == closeByParent {
		fire.add(t.onClose.Fire)
	}
}

func (r *Router) closeProducerLocked(p *Producer, cause closeCause, fire *fireList) {
	if p.closed {
		return
	}
	p.closed = true
	delete(r.producers, p.id)
	delete(p.transport.producers, p.id)
	for _, c := range p.consumers {
		r.closeConsumerLocked(c, closeByProducer, fire)
	}
	if cause == closeByParent {
		fire.add(p.onTransportClose.Fire)
	}
}

func (r *Router) closeConsumerLocked(c *Consumer, cause closeCause, fire *fireList) {
	if c.closed {
		return
	}
	c.closed = true
	delete(c.transport.consumers, c.id)
	delete(c.producer.consumers, c.id)
	switch cause {
	case closeByParent:
		fire.add(c.onTransportClose.Fire)
	case closeByProducer:
		fire.add(c.onProducerClose.Fire)
	}
}

func randomToken(n int) string {
	s := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return s[:n]
}

func randomFingerprint() string {
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)
	sum := sha256.Sum256(seed)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
