package rtcmedia

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Producer reads one SSRC from the client and fans packets out to its
// consumers. The packet path reads only atomics.
type Producer struct {
	id          string
	transport   *Transport
	kind        mediaengine.MediaKind
	params      mediaengine.RtpParameters
	ssrc        uint32
	payloadType uint8
	receiver    *webrtc.RTPReceiver
	logger      *zap.Logger

	paused atomic.Bool
	sinks  atomic.Pointer[[]*Consumer]

	// guarded by transport.router.mu
	closed    bool
	consumers map[string]*Consumer

	onTransportClose mediaengine.Signal
	stopOnce         sync.Once
}

var _ mediaengine.Producer = (*Producer)(nil)

func (p *Producer) ID() string                               { return p.id }
func (p *Producer) Kind() mediaengine.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() mediaengine.RtpParameters { return p.params }
func (p *Producer) Paused() bool                             { return p.paused.Load() }
func (p *Producer) OnTransportClose(fn func())               { p.onTransportClose.Add(fn) }

func (p *Producer) Closed() bool {
	p.transport.router.mu.Lock()
	defer p.transport.router.mu.Unlock()
	return p.closed
}

func (p *Producer) Pause(ctx context.Context) error  { return p.setPaused(ctx, true) }
func (p *Producer) Resume(ctx context.Context) error { return p.setPaused(ctx, false) }

func (p *Producer) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Closed() {
		return mediaengine.ErrClosed
	}
	p.paused.Store(paused)
	if !paused {
		p.requestKeyFrame()
	}
	return nil
}

// publishSinksLocked snapshots the consumer set for the packet path
func (p *Producer) publishSinksLocked() {
	list := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		list = append(list, c)
	}
	p.sinks.Store(&list)
}

func (p *Producer) start() {
	if p.Closed() {
		return
	}
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(p.ssrc),
				PayloadType: webrtc.PayloadType(p.payloadType),
			},
		}},
	})
	if err != nil {
		p.logger.Warn("receive failed", zap.Error(err))
		return
	}
	go p.drainRTCP()
	go p.forward(p.receiver.Track())
}

func (p *Producer) forward(track *webrtc.TrackRemote) {
	if track == nil {
		return
	}
	var backoff time.Duration
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if closedReadErr(err) || p.Closed() || p.transport.DtlsState().Terminal() {
				return
			}
			backoff = nextReadBackoff(backoff)
			p.logger.Debug("rtp read", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		if p.paused.Load() {
			continue
		}
		for _, c := range *p.sinks.Load() {
			c.write(pkt)
		}
	}
}

const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = 500 * time.Millisecond
)

// closedReadErr reports errors after which the track never yields packets
func closedReadErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// nextReadBackoff doubles d within [minReadBackoff, maxReadBackoff]
func nextReadBackoff(d time.Duration) time.Duration {
	if d < minReadBackoff {
		return minReadBackoff
	}
	if d *= 2; d > maxReadBackoff {
		return maxReadBackoff
	}
	return d
}

// drainRTCP keeps the receiver's RTCP stream flowing
func (p *Producer) drainRTCP() {
	for {
		if _, _, err := p.receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// requestKeyFrame asks the sending client for a new video key frame
func (p *Producer) requestKeyFrame() {
	if p.kind != mediaengine.MediaKindVideo {
		return
	}
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}}
	if _, err := p.transport.dtls.WriteRTCP(pli); err != nil {
		p.logger.Debug("pli not sent", zap.Error(err))
	}
}

func (p *Producer) Close() error {
	var d deferred
	r := p.transport.router
	r.mu.Lock()
	r.closeProducerLocked(p, closeExplicit, &d)
	r.mu.Unlock()
	d.run()
	return nil
}

func (p *Producer) teardown() {
	p.stopOnce.Do(func() {
		if err := p.receiver.Stop(); err != nil {
			p.logger.Debug("receiver stop", zap.Error(err))
		}
	})
}

// Consumer writes its producer's packets onto a static RTP track bound to an
// RTP sender. The track rewrites SSRC and payload type.
type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	kind      mediaengine.MediaKind
	params    mediaengine.RtpParameters
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender
	logger    *zap.Logger

	paused atomic.Bool

	// guarded by transport.router.mu
	closed bool

	onTransportClose mediaengine.Signal
	onProducerClose  mediaengine.Signal
	stopOnce         sync.Once
}

var _ mediaengine.Consumer = (*Consumer)(nil)

func (c *Consumer) ID() string                               { return c.id }
func (c *Consumer) ProducerID() string                       { return c.producer.id }
func (c *Consumer) Kind() mediaengine.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() mediaengine.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                             { return c.paused.Load() }
func (c *Consumer) OnTransportClose(fn func())               { c.onTransportClose.Add(fn) }
func (c *Consumer) OnProducerClose(fn func())                { c.onProducerClose.Add(fn) }

func (c *Consumer) Closed() bool {
	c.transport.router.mu.Lock()
	defer c.transport.router.mu.Unlock()
	return c.closed
}

func (c *Consumer) Pause(ctx context.Context) error  { return c.setPaused(ctx, true) }
func (c *Consumer) Resume(ctx context.Context) error { return c.setPaused(ctx, false) }

func (c *Consumer) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Closed() {
		return mediaengine.ErrClosed
	}
	c.paused.Store(paused)
	if !paused {
		c.producer.requestKeyFrame()
	}
	return nil
}

func (c *Consumer) write(pkt *rtp.Packet) {
	if c.paused.Load() {
		return
	}
	if err := c.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.logger.Debug("rtp write", zap.Error(err))
	}
}

func (c *Consumer) start(send webrtc.RTPSendParameters) {
	if c.Closed() {
		return
	}
	if err := c.sender.Send(send); err != nil {
		c.logger.Warn("send failed", zap.Error(err))
		return
	}
	go c.readRTCP()
	if !c.paused.Load() {
		c.producer.requestKeyFrame()
	}
}

// readRTCP relays key frame requests from the receiving client upstream
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.requestKeyFrame()
			}
		}
	}
}

func (c *Consumer) Close() error {
	var d deferred
	r := c.transport.router
	r.mu.Lock()
	r.closeConsumerLocked(c, closeExplicit, &d)
	r.mu.Unlock()
	d.run()
	return nil
}

func (c *Consumer) teardown() {
	c.stopOnce.Do(func() {
		if err := c.sender.Stop(); err != nil {
			c.logger.Debug("sender stop", zap.Error(err))
		}
	})
}
