package memengine

import (
	"context"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
)

type Producer struct {
	id        string
	transport *Transport
	kind      mediaengine.MediaKind
	params    mediaengine.RtpParameters

	// guarded by transport.router.mu
	closed    bool
	paused    bool
	consumers map[string]*Consumer

	onTransportClose mediaengine.Signal
}

var _ mediaengine.Producer = (*Producer)(nil)

func (p *Producer) ID() string                               { return p.id }
func (p *Producer) Kind() mediaengine.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() mediaengine.RtpParameters { return p.params }
func (p *Producer) OnTransportClose(fn func())               { p.onTransportClose.Add(fn) }

func (p *Producer) Paused() bool {
	p.transport.router.mu.Lock()
	defer p.transport.router.mu.Unlock()
	return p.paused
}

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
	r := p.transport.router
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.closed {
		return mediaengine.ErrClosed
	}
	p.paused = paused
	return nil
}

func (p *Producer) Close() error {
	var fire fireList
	r := p.transport.router
	r.mu.Lock()
	r.closeProducerLocked(p, closeExplicit, &fire)
	r.mu.Unlock()
	fire.run()
	return nil
}

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	kind      mediaengine.MediaKind
	params    mediaengine.RtpParameters

	// guarded by transport.router.mu
	closed bool
	paused bool

	onTransportClose mediaengine.Signal
	onProducerClose  mediaengine.Signal
}

var _ mediaengine.Consumer = (*Consumer)(nil)

func (c *Consumer) ID() string                               { return c.id }
func (c *Consumer) ProducerID() string                       { return c.producer.id }
func (c *Consumer) Kind() mediaengine.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() mediaengine.RtpParameters { return c.params }
func (c *Consumer) OnTransportClose(fn func())               { c.onTransportClose.Add(fn) }
func (c *Consumer) OnProducerClose(fn func())                { c.onProducerClose.Add(fn) }

func (c *Consumer) Paused() bool {
	c.transport.router.mu.Lock()
	defer c.transport.router.mu.Unlock()
	return c.paused
}

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
	r := c.transport.router
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.closed {
		return mediaengine.ErrClosed
	}
	c.paused = paused
	return nil
}

func (c *Consumer) Close() error {
	var fire fireList
	r := c.transport.router
	r.mu.Lock()
	r.closeConsumerLocked(c, closeExplicit, &fire)
	r.mu.Unlock()
	fire.run()
	return nil
}
