package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// MemoryTransport is an in-process transport with a retained event log per
// channel. It backs local development and tests; the publish side can also
// simulate retention loss, transient failures and unauthorized channels.
type MemoryTransport struct {
	mu       sync.Mutex
	channels map[string]*memChannel
}

type memChannel struct {
	firstSeq uint64 // seq of events[0]; nextSeq when empty
	nextSeq  uint64
	events   []models.ChangeEvent
	waiters  map[chan struct{}]struct{}
	authErr  error
	nextErr  error
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{channels: make(map[string]*memChannel)}
}

func (t *MemoryTransport) channel(name string) *memChannel {
	mc, ok := t.channels[name]
	if !ok {
		mc = &memChannel{
			firstSeq: 1,
			nextSeq:  1,
			waiters:  make(map[chan struct{}]struct{}),
		}
		t.channels[name] = mc
	}
	return mc
}

// Publish appends ev to the channel log, assigning the next sequence when
// ev.Seq is zero, and wakes blocked readers. It returns the assigned seq.
func (t *MemoryTransport) Publish(channel string, ev models.ChangeEvent) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	mc := t.channel(channel)
	if ev.Seq == 0 {
		ev.Seq = mc.nextSeq
	} else if ev.Seq >= mc.nextSeq {
		mc.nextSeq = ev.Seq
	}
	ev.Channel = channel
	mc.events = append(mc.events, ev)
	mc.nextSeq++

	for w := range mc.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return ev.Seq
}

// Trim drops retained events with seq below keepFrom, simulating broker
// retention expiry.
func (t *MemoryTransport) Trim(channel string, keepFrom uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mc := t.channel(channel)
	for len(mc.events) > 0 && mc.events[0].Seq < keepFrom {
		mc.events = mc.events[1:]
	}
	if keepFrom > mc.firstSeq {
		mc.firstSeq = keepFrom
	}
	// Truncating past the head moves the head too, so future publishes
	// stay within retention.
	if mc.nextSeq < mc.firstSeq {
		mc.nextSeq = mc.firstSeq
	}
}

// SetAuthError makes Subscribe and in-flight reads fail with err; nil
// restores access.
func (t *MemoryTransport) SetAuthError(channel string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mc := t.channel(channel)
	mc.authErr = err
	for w := range mc.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// FailNext makes the next read on the channel fail once with err,
// simulating a dropped connection.
func (t *MemoryTransport) FailNext(channel string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mc := t.channel(channel)
	mc.nextErr = err
	for w := range mc.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (t *MemoryTransport) Subscribe(_ context.Context, channel string, afterSeq uint64) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mc := t.channel(channel)
	if mc.authErr != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, mc.authErr)
	}

	pos := afterSeq + 1
	switch {
	case afterSeq == SeqNewest:
		pos = mc.nextSeq
	case pos < mc.firstSeq:
		if afterSeq > 0 {
			return nil, fmt.Errorf("subscribe %s after %d: %w", channel, afterSeq, ErrCursorGone)
		}
		pos = mc.firstSeq
	}

	return &memConn{t: t, mc: mc, channel: channel, pos: pos, notify: make(chan struct{}, 1)}, nil
}

type memConn struct {
	t       *MemoryTransport
	mc      *memChannel
	channel string
	pos     uint64
	notify  chan struct{}
}

func (c *memConn) Next(ctx context.Context) (*models.ChangeEvent, error) {
	for {
		c.t.mu.Lock()
		if err := c.mc.authErr; err != nil {
			c.t.mu.Unlock()
			return nil, fmt.Errorf("read %s: %w", c.channel, err)
		}
		if err := c.mc.nextErr; err != nil {
			c.mc.nextErr = nil
			c.t.mu.Unlock()
			return nil, err
		}
		if c.pos < c.mc.firstSeq {
			c.t.mu.Unlock()
			return nil, fmt.Errorf("read %s at %d: %w", c.channel, c.pos, ErrCursorGone)
		}
		var next *models.ChangeEvent
		for i := range c.mc.events {
			if c.mc.events[i].Seq >= c.pos {
				next = &c.mc.events[i]
				break
			}
		}
		if next != nil {
			ev := *next
			c.pos = ev.Seq + 1
			c.t.mu.Unlock()
			return &ev, nil
		}
		c.mc.waiters[c.notify] = struct{}{}
		c.t.mu.Unlock()

		select {
		case <-c.notify:
		case <-ctx.Done():
			c.unregister()
			return nil, ctx.Err()
		}
	}
}

func (c *memConn) unregister() {
	c.t.mu.Lock()
	delete(c.mc.waiters, c.notify)
	c.t.mu.Unlock()
}

func (c *memConn) Close() error {
	c.unregister()
	return nil
}
