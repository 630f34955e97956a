package stream

import (
	"context"
	"sync"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// Subscription is a live feed for one (resource, filter) channel. Events()
// closes when the subscription ends; Err() then reports why (nil after a
// clean Cancel).
type Subscription struct {
	channel  string
	resource models.ResourceType
	filter   Filter

	events chan Delivery
	done   chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(parent context.Context, channel string, resource models.ResourceType, filter Filter, buffer int) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription{
		channel:  channel,
		resource: resource,
		filter:   filter,
		events:   make(chan Delivery, buffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Subscription) Events() <-chan Delivery { return s.events }

func (s *Subscription) Channel() string { return s.channel }

func (s *Subscription) Resource() models.ResourceType { return s.resource }

func (s *Subscription) Filter() Filter { return s.filter }

// Cancel stops the subscription. Safe to call any number of times from any
// goroutine.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// Done closes once the run loop has exited and Events is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// deliver blocks until the consumer accepts d or the subscription is
// canceled; it reports whether d was accepted.
func (s *Subscription) deliver(d Delivery) bool {
	select {
	case s.events <- d:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Subscription) finish() {
	close(s.events)
	close(s.done)
}
