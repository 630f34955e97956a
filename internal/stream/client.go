package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

// Client subscribes to the authoritative change stream. Each subscription
// owns one channel: events arrive in sequence order, at least once, with
// gap detection, cursor resume and jittered reconnects. Unauthorized
// channels terminate without retry.
type Client interface {
	Subscribe(ctx context.Context, resource models.ResourceType, filter Filter) (*Subscription, error)
}

type client struct {
	conf      config.StreamConfig
	transport Transport
	cursors   CursorStore

	reconnects *prometheus.CounterVec
	resyncs    *prometheus.CounterVec
	delivered  *prometheus.CounterVec
}

func NewClient(conf *config.Config, transport Transport, cursors CursorStore) (Client, error) {
	reconnects, err := util.GetCounterVec("sync_stream_reconnects", "channel")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}
	resyncs, err := util.GetCounterVec("sync_stream_resyncs", "channel", "reason")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}
	delivered, err := util.GetCounterVec("sync_stream_events", "channel")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}

	return &client{
		conf:       conf.Stream,
		transport:  transport,
		cursors:    cursors,
		reconnects: reconnects,
		resyncs:    resyncs,
		delivered:  delivered,
	}, nil
}

func (c *client) Subscribe(ctx context.Context, resource models.ResourceType, filter Filter) (*Subscription, error) {
	if _, err := models.ParseResourceType(string(resource)); err != nil {
		return nil, err
	}

	channel := ChannelName(c.conf.ChannelPrefix, resource, filter)
	last, err := c.cursors.Load(ctx, channel)
	if err != nil {
		log.Warnw(ctx, "cursor load failed, starting from oldest", "channel", channel, "error", err)
		last = 0
	}

	sub := newSubscription(ctx, channel, resource, filter, c.conf.EventBuffer)
	go c.run(sub, last)

	log.Infow(ctx, "subscribed to change stream", "channel", channel, "after_seq", last)
	return sub, nil
}

func (c *client) run(sub *Subscription, last uint64) {
	defer sub.finish()

	ctx := sub.ctx
	backoff := Backoff{Base: c.conf.BackoffBase, Max: c.conf.BackoffMax}
	resume := last

	// Held until the replacement connection is open, so the consumer never
	// sees a post-break event before the resync that explains it and never
	// misses one published after the resync arrived.
	var pending *Resync

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.transport.Subscribe(ctx, sub.channel, resume)
		if err == nil {
			backoff.Reset()
			if pending != nil {
				if !sub.deliver(Delivery{Resync: pending}) {
					_ = conn.Close()
					return
				}
				pending = nil
			}
			before := last
			err = c.consume(ctx, sub, conn, &last)
			_ = conn.Close()
			if last != before {
				resume = last
			}
		}

		switch {
		case err == nil || errors.Is(err, context.Canceled):
			return

		case errors.Is(err, ErrCursorGone):
			c.resyncs.WithLabelValues(sub.channel, ResyncCursorExpired).Inc()
			log.Warnw(ctx, "stream cursor expired, resuming from newest",
				"channel", sub.channel,
				"after_seq", resume,
			)
			pending = &Resync{
				Channel: sub.channel,
				FromSeq: last + 1,
				Reason:  ResyncCursorExpired,
			}
			// The snapshot rebuild owns the jump to the new head; the gap
			// detector starts over from whatever arrives there.
			last = 0
			resume = SeqNewest

		case IsFatal(err):
			log.Errorw(ctx, "change stream terminated", "channel", sub.channel, "error", err)
			sub.setErr(err)
			return

		default:
			delay := backoff.Next()
			c.reconnects.WithLabelValues(sub.channel).Inc()
			log.Warnw(ctx, "change stream connection lost, reconnecting",
				"channel", sub.channel,
				"attempt", backoff.Attempt(),
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
			if !sleep(ctx, delay) {
				return
			}
		}
	}
}

func (c *client) consume(ctx context.Context, sub *Subscription, conn Conn, last *uint64) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}

		if *last != 0 && ev.Seq > *last+1 {
			c.resyncs.WithLabelValues(sub.channel, ResyncSequenceGap).Inc()
			log.Warnw(ctx, "sequence gap detected",
				"channel", sub.channel,
				"expected_seq", *last+1,
				"got_seq", ev.Seq,
			)
			if !sub.deliver(Delivery{Resync: &Resync{
				Channel: sub.channel,
				FromSeq: *last + 1,
				ToSeq:   ev.Seq,
				Reason:  ResyncSequenceGap,
			}}) {
				return nil
			}
		}

		// At-least-once: duplicates are delivered too, apply is idempotent.
		if !sub.deliver(Delivery{Event: ev}) {
			return nil
		}
		c.delivered.WithLabelValues(sub.channel).Inc()

		if ev.Seq > *last {
			*last = ev.Seq
			if err := c.cursors.Save(ctx, sub.channel, ev.Seq); err != nil {
				log.Warnw(ctx, "cursor save failed", "channel", sub.channel, "seq", ev.Seq, "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
