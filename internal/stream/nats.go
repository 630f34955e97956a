package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nats-io/nats.go"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// NatsTransport reads change events from JetStream, one stream per channel
// so the stream sequence is the channel sequence. Streams are created on
// first subscribe when missing.
type NatsTransport struct {
	js nats.JetStreamContext
}

func NewNatsTransport(js nats.JetStreamContext) *NatsTransport {
	return &NatsTransport{js: js}
}

func streamNameFor(channel string) string {
	return strings.ToUpper(strings.ReplaceAll(channel, ".", "_"))
}

func (t *NatsTransport) ensureStream(name, channel string) error {
	if _, err := t.js.StreamInfo(name); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := t.js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  []string{channel},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}

func (t *NatsTransport) Subscribe(_ context.Context, channel string, afterSeq uint64) (Conn, error) {
	name := streamNameFor(channel)
	if err := t.ensureStream(name, channel); err != nil {
		if errors.Is(err, nats.ErrAuthorization) {
			return nil, fmt.Errorf("subscribe %s: %w", channel, models.ErrUnauthorized)
		}
		return nil, fmt.Errorf("ensure stream %s: %w", name, err)
	}

	opts := []nats.SubOpt{nats.BindStream(name), nats.AckNone()}
	switch {
	case afterSeq == SeqNewest:
		opts = append(opts, nats.DeliverNew())
	case afterSeq == 0:
		opts = append(opts, nats.DeliverAll())
	default:
		info, err := t.js.StreamInfo(name)
		if err != nil {
			return nil, fmt.Errorf("stream info %s: %w", name, err)
		}
		if info.State.FirstSeq > afterSeq+1 {
			return nil, fmt.Errorf("subscribe %s after %d: %w", channel, afterSeq, ErrCursorGone)
		}
		opts = append(opts, nats.StartSequence(afterSeq+1))
	}

	sub, err := t.js.SubscribeSync(channel, opts...)
	if err != nil {
		if errors.Is(err, nats.ErrAuthorization) {
			return nil, fmt.Errorf("subscribe %s: %w", channel, models.ErrUnauthorized)
		}
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &natsConn{sub: sub, channel: channel}, nil
}

type natsConn struct {
	sub     *nats.Subscription
	channel string
}

func (c *natsConn) Next(ctx context.Context) (*models.ChangeEvent, error) {
	for {
		msg, err := c.sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, nats.ErrAuthorization) {
				return nil, fmt.Errorf("read %s: %w", c.channel, models.ErrUnauthorized)
			}
			return nil, fmt.Errorf("read %s: %w", c.channel, err)
		}

		var ev models.ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warnw(ctx, "skipping malformed change event",
				"channel", c.channel,
				"subject", msg.Subject,
				"error", err,
			)
			continue
		}
		if ev.Seq == 0 {
			if meta, err := msg.Metadata(); err == nil {
				ev.Seq = meta.Sequence.Stream
			}
		}
		if ev.Channel == "" {
			ev.Channel = c.channel
		}
		return &ev, nil
	}
}

func (c *natsConn) Close() error {
	return c.sub.Unsubscribe()
}
