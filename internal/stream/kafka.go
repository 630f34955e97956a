package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaTransport reads change events from one single-partition topic per
// channel; total order within a channel relies on that partitioning. Offsets
// are managed by the cursor store, not consumer groups: event seq maps to
// offset+1 when the payload does not carry its own sequence.
type KafkaTransport struct {
	conf config.KafkaConfig
}

func NewKafkaTransport(conf *config.Config) *KafkaTransport {
	return &KafkaTransport{conf: conf.Kafka}
}

func (t *KafkaTransport) Subscribe(_ context.Context, channel string, afterSeq uint64) (Conn, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   t.conf.Brokers,
		Topic:     channel,
		Partition: 0,
		MinBytes:  t.conf.MinBytes,
		MaxBytes:  t.conf.MaxBytes,
		Dialer: &kafka.Dialer{
			Timeout:   t.conf.DialTimeout,
			DualStack: true,
		},
	})

	var offset int64
	switch {
	case afterSeq == SeqNewest:
		offset = kafka.LastOffset
	case afterSeq == 0:
		offset = kafka.FirstOffset
	default:
		// seq N lives at offset N-1, so resuming after N starts at offset N
		offset = int64(afterSeq)
	}
	if err := reader.SetOffset(offset); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("set offset %d on %s: %w", offset, channel, err)
	}

	return &kafkaConn{reader: reader, channel: channel}, nil
}

type kafkaConn struct {
	reader  *kafka.Reader
	channel string
}

func (c *kafkaConn) Next(ctx context.Context) (*models.ChangeEvent, error) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, kafka.OffsetOutOfRange) {
				return nil, fmt.Errorf("fetch %s: %w", c.channel, ErrCursorGone)
			}
			return nil, fmt.Errorf("fetch %s: %w", c.channel, err)
		}

		var ev models.ChangeEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warnw(ctx, "skipping malformed change event",
				"channel", c.channel,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if ev.Seq == 0 {
			ev.Seq = uint64(msg.Offset) + 1
		}
		if ev.Channel == "" {
			ev.Channel = c.channel
		}
		return &ev, nil
	}
}

func (c *kafkaConn) Close() error {
	return c.reader.Close()
}
