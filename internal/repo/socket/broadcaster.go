package socket

import (
	"context"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/reconcile"
)

// Broadcaster pushes sync results to connected clients. Delivery is best
// effort: failures are logged, never propagated.
type Broadcaster interface {
	PublishChange(ctx context.Context, channel string, ev *models.ChangeEvent)
	PublishOutcome(ctx context.Context, note *reconcile.Notification)
}

type broadcaster struct {
	client *Client
}

func NewBroadcaster(conf *config.Config, client *Client) Broadcaster {
	if !conf.Socket.Enabled {
		return &noopBroadcaster{}
	}
	return &broadcaster{client: client}
}

// PublishChange forwards an applied change event to everyone following
// the channel.
func (b *broadcaster) PublishChange(ctx context.Context, channel string, ev *models.ChangeEvent) {
	event := Event{
		Channel: channel,
		Name:    "entity_" + string(ev.Op),
		Data:    ev,
	}
	if err := b.client.SendEvents(ctx, []Event{event}); err != nil {
		log.Warnw(ctx, "Failed to broadcast change",
			"channel", channel,
			"seq", ev.Seq,
			"error", err,
		)
	}
}

// PublishOutcome tells the submitting client how its mutation settled.
func (b *broadcaster) PublishOutcome(ctx context.Context, note *reconcile.Notification) {
	event := Event{
		Channel: "mutations." + note.CorrelationID,
		Name:    "mutation_" + string(note.Kind),
		Data:    note,
	}
	if err := b.client.SendEvents(ctx, []Event{event}); err != nil {
		log.Warnw(ctx, "Failed to broadcast outcome",
			"correlation_id", note.CorrelationID,
			"error", err,
		)
	}
}

type noopBroadcaster struct{}

func (noopBroadcaster) PublishChange(context.Context, string, *models.ChangeEvent) {}

func (noopBroadcaster) PublishOutcome(context.Context, *reconcile.Notification) {}
