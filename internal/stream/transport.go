package stream

import (
	"context"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// Transport provides ordered change-event feeds, one per channel.
type Transport interface {
	// Subscribe opens a feed resuming after afterSeq. afterSeq 0 starts at
	// the oldest retained event; SeqNewest skips history. A resume position
	// that is no longer retained yields ErrCursorGone; permission failures
	// yield an error satisfying IsFatal.
	Subscribe(ctx context.Context, channel string, afterSeq uint64) (Conn, error)
}

// Conn is a single open channel feed.
type Conn interface {
	// Next blocks until an event, a transport error, or ctx cancellation.
	// Malformed payloads are logged and skipped, never returned.
	Next(ctx context.Context) (*models.ChangeEvent, error)
	Close() error
}
