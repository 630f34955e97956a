package snapshot

import (
	"context"
	"errors"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
)

// ErrDisabled is returned by the disabled source. Callers keep applying
// live events and skip the snapshot replace.
var ErrDisabled = errors.New("snapshot source disabled")

// Result is one authoritative snapshot of a resource scope.
type Result struct {
	Entities []models.Entity
	// AsOfSeq is the channel sequence the snapshot reflects, 0 when the
	// source cannot tell.
	AsOfSeq uint64
}

// Source produces authoritative snapshots used to rebuild state after a
// sequence gap or an expired cursor.
type Source interface {
	Fetch(ctx context.Context, resource models.ResourceType, filter stream.Filter) (*Result, error)
}

type disabledSource struct{}

func Disabled() Source {
	return disabledSource{}
}

func (disabledSource) Fetch(context.Context, models.ResourceType, stream.Filter) (*Result, error) {
	return nil, ErrDisabled
}
