package stream

import (
	"errors"
	"fmt"
	"math"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// SeqNewest subscribes from the next published event, skipping history.
const SeqNewest = uint64(math.MaxUint64)

// ErrCursorGone is reported when the resume position is no longer retained
// by the transport; the consumer needs a snapshot refetch.
var ErrCursorGone = fmt.Errorf("cursor no longer retained")

// FatalError marks a subscription error that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func NewFatalError(err error) *FatalError {
	return &FatalError{Err: err}
}

// IsFatal reports whether err terminates a subscription for good.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe) || errors.Is(err, models.ErrUnauthorized)
}

// Filter narrows a channel to entities matching one field equality.
type Filter struct {
	Field string
	Value string
}

func (f Filter) IsZero() bool {
	return f.Field == "" && f.Value == ""
}

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Field + "=" + f.Value
}

// ChannelName builds the broker channel for a resource subscription,
// e.g. "sync.messages" or "sync.messages.project_id.p1".
func ChannelName(prefix string, resource models.ResourceType, filter Filter) string {
	name := prefix + "." + string(resource)
	if !filter.IsZero() {
		name += "." + filter.Field + "." + filter.Value
	}
	return name
}

// Resync tells the consumer its event continuity is broken: state must be
// rebuilt from a snapshot. FromSeq is the first missing sequence, ToSeq the
// first sequence observed after the break (0 when unknown).
type Resync struct {
	Channel string
	FromSeq uint64
	ToSeq   uint64
	Reason  string
}

const (
	ResyncSequenceGap   = "sequence_gap"
	ResyncCursorExpired = "cursor_expired"
)

// Delivery is one subscription item: exactly one of Event or Resync is set.
type Delivery struct {
	Event  *models.ChangeEvent
	Resync *Resync
}
