package reconcile

import (
	"time"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// Kind is the terminal outcome of one optimistic mutation.
type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindTimeout   Kind = "timeout"
	KindConflict  Kind = "conflict"
)

// Notification reports how a pending mutation resolved. Local is the
// optimistic entity as submitted; Authoritative is the server state that
// settled it (nil on timeout). Conflicts carry both sides and are never
// merged.
type Notification struct {
	Kind          Kind                `json:"kind"`
	CorrelationID string              `json:"correlation_id"`
	Resource      models.ResourceType `json:"resource"`
	EntityID      string              `json:"entity_id"`
	Local         models.Entity       `json:"local,omitempty"`
	Authoritative models.Entity       `json:"authoritative,omitempty"`
	At            time.Time           `json:"at"`
}
