package usecase

import (
	"context"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
)

// SyncUsecase runs the change-stream pipelines: one subscription per
// configured resource, events applied to the store through the
// reconciliation engine, resyncs rebuilt from the snapshot source, applied
// changes mirrored and broadcast.
type SyncUsecase interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Submit(ctx context.Context, mut *models.Mutation) (string, error)
	Status(ctx context.Context) *SyncStatus
}

type SyncStatus struct {
	Channels         []ChannelStatus                             `json:"channels"`
	PendingMutations int                                         `json:"pending_mutations"`
	Store            map[models.ResourceType]store.ResourceStats `json:"store"`
	Mirror           map[models.ResourceType]mongodb.MirrorStats `json:"mirror,omitempty"`
}

type ChannelStatus struct {
	Channel  string              `json:"channel"`
	Resource models.ResourceType `json:"resource"`
	LastSeq  uint64              `json:"last_seq"`
	Events   uint64              `json:"events"`
	Resyncs  uint64              `json:"resyncs"`
	Active   bool                `json:"active"`
}
