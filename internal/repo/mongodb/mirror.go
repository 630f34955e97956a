package mongodb

import (
	"context"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/gammazero/workerpool"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mirrorWriteTimeout = 10 * time.Second

// Mirror copies applied change events into the database in the background
// so snapshots survive restarts. Writes are version guarded: replayed or
// reordered events never move the mirror backwards.
type Mirror interface {
	Record(ctx context.Context, ev *models.ChangeEvent)
	Purge(ctx context.Context, olderThan time.Time)
	Stats(ctx context.Context) (map[models.ResourceType]MirrorStats, error)
	Close()
}

type MirrorStats struct {
	Live       int64 `json:"live"`
	Tombstones int64 `json:"tombstones"`
}

type mirror struct {
	teams    TeamsRepo
	projects ProjectsRepo
	messages MessagesRepo
	pool     *workerpool.WorkerPool
	writes   *prometheus.CounterVec
}

func NewMirror(
	conf *config.Config,
	teams TeamsRepo,
	projects ProjectsRepo,
	messages MessagesRepo,
) (Mirror, error) {
	writes, err := util.GetCounterVec("sync_mirror_writes", "resource", "outcome")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}

	return &mirror{
		teams:    teams,
		projects: projects,
		messages: messages,
		pool:     workerpool.New(conf.Snapshot.MirrorPool),
		writes:   writes,
	}, nil
}

func (m *mirror) Record(ctx context.Context, ev *models.ChangeEvent) {
	m.pool.Submit(func() {
		// detach from the consumer loop so shutdown does not abort an
		// in-flight write
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorWriteTimeout)
		defer cancel()

		if err := m.write(wctx, ev); err != nil {
			m.writes.WithLabelValues(string(ev.Resource), "error").Inc()
			log.Errorw(wctx, "Mirror write failed",
				"resource", ev.Resource,
				"seq", ev.Seq,
				"error", err,
			)
		}
	})
}

func (m *mirror) write(ctx context.Context, ev *models.ChangeEvent) error {
	ent, err := ev.DecodeRecord()
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	if ev.Op == models.OpDelete {
		if err := m.markDeleted(ctx, ev.Resource, ent.Meta()); err != nil {
			return err
		}
		m.writes.WithLabelValues(string(ev.Resource), "deleted").Inc()
		return nil
	}

	applied, err := m.upsert(ctx, ev.Resource, ent)
	if err != nil {
		return err
	}
	outcome := "applied"
	if !applied {
		outcome = "stale"
	}
	m.writes.WithLabelValues(string(ev.Resource), outcome).Inc()
	return nil
}

func (m *mirror) upsert(ctx context.Context, resource models.ResourceType, ent models.Entity) (bool, error) {
	switch resource {
	case models.ResourceTeams:
		team, ok := ent.(*models.Team)
		if !ok {
			return false, fmt.Errorf("unexpected entity type %T", ent)
		}
		return m.teams.UpsertNewer(ctx, *team)
	case models.ResourceProjects:
		project, ok := ent.(*models.Project)
		if !ok {
			return false, fmt.Errorf("unexpected entity type %T", ent)
		}
		return m.projects.UpsertNewer(ctx, *project)
	case models.ResourceMessages:
		message, ok := ent.(*models.Message)
		if !ok {
			return false, fmt.Errorf("unexpected entity type %T", ent)
		}
		return m.messages.UpsertNewer(ctx, *message)
	}
	return false, fmt.Errorf("unknown resource type %q", resource)
}

func (m *mirror) markDeleted(ctx context.Context, resource models.ResourceType, meta models.EntityMeta) error {
	now := time.Now()
	switch resource {
	case models.ResourceTeams:
		return m.teams.MarkDeleted(ctx, meta, now)
	case models.ResourceProjects:
		return m.projects.MarkDeleted(ctx, meta, now)
	case models.ResourceMessages:
		return m.messages.MarkDeleted(ctx, meta, now)
	}
	return fmt.Errorf("unknown resource type %q", resource)
}

// Purge drops tombstone rows older than the retention window.
func (m *mirror) Purge(ctx context.Context, olderThan time.Time) {
	var total int64
	for resource, purge := range map[models.ResourceType]func(context.Context, time.Time) (int64, error){
		models.ResourceTeams:    m.teams.PurgeDeleted,
		models.ResourceProjects: m.projects.PurgeDeleted,
		models.ResourceMessages: m.messages.PurgeDeleted,
	} {
		purged, err := purge(ctx, olderThan)
		if err != nil {
			log.Errorw(ctx, "Mirror purge failed", "resource", resource, "error", err)
			continue
		}
		total += purged
	}
	if total > 0 {
		log.Infow(ctx, "Purged mirrored tombstones", "count", total, "older_than", olderThan)
	}
}

func (m *mirror) Stats(ctx context.Context) (map[models.ResourceType]MirrorStats, error) {
	stats := make(map[models.ResourceType]MirrorStats, 3)
	for resource, count := range map[models.ResourceType]func(context.Context, bson.M, ...*options.CountOptions) (int64, error){
		models.ResourceTeams:    m.teams.Count,
		models.ResourceProjects: m.projects.Count,
		models.ResourceMessages: m.messages.Count,
	} {
		live, err := count(ctx, bson.M{"deleted": bson.M{"$ne": true}})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", resource, err)
		}
		tombstones, err := count(ctx, bson.M{"deleted": true})
		if err != nil {
			return nil, fmt.Errorf("count %s tombstones: %w", resource, err)
		}
		stats[resource] = MirrorStats{Live: live, Tombstones: tombstones}
	}
	return stats, nil
}

func (m *mirror) Close() {
	m.pool.StopWait()
}

// NewNoopMirror is used when mirror writes are disabled.
func NewNoopMirror() Mirror {
	return &noopMirror{}
}

type noopMirror struct{}

func (n *noopMirror) Record(ctx context.Context, ev *models.ChangeEvent) {}

func (n *noopMirror) Purge(ctx context.Context, olderThan time.Time) {}

func (n *noopMirror) Stats(ctx context.Context) (map[models.ResourceType]MirrorStats, error) {
	return map[models.ResourceType]MirrorStats{}, nil
}

func (n *noopMirror) Close() {}
