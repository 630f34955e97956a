package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
)

// ApplyResult classifies the outcome of applying one change event.
type ApplyResult string

const (
	Applied    ApplyResult = "applied"
	Stale      ApplyResult = "stale"
	Tombstoned ApplyResult = "tombstoned"
)

type ResourceStats struct {
	Live       int `json:"live"`
	Tombstones int `json:"tombstones"`
}

// Store is the in-memory authoritative mirror, keyed by (resource, id).
// Writes are last-writer-wins on (version, updated_at); deletes leave
// tombstones that absorb later events until the retention sweep purges
// them. All reads return deep copies.
type Store interface {
	Apply(ctx context.Context, ev *models.ChangeEvent) (ApplyResult, error)
	Get(resource models.ResourceType, id string) (models.Entity, bool)
	List(resource models.ResourceType) []models.Entity
	ListWhere(resource models.ResourceType, match func(models.Entity) bool) []models.Entity
	ReplaceWhere(resource models.ResourceType, match func(models.Entity) bool, entities []models.Entity) int

	// Optimistic projection hooks used by the reconciliation engine.
	Project(ent models.Entity, correlationID string) error
	ProjectDelete(resource models.ResourceType, id, correlationID string) error
	Rollback(resource models.ResourceType, id, correlationID string) bool

	PurgeTombstones(olderThan time.Time) int
	Stats() map[models.ResourceType]ResourceStats
}

// record tracks one entity id. meta always reflects the last confirmed
// authoritative state so LWW never compares against an optimistic
// projection. entity is what readers see and may be optimistic while
// corrID is set; hidden marks an optimistic delete.
type record struct {
	entity    models.Entity
	confirmed models.Entity
	meta      models.EntityMeta
	corrID    string
	hidden    bool
	deleted   bool
	deletedAt time.Time
}

type store struct {
	mu      sync.RWMutex
	records map[models.ResourceType]map[string]*record
}

func New() Store {
	records := make(map[models.ResourceType]map[string]*record)
	for _, rt := range []models.ResourceType{models.ResourceTeams, models.ResourceProjects, models.ResourceMessages} {
		records[rt] = make(map[string]*record)
	}
	return &store{records: records}
}

func newerThan(a, b models.EntityMeta) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func (s *store) Apply(_ context.Context, ev *models.ChangeEvent) (ApplyResult, error) {
	ent, err := ev.DecodeRecord()
	if err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	meta := ent.Meta()

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.records[ev.Resource]
	if !ok {
		return "", fmt.Errorf("unknown resource type %q", ev.Resource)
	}
	rec, exists := recs[meta.ID]

	if exists && rec.deleted {
		return Tombstoned, nil
	}
	if exists && !newerThan(meta, rec.meta) {
		return Stale, nil
	}

	if ev.Op == models.OpDelete {
		recs[meta.ID] = &record{meta: meta, deleted: true, deletedAt: time.Now()}
		return Applied, nil
	}

	recs[meta.ID] = &record{entity: ent, confirmed: ent, meta: meta}
	return Applied, nil
}

func (s *store) Get(resource models.ResourceType, id string) (models.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[resource][id]
	if !ok || rec.deleted || rec.hidden || rec.entity == nil {
		return nil, false
	}
	return rec.entity.Clone(), true
}

func (s *store) List(resource models.ResourceType) []models.Entity {
	return s.ListWhere(resource, nil)
}

func (s *store) ListWhere(resource models.ResourceType, match func(models.Entity) bool) []models.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Entity
	for _, rec := range s.records[resource] {
		if rec.deleted || rec.hidden || rec.entity == nil {
			continue
		}
		if match != nil && !match(rec.entity) {
			continue
		}
		out = append(out, rec.entity.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta().ID < out[j].Meta().ID })
	return out
}

// ReplaceWhere installs a snapshot: live records matching the predicate are
// dropped, snapshot entities become the confirmed state. Tombstones within
// retention stand, including against snapshot rows that raced a delete.
// It returns the number of entities installed.
func (s *store) ReplaceWhere(resource models.ResourceType, match func(models.Entity) bool, entities []models.Entity) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[resource]
	for id, rec := range recs {
		if rec.deleted || rec.entity == nil {
			continue
		}
		if match == nil || match(rec.entity) {
			delete(recs, id)
		}
	}

	installed := 0
	for _, ent := range entities {
		meta := ent.Meta()
		if existing, ok := recs[meta.ID]; ok && existing.deleted {
			continue
		}
		recs[meta.ID] = &record{entity: ent, confirmed: ent, meta: meta}
		installed++
	}
	return installed
}

func (s *store) Project(ent models.Entity, correlationID string) error {
	meta := ent.Meta()

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.records[ent.Resource()]
	if !ok {
		return fmt.Errorf("unknown resource type %q", ent.Resource())
	}
	rec, exists := recs[meta.ID]
	if exists && rec.deleted {
		return models.ErrNotFound
	}
	if !exists {
		recs[meta.ID] = &record{entity: ent, corrID: correlationID}
		return nil
	}
	rec.entity = ent
	rec.corrID = correlationID
	rec.hidden = false
	return nil
}

func (s *store) ProjectDelete(resource models.ResourceType, id, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[resource][id]
	if !ok || rec.deleted {
		return models.ErrNotFound
	}
	rec.corrID = correlationID
	rec.hidden = true
	return nil
}

// Rollback restores the last confirmed state for a projection still owned
// by correlationID. It reports whether anything was restored; a projection
// already superseded by authoritative state is left alone.
func (s *store) Rollback(resource models.ResourceType, id, correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[resource]
	rec, ok := recs[id]
	if !ok || rec.deleted || rec.corrID != correlationID {
		return false
	}
	if rec.confirmed == nil {
		delete(recs, id)
		return true
	}
	rec.entity = rec.confirmed
	rec.corrID = ""
	rec.hidden = false
	return true
}

func (s *store) PurgeTombstones(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for _, recs := range s.records {
		for id, rec := range recs {
			if rec.deleted && rec.deletedAt.Before(olderThan) {
				delete(recs, id)
				purged++
			}
		}
	}
	return purged
}

func (s *store) Stats() map[models.ResourceType]ResourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.ResourceType]ResourceStats, len(s.records))
	for rt, recs := range s.records {
		var st ResourceStats
		for _, rec := range recs {
			if rec.deleted {
				st.Tombstones++
			} else if !rec.hidden && rec.entity != nil {
				st.Live++
			}
		}
		out[rt] = st
	}
	return out
}
