package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nats-io/nuid"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
	"github.com/nguyentranbao-ct/chat-sync/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine reconciles optimistic mutations against the authoritative change
// stream. Submit projects the mutation into the store and tracks it by
// correlation id; Observe is the single funnel every stream event passes
// through. Each submission resolves exactly once: confirmed by its echo,
// rolled back on timeout, or conflicted when authoritative state lands
// first.
type Engine interface {
	Submit(ctx context.Context, mut *models.Mutation) (string, error)
	Observe(ctx context.Context, ev *models.ChangeEvent) (store.ApplyResult, error)
	Notifications() <-chan Notification
	PendingCount() int
	Close()
}

type pending struct {
	correlationID string
	resource      models.ResourceType
	entityID      string
	op            models.Op
	local         models.Entity
	submittedAt   time.Time
	timer         *time.Timer
}

type engine struct {
	conf  config.ReconcileConfig
	store store.Store

	mu       sync.Mutex
	pending  map[string]*pending // correlation id → pending
	byEntity map[string]string   // resource/id → correlation id
	notices  chan Notification
	closed   bool

	outcomes *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	inflight *prometheus.GaugeVec
}

func NewEngine(conf *config.Config, st store.Store) (Engine, error) {
	outcomes, err := util.GetCounterVec("sync_reconcile_outcomes", "kind")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}
	dropped, err := util.GetCounterVec("sync_reconcile_dropped_notifications")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}
	inflight, err := util.GetGaugeVec("sync_pending_mutations")
	if err != nil {
		return nil, fmt.Errorf("get gauge vec: %w", err)
	}

	buffer := conf.Reconcile.NotifyBuffer
	if buffer <= 0 {
		buffer = 1
	}
	return &engine{
		conf:     conf.Reconcile,
		store:    st,
		pending:  make(map[string]*pending),
		byEntity: make(map[string]string),
		notices:  make(chan Notification, buffer),
		outcomes: outcomes,
		dropped:  dropped,
		inflight: inflight,
	}, nil
}

func entityKey(resource models.ResourceType, id string) string {
	return string(resource) + "/" + id
}

func (e *engine) Submit(ctx context.Context, mut *models.Mutation) (string, error) {
	ent, err := mut.DecodeRecord()
	if err != nil {
		return "", fmt.Errorf("decode mutation: %w", err)
	}
	meta := ent.Meta()

	// Attachments are fixed at message creation. An update projection keeps
	// the attachments already held for the entity, whatever was submitted.
	if msg, isMsg := ent.(*models.Message); isMsg && mut.Op == models.OpUpdate {
		if cur, exists := e.store.Get(mut.Resource, meta.ID); exists {
			if curMsg, isCur := cur.(*models.Message); isCur {
				msg.Attachments = curMsg.Attachments
			}
		}
	}

	corrID := mut.CorrelationID
	if corrID == "" {
		corrID = nuid.Next()
	}
	key := entityKey(mut.Resource, meta.ID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("reconciliation engine closed")
	}
	if _, dup := e.pending[corrID]; dup {
		e.mu.Unlock()
		return "", fmt.Errorf("correlation %s: %w", corrID, models.ErrAlreadyPending)
	}
	if other, busy := e.byEntity[key]; busy {
		e.mu.Unlock()
		return "", fmt.Errorf("entity %s held by correlation %s: %w", key, other, models.ErrAlreadyPending)
	}

	switch mut.Op {
	case models.OpDelete:
		err = e.store.ProjectDelete(mut.Resource, meta.ID, corrID)
	default:
		err = e.store.Project(ent, corrID)
	}
	if err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("project optimistic state: %w", err)
	}

	p := &pending{
		correlationID: corrID,
		resource:      mut.Resource,
		entityID:      meta.ID,
		op:            mut.Op,
		local:         ent,
		submittedAt:   time.Now(),
	}
	p.timer = time.AfterFunc(e.conf.Timeout, func() { e.expire(corrID) })
	e.pending[corrID] = p
	e.byEntity[key] = corrID
	e.inflight.WithLabelValues().Set(float64(len(e.pending)))
	e.mu.Unlock()

	log.Infow(ctx, "optimistic mutation submitted",
		"correlation_id", corrID,
		"resource", mut.Resource,
		"entity_id", meta.ID,
		"op", mut.Op,
	)
	return corrID, nil
}

func (e *engine) Observe(ctx context.Context, ev *models.ChangeEvent) (store.ApplyResult, error) {
	result, err := e.store.Apply(ctx, ev)
	if err != nil {
		return result, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.pending[ev.CorrelationID]; ok && ev.CorrelationID != "" {
		e.resolve(p, Notification{
			Kind:          KindConfirmed,
			CorrelationID: p.correlationID,
			Resource:      p.resource,
			EntityID:      p.entityID,
			Local:         p.local,
			Authoritative: e.decodeForNotice(ctx, ev),
			At:            time.Now(),
		})
		log.Infow(ctx, "optimistic mutation confirmed",
			"correlation_id", p.correlationID,
			"entity_id", p.entityID,
			"result", result,
		)
		return result, nil
	}

	// An authoritative write that lands on an entity with a foreign pending
	// mutation is a conflict: server state stands, the local write is
	// surfaced, never merged.
	if result == store.Applied && len(e.byEntity) > 0 {
		ent := e.decodeForNotice(ctx, ev)
		if ent != nil {
			key := entityKey(ev.Resource, ent.Meta().ID)
			if corrID, ok := e.byEntity[key]; ok {
				p := e.pending[corrID]
				e.resolve(p, Notification{
					Kind:          KindConflict,
					CorrelationID: p.correlationID,
					Resource:      p.resource,
					EntityID:      p.entityID,
					Local:         p.local,
					Authoritative: ent,
					At:            time.Now(),
				})
				log.Warnw(ctx, "optimistic mutation conflicted with authoritative write",
					"correlation_id", p.correlationID,
					"entity_id", p.entityID,
				)
			}
		}
	}
	return result, nil
}

// resolve must run with e.mu held.
func (e *engine) resolve(p *pending, n Notification) {
	p.timer.Stop()
	delete(e.pending, p.correlationID)
	delete(e.byEntity, entityKey(p.resource, p.entityID))
	e.inflight.WithLabelValues().Set(float64(len(e.pending)))
	e.outcomes.WithLabelValues(string(n.Kind)).Inc()
	e.notify(n)
}

func (e *engine) expire(corrID string) {
	ctx := context.Background()

	e.mu.Lock()
	p, ok := e.pending[corrID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, corrID)
	delete(e.byEntity, entityKey(p.resource, p.entityID))
	e.inflight.WithLabelValues().Set(float64(len(e.pending)))
	e.outcomes.WithLabelValues(string(KindTimeout)).Inc()
	e.mu.Unlock()

	rolledBack := e.store.Rollback(p.resource, p.entityID, corrID)
	log.Warnw(ctx, "optimistic mutation timed out",
		"correlation_id", corrID,
		"resource", p.resource,
		"entity_id", p.entityID,
		"rolled_back", rolledBack,
		"waited_ms", time.Since(p.submittedAt).Milliseconds(),
	)

	e.mu.Lock()
	e.notify(Notification{
		Kind:          KindTimeout,
		CorrelationID: corrID,
		Resource:      p.resource,
		EntityID:      p.entityID,
		Local:         p.local,
		At:            time.Now(),
	})
	e.mu.Unlock()
}

// notify must run with e.mu held; it never blocks the event path.
func (e *engine) notify(n Notification) {
	if e.closed {
		return
	}
	select {
	case e.notices <- n:
	default:
		e.dropped.WithLabelValues().Inc()
		log.Warnw(context.Background(), "notification buffer full, dropping",
			"kind", n.Kind,
			"correlation_id", n.CorrelationID,
		)
	}
}

func (e *engine) decodeForNotice(ctx context.Context, ev *models.ChangeEvent) models.Entity {
	ent, err := ev.DecodeRecord()
	if err != nil {
		log.Warnw(ctx, "decode for notification failed", "event_id", ev.EventID, "error", err)
		return nil
	}
	return ent
}

func (e *engine) Notifications() <-chan Notification {
	return e.notices
}

func (e *engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, p := range e.pending {
		p.timer.Stop()
	}
	e.pending = make(map[string]*pending)
	e.byEntity = make(map[string]string)
	e.closed = true
	close(e.notices)
}
