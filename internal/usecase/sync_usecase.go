package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/reconcile"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/snapshot"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/socket"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
	"github.com/nguyentranbao-ct/chat-sync/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type syncUsecase struct {
	conf    *config.Config
	sd      fx.Shutdowner
	client  stream.Client
	store   store.Store
	engine  reconcile.Engine
	source  snapshot.Source
	mirror  mongodb.Mirror
	caster  socket.Broadcaster
	limiter *rate.Limiter

	consumed *prometheus.HistogramVec
	applies  *prometheus.CounterVec

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	drainDone chan struct{}

	mu       sync.Mutex
	subs     map[string]*stream.Subscription
	channels map[string]*channelState
}

type channelState struct {
	resource models.ResourceType
	lastSeq  uint64
	events   uint64
	resyncs  uint64
}

func NewSyncUsecase(
	sd fx.Shutdowner,
	conf *config.Config,
	client stream.Client,
	st store.Store,
	engine reconcile.Engine,
	source snapshot.Source,
	mirror mongodb.Mirror,
	caster socket.Broadcaster,
) (SyncUsecase, error) {
	consumed, err := util.GetHistogramVec("sync_events_consumed", "code", "channel")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	applies, err := util.GetCounterVec("sync_store_applies", "resource", "result")
	if err != nil {
		return nil, fmt.Errorf("get counter vec: %w", err)
	}

	burst := conf.Snapshot.Burst
	if burst < 1 {
		burst = 1
	}

	return &syncUsecase{
		conf:      conf,
		sd:        sd,
		client:    client,
		store:     st,
		engine:    engine,
		source:    source,
		mirror:    mirror,
		caster:    caster,
		limiter:   rate.NewLimiter(rate.Every(conf.Snapshot.MinInterval), burst),
		consumed:  consumed,
		applies:   applies,
		drainDone: make(chan struct{}),
		subs:      make(map[string]*stream.Subscription),
		channels:  make(map[string]*channelState),
	}, nil
}

// Start opens one subscription per configured resource and spawns the
// consume loops. The pipeline keeps running until Stop or a fatal
// subscription error, which shuts the whole application down.
func (uc *syncUsecase) Start(ctx context.Context) error {
	uc.ctx, uc.cancel = context.WithCancel(context.Background())

	plans, err := uc.channelPlans()
	if err != nil {
		uc.cancel()
		return err
	}

	if uc.conf.Snapshot.WarmStart {
		uc.warmStart(ctx, plans)
	}

	for _, plan := range plans {
		sub, err := uc.client.Subscribe(uc.ctx, plan.resource, plan.filter)
		if err != nil {
			uc.cancel()
			return fmt.Errorf("subscribe %s: %w", plan.resource, err)
		}

		uc.mu.Lock()
		uc.subs[sub.Channel()] = sub
		uc.channels[sub.Channel()] = &channelState{resource: plan.resource}
		uc.mu.Unlock()

		uc.wg.Add(1)
		go uc.consume(sub)
	}

	go uc.drainNotifications()

	log.Infow(ctx, "Sync pipeline started", "channels", len(plans))
	return nil
}

type channelPlan struct {
	resource models.ResourceType
	filter   stream.Filter
}

func (uc *syncUsecase) channelPlans() ([]channelPlan, error) {
	plans := make([]channelPlan, 0, len(uc.conf.Stream.Resources))
	for _, name := range uc.conf.Stream.Resources {
		resource, err := models.ParseResourceType(name)
		if err != nil {
			return nil, fmt.Errorf("stream resources: %w", err)
		}

		filter := stream.Filter{}
		if resource == models.ResourceMessages && uc.conf.Stream.MessageProjectID != "" {
			filter = stream.Filter{Field: "project_id", Value: uc.conf.Stream.MessageProjectID}
		}
		plans = append(plans, channelPlan{resource: resource, filter: filter})
	}
	return plans, nil
}

// warmStart hydrates the store from the snapshot source before any
// subscription opens, so reads are served immediately after a restart.
// Replayed stream events older than the snapshot settle as stale.
func (uc *syncUsecase) warmStart(ctx context.Context, plans []channelPlan) {
	g, gctx := errgroup.WithContext(ctx)
	for _, plan := range plans {
		g.Go(func() error {
			res, err := uc.source.Fetch(gctx, plan.resource, plan.filter)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", plan.resource, err)
			}
			installed := uc.store.ReplaceWhere(plan.resource, scopeMatcher(plan.filter), res.Entities)
			log.Infow(gctx, "Warm start installed snapshot",
				"resource", plan.resource,
				"entities", installed,
				"as_of_seq", res.AsOfSeq,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, snapshot.ErrDisabled) {
			return
		}
		log.Warnw(ctx, "Warm start incomplete, relying on stream convergence", "error", err)
	}
}

func (uc *syncUsecase) Stop(ctx context.Context) error {
	if uc.cancel == nil {
		return nil
	}
	log.Infow(ctx, "Stopping sync pipeline")
	uc.cancel()

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop sync: %w", ctx.Err())
	}

	uc.engine.Close()
	select {
	case <-uc.drainDone:
	case <-ctx.Done():
	}

	uc.mirror.Close()
	return nil
}

func (uc *syncUsecase) Submit(ctx context.Context, mut *models.Mutation) (string, error) {
	correlationID, err := uc.engine.Submit(ctx, mut)
	if err != nil {
		return "", fmt.Errorf("submit mutation: %w", err)
	}
	return correlationID, nil
}

func (uc *syncUsecase) Status(ctx context.Context) *SyncStatus {
	syncStatus := &SyncStatus{
		PendingMutations: uc.engine.PendingCount(),
		Store:            uc.store.Stats(),
	}

	mirrorStats, err := uc.mirror.Stats(ctx)
	if err != nil {
		log.Warnw(ctx, "Failed to read mirror stats", "error", err)
	} else if len(mirrorStats) > 0 {
		syncStatus.Mirror = mirrorStats
	}

	uc.mu.Lock()
	for channel, state := range uc.channels {
		cs := ChannelStatus{
			Channel:  channel,
			Resource: state.resource,
			LastSeq:  state.lastSeq,
			Events:   state.events,
			Resyncs:  state.resyncs,
		}
		if sub := uc.subs[channel]; sub != nil {
			select {
			case <-sub.Done():
			default:
				cs.Active = true
			}
		}
		syncStatus.Channels = append(syncStatus.Channels, cs)
	}
	uc.mu.Unlock()

	sort.Slice(syncStatus.Channels, func(i, j int) bool {
		return syncStatus.Channels[i].Channel < syncStatus.Channels[j].Channel
	})
	return syncStatus
}

func (uc *syncUsecase) consume(sub *stream.Subscription) {
	defer uc.wg.Done()

	for d := range sub.Events() {
		uc.handleDelivery(sub, d)
	}

	if err := sub.Err(); err != nil {
		log.Errorw(uc.ctx, "Subscription terminated, shutting down",
			"channel", sub.Channel(),
			"error", err,
		)
		if err := uc.sd.Shutdown(); err != nil {
			log.Errorw(uc.ctx, "Failed to trigger shutdown", "error", err)
		}
	}
}

func (uc *syncUsecase) handleDelivery(sub *stream.Subscription, d stream.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			length := runtime.Stack(stack, false)
			log.Errorw(uc.ctx, "PANIC RECOVER",
				"channel", sub.Channel(),
				"panic", fmt.Sprintf("%+v", r),
				"stack", string(stack[:length]),
			)
		}
	}()

	if d.Resync != nil {
		uc.handleResync(sub, d.Resync)
		return
	}
	if d.Event != nil {
		uc.handleEvent(sub, d.Event)
	}
}

func (uc *syncUsecase) handleEvent(sub *stream.Subscription, ev *models.ChangeEvent) {
	start := time.Now()
	result, err := uc.engine.Observe(uc.ctx, ev)
	duration := time.Since(start)

	code := getCode(err)
	content := "success"
	if err != nil {
		content = err.Error()
	}

	level := getLogLevel(code)
	log.Logw(uc.ctx, level, content,
		"code", code,
		"duration_ms", duration.Milliseconds(),
		"channel", sub.Channel(),
		"seq", ev.Seq,
		"op", ev.Op,
		"result", result,
	)
	uc.consumed.WithLabelValues(code.String(), sub.Channel()).Observe(duration.Seconds())

	if err != nil {
		// at-least-once: a malformed event is logged and skipped, the
		// stream keeps going
		return
	}

	uc.applies.WithLabelValues(string(ev.Resource), string(result)).Inc()

	uc.mu.Lock()
	if state := uc.channels[sub.Channel()]; state != nil {
		state.events++
		if ev.Seq > state.lastSeq {
			state.lastSeq = ev.Seq
		}
	}
	uc.mu.Unlock()

	if result != store.Applied {
		return
	}
	uc.mirror.Record(uc.ctx, ev)
	uc.caster.PublishChange(uc.ctx, sub.Channel(), ev)
}

func (uc *syncUsecase) handleResync(sub *stream.Subscription, rs *stream.Resync) {
	uc.mu.Lock()
	if state := uc.channels[sub.Channel()]; state != nil {
		state.resyncs++
	}
	uc.mu.Unlock()

	log.Warnw(uc.ctx, "Resync required",
		"channel", rs.Channel,
		"reason", rs.Reason,
		"from_seq", rs.FromSeq,
		"to_seq", rs.ToSeq,
	)

	if err := uc.limiter.Wait(uc.ctx); err != nil {
		return
	}

	res, err := uc.source.Fetch(uc.ctx, sub.Resource(), sub.Filter())
	if errors.Is(err, snapshot.ErrDisabled) {
		log.Warnw(uc.ctx, "No snapshot source configured, syncing forward only", "channel", rs.Channel)
		return
	}
	if err != nil {
		log.Errorw(uc.ctx, "Snapshot fetch failed", "channel", rs.Channel, "error", err)
		return
	}

	installed := uc.store.ReplaceWhere(sub.Resource(), scopeMatcher(sub.Filter()), res.Entities)
	log.Infow(uc.ctx, "Rebuilt state from snapshot",
		"channel", rs.Channel,
		"entities", installed,
		"as_of_seq", res.AsOfSeq,
	)
}

func (uc *syncUsecase) drainNotifications() {
	defer close(uc.drainDone)

	for note := range uc.engine.Notifications() {
		level := logger.InfoLevel
		if note.Kind != reconcile.KindConfirmed {
			level = logger.WarnLevel
		}
		log.Logw(uc.ctx, level, "Mutation settled",
			"kind", note.Kind,
			"correlation_id", note.CorrelationID,
			"resource", note.Resource,
			"entity_id", note.EntityID,
		)
		uc.caster.PublishOutcome(uc.ctx, &note)
	}
}

// scopeMatcher selects the store rows owned by one subscription scope so a
// snapshot replace cannot clobber unrelated rows.
func scopeMatcher(filter stream.Filter) func(models.Entity) bool {
	if filter.IsZero() {
		return func(models.Entity) bool { return true }
	}
	return func(ent models.Entity) bool {
		switch e := ent.(type) {
		case *models.Team:
			if filter.Field == "owner_id" {
				return e.OwnerID == filter.Value
			}
		case *models.Project:
			if filter.Field == "team_id" {
				return e.TeamID == filter.Value
			}
		case *models.Message:
			switch filter.Field {
			case "project_id":
				return e.ProjectID == filter.Value
			case "thread_id":
				return e.ThreadID == filter.Value
			}
		}
		return false
	}
}

func getCode(err error) codes.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	st, ok := status.FromError(err)
	if !ok {
		return status.Code(errors.Unwrap(err))
	}
	return st.Code()
}

func getLogLevel(code codes.Code) logger.Level {
	switch code {
	case codes.OK:
		return logger.InfoLevel
	case codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.Unimplemented,
		codes.OutOfRange:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}
