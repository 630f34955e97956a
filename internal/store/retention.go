package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
)

// Sweeper purges expired tombstones on a cron schedule.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SweepHook runs after each store sweep with the same cutoff, used to
// purge downstream copies such as the database mirror.
type SweepHook func(ctx context.Context, olderThan time.Time)

type retentionSweeper struct {
	conf   config.RetentionConfig
	store  Store
	hooks  []SweepHook
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRetentionSweeper(conf *config.Config, st Store, hooks ...SweepHook) (Sweeper, error) {
	if !conf.Retention.Enabled {
		return &noopSweeper{}, nil
	}
	if !gronx.IsValid(conf.Retention.SweepCron) {
		return nil, fmt.Errorf("invalid retention cron %q", conf.Retention.SweepCron)
	}
	return &retentionSweeper{
		conf:  conf.Retention,
		store: st,
		hooks: hooks,
		done:  make(chan struct{}),
	}, nil
}

func (s *retentionSweeper) Start(ctx context.Context) error {
	log.Infow(ctx, "starting tombstone retention sweeper",
		"cron", s.conf.SweepCron,
		"ttl", s.conf.TombstoneTTL.String(),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(runCtx)
	return nil
}

func (s *retentionSweeper) Stop(ctx context.Context) error {
	log.Infow(ctx, "stopping tombstone retention sweeper")
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}

func (s *retentionSweeper) run(ctx context.Context) {
	defer close(s.done)

	for {
		next, err := gronx.NextTickAfter(s.conf.SweepCron, time.Now(), false)
		if err != nil {
			log.Errorw(ctx, "retention next tick failed", "cron", s.conf.SweepCron, "error", err)
			next = time.Now().Add(time.Minute)
		}

		t := time.NewTimer(time.Until(next))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}

		cutoff := time.Now().Add(-s.conf.TombstoneTTL)
		purged := s.store.PurgeTombstones(cutoff)
		if purged > 0 {
			log.Infow(ctx, "purged expired tombstones", "count", purged, "cutoff", cutoff)
		}
		for _, hook := range s.hooks {
			hook(ctx, cutoff)
		}
	}
}

type noopSweeper struct{}

func (noopSweeper) Start(ctx context.Context) error {
	log.Infow(ctx, "tombstone retention sweeper is disabled")
	return nil
}

func (noopSweeper) Stop(context.Context) error { return nil }
