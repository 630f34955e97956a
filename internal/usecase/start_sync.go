package usecase

import (
	"context"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"go.uber.org/fx"
)

// StartSync hooks the sync pipeline into the application lifecycle.
func StartSync(lc fx.Lifecycle, uc SyncUsecase) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return uc.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			log.Infow(ctx, "Sync pipeline stopping")
			return uc.Stop(ctx)
		},
	})
}
