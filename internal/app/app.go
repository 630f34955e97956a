package app

import (
	"github.com/carousell/ct-go/pkg/logger"
	"github.com/nguyentranbao-ct/chat-sync/internal/aggregate"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/reconcile"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/socket"
	"github.com/nguyentranbao-ct/chat-sync/internal/server"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
	"github.com/nguyentranbao-ct/chat-sync/internal/usecase"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	conf := config.MustLoad()
	log.Debugw("config loaded", log.Reflect("config", conf))
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newMongoDB,
			newTransport,
			newCursorStore,
			newSnapshotSource,
			newMirror,
			newSweeper,

			server.NewHandler,

			usecase.NewSyncUsecase,

			store.New,
			reconcile.NewEngine,
			aggregate.NewAggregator,

			stream.NewClient,

			socket.NewClient,
			socket.NewBroadcaster,
		),
		fx.Supply(conf),
		fx.Invoke(StartRetention),
		fx.Invoke(funcs...),
	)
}

// StartRetention runs the tombstone sweeper across the app lifecycle.
func StartRetention(lc fx.Lifecycle, sweeper store.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: sweeper.Start,
		OnStop:  sweeper.Stop,
	})
}
