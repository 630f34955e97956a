package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	pkgmdw "github.com/nguyentranbao-ct/chat-sync/internal/server/middleware"
	"go.uber.org/fx"
)

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	handler Controller,
) {
	e := echo.New()
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = pkgmdw.ErrorHandler(logger.MustNamed("http"))

	logConfig := pkgmdw.LogRequestConfig{
		Logger: logger.MustNamed("http"),
		Enabled: func(c echo.Context) bool {
			uri := c.Request().RequestURI
			return uri != "/health" && uri != "/metrics"
		},
		KeyAndValues: func(c echo.Context) []any {
			args := make([]any, 0, 4)
			if c.Get("project_id") != nil {
				args = append(args, "project_id", c.Get("project_id"))
			}
			if c.Get("correlation_id") != nil {
				args = append(args, "correlation_id", c.Get("correlation_id"))
			}
			return args
		},
	}

	pkgmdw.AutoVersioning(e)
	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.LogRequest(logConfig))
	if conf.Server.CORSOrigins != "" {
		e.Use(pkgmdw.CORS(regexp.MustCompile(conf.Server.CORSOrigins)))
	}
	if conf.Server.StatsdAddr != "" {
		e.Use(pkgmdw.ProfilerWithConfig(pkgmdw.ProfilerConfig{
			Address: conf.Server.StatsdAddr,
			Service: "chat-sync",
		}))
	}
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return nil
		},
	}))
	pkgmdw.PprofWrap(e)

	e.GET("/health", handler.Health)

	api := e.Group("/api/v1")
	api.GET("/entities/:resource", handler.ListEntities)
	api.GET("/entities/:resource/:id", handler.GetEntity)
	api.GET("/projects/:project_id/threads", handler.ListThreads)
	api.GET("/projects/:project_id/pinned", handler.ListPinned)
	api.POST("/mutations", pkgmdw.WrapHandler(handler.SubmitMutation))
	api.GET("/status", handler.Status)

	addr := net.JoinHostPort(conf.Server.Host, conf.Server.Port)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow(ctx, "starting HTTP server", "addr", addr)
				if err := e.Start(addr); !errors.Is(err, http.ErrServerClosed) {
					sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
