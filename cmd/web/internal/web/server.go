package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"splicework.tv/mediasync/cmd/web/handlers/api/stream_api"
	"splicework.tv/mediasync/internal/assetsync"
	"splicework.tv/mediasync/internal/config"
	"splicework.tv/mediasync/internal/db"
	"splicework.tv/mediasync/internal/streaming"
)

type Webserver struct {
	*echo.Echo
	dbc        *db.DatabaseConnection
	pipeline   *assetsync.Pipeline
	reconciler *assetsync.Reconciler
}

// NewWebserver wires the subsystem's HTTP surface: webhook sink, sync
// trigger, registration and status endpoints.
func NewWebserver(
	ctx context.Context,
	conf config.Config,
	dbc *db.DatabaseConnection,
	catalog assetsync.Catalog,
	store assetsync.ObjectStore,
	pipeline *assetsync.Pipeline,
	reconciler *assetsync.Reconciler,
	verifier *streaming.Verifier,
) (*Webserver, error) {
	e := echo.New()

	webserver := &Webserver{
		Echo:       e,
		dbc:        dbc,
		pipeline:   pipeline,
		reconciler: reconciler,
	}

	webserver.setupMiddleware()

	e.GET("/healthz", webserver.handleHealthz)
	e.POST("/api/stream/webhook", stream_api.HandleStreamWebhook(verifier, pipeline))
	e.POST("/api/sync", stream_api.HandleSyncTrigger(reconciler))
	e.POST("/api/videos", stream_api.HandleRegisterVideo(pipeline))
	e.POST("/api/videos/:id/upload-complete", stream_api.HandleUploadComplete(pipeline))
	e.GET("/api/videos/:id/status", stream_api.HandleVideoStatus(catalog, store, conf.SignedURLTTL()))

	return webserver, nil
}

func (s *Webserver) setupMiddleware() {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("1M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				slog.Error("request", attrs...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
}

func (s *Webserver) handleHealthz(c echo.Context) error {
	if err := s.dbc.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "error": "database unreachable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
