// Package app contains the web front-end.
package app

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/stolasapp/framecast/internal/app/component"
	"github.com/stolasapp/framecast/internal/config"
	"github.com/stolasapp/framecast/internal/sec"
	"github.com/stolasapp/framecast/internal/storage"
	"github.com/stolasapp/framecast/internal/stream"
)

// New creates a web front-end server. store may be nil when the gate does not
// require authentication.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	gate *sec.Gate,
	streamer *stream.Streamer,
	store storage.Store,
) *echo.Echo {
	srv := echo.New()

	srv.HideBanner = true
	srv.HidePort = true
	srv.Logger.SetLevel(log.OFF)

	if cfg.DevMode {
		srv.Debug = true
		srv.Use(logRequests(logger))
	}

	// No compression: multipart frames must reach the client as they are
	// flushed.
	srv.Use(
		middleware.Recover(),
		middleware.Secure(),
		middleware.RequestID(),
	)

	handler{
		logger:   logger,
		gate:     gate,
		streamer: streamer,
		store:    store,
	}.register(srv)
	return srv
}

func (h handler) register(e *echo.Echo) {
	gated := e.Group("", h.gate.Middleware())
	gated.GET(component.PathIndex, h.index)
	gated.GET(component.PathStream, h.stream)
	gated.GET(component.PathGuest, h.guest)

	account := e.Group(component.PathChangePassword,
		middleware.CSRFWithConfig(middleware.CSRFConfig{
			TokenLookup: "form:" + component.FieldCSRF,
		}),
	)
	account.GET("", h.changePasswordForm)
	account.POST("", h.changePassword)
}

func logRequests(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("uri", req.RequestURI),
				slog.String("route", c.Path()),
				slog.Duration("latency", latency),
				slog.Int("status", res.Status),
			}
			if user := sec.GetAuthenticatedUser(req.Context()); user != "" {
				attrs = append(attrs, slog.String("user", user))
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			logger.LogAttrs(
				req.Context(),
				slog.LevelDebug,
				"request handled",
				attrs...,
			)
			return err
		}
	}
}
