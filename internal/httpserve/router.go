// Package httpserve assembles the echo server: middleware chain, the
// /v2/ dispatcher, and the health and metrics endpoints.
package httpserve

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/wharf/internal/httpserve/handlers"
	"github.com/bnema/wharf/internal/httpserve/middleware"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/pkg/logger"
)

// NewEcho builds the configured echo instance.
func NewEcho(a *server.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = errorHandler
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(apiVersionHeader)
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Metrics())
	e.Use(middleware.Principal(a))
	e.Use(middleware.RateLimit(a))

	e.GET("/healthz", func(c echo.Context) error {
		c.Set("route", "health")
		return handlers.GetHealth(c, a)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dispatch := handlers.Dispatch(a)
	e.Any("/v2", dispatch)
	e.Any("/v2/", dispatch)
	e.Any("/v2/*", dispatch)

	return e
}

// apiVersionHeader marks every /v2/ response; clients check for it.
func apiVersionHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.HasPrefix(c.Request().URL.Path, "/v2") {
			c.Response().Header().Set("Docker-Distribution-API-Version", "registry/2.0")
		}
		return next(c)
	}
}

// errorHandler renders uncaught errors in the registry envelope so no
// internal error text reaches clients.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusNotFound:
			_ = handlers.SendError(c, http.StatusNotFound, handlers.CodeUnsupported, "route not found")
			return
		case http.StatusMethodNotAllowed:
			_ = handlers.SendError(c, http.StatusMethodNotAllowed, handlers.CodeUnsupported, "method not allowed")
			return
		}
	}
	logger.Error("Unhandled request error", "error", err, "path", c.Request().URL.Path)
	_ = handlers.SendError(c, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
}

// Start runs the HTTP listener and the upload-session janitor until ctx
// is canceled, then shuts down gracefully.
func Start(ctx context.Context, a *server.App) error {
	e := NewEcho(a)
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Registry listening", "addr", a.Config.Server.Addr)
		if err := e.Start(a.Config.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.Uploads.StartJanitor(ctx, time.Hour)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Registry shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
