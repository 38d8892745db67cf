package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/turnkeeper/internal/orchestrator"
	"github.com/mohammad-safakhou/turnkeeper/internal/telemetry"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

// Orchestrator is what the API needs from the driver.
type Orchestrator interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	History(ctx context.Context) ([]turn.Turn, error)
}

type Deps struct {
	Orch    Orchestrator
	Metrics *telemetry.Metrics // nil disables /metrics
	Logger  zerolog.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	logger := d.Logger.With().Str("component", "http").Logger()
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, msg := statusFor(err)
		req := c.Request()
		ev := logger.Warn()
		if code >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).Int("status", code).Str("method", req.Method).Str("path", req.URL.Path).Str("remote", c.RealIP()).Msg("request error")
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	h := &QueryHandler{Orch: d.Orch, Logger: logger}
	h.Register(e.Group("/api"))
	return e
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, msg
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, orchestrator.ErrNoPriorContent):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

// Run serves e on addr until ctx is cancelled.
func Run(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
