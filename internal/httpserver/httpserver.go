// Package httpserver exposes the pipeline's operational surface: liveness,
// Prometheus metrics, and the live event-stream websocket, grounded on the
// teacher's internal/httpcontroller.Server (an Echo instance plus a thin
// New/Start/Shutdown wrapper), scaled down to this system's much smaller
// route set.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kawaz/voice-agent/internal/logging"
)

// Server wraps Echo the way the teacher's Server does, minus everything
// related to the dashboard UI this system doesn't have.
type Server struct {
	Echo   *echo.Echo
	logger *logging.Logger
}

// WebsocketHandler is satisfied by pipeline.WebsocketEmitter.Handler, kept
// as a plain http.HandlerFunc here so httpserver never imports the
// pipeline package.
type WebsocketHandler func(w http.ResponseWriter, r *http.Request)

// New builds the server and registers /healthz, /metrics, and (if wsHandler
// is non-nil) /events.
func New(wsHandler WebsocketHandler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{Echo: e, logger: logging.ForService("httpserver")}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if wsHandler != nil {
		e.GET("/events", echo.WrapHandler(http.HandlerFunc(wsHandler)))
	}

	return s
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins serving in the background, reporting any listen error on
// errCh (non-blocking send, mirroring the Scheduler's error reporting).
func (s *Server) Start(addr string, errCh chan<- error) {
	go func() {
		if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
}

// Shutdown gracefully stops the server, bounded by a 5s timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.Echo.Shutdown(ctx)
}
