// Package healthsrv exposes the health and metrics HTTP surface named by
// CHATTY_METRICS_BIND/CHATTY_HEALTH_BIND in spec.md §6, built on
// echo/v4 the same way the teacher's REST API server is
// (_examples/rustyguts-bken/server/api.go).
package healthsrv

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Snapshot is a point-in-time status report for /metrics.
type Snapshot struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	AdapterCount       int     `json:"adapter_count"`
	ReplayBackend      string  `json:"replay_backend"`
	ConnectedClients   int     `json:"connected_clients"`
	IngestDropped      uint64  `json:"ingest_dropped"`
	AuditFailureCount  uint64  `json:"audit_failure_count"`
}

// SnapshotFunc produces a fresh Snapshot on each /metrics request.
type SnapshotFunc func() Snapshot

// New builds the echo instance serving /healthz and /metrics.
func New(snapshot SnapshotFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", func(c echo.Context) error {
		return c.JSON(http.StatusOK, snapshot())
	})
	return e
}

// Run starts e on addr and blocks until ctx is cancelled, then shuts
// down gracefully, mirroring the teacher's server.go Start/Shutdown pair.
func Run(ctx context.Context, addr string, e *echo.Echo) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("healthsrv: graceful shutdown failed", "addr", addr, "err", err)
		return err
	}
	return nil
}
