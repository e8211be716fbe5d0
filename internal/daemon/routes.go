package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adcondev/printer-daemon/internal/config"
	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/server"
	"github.com/adcondev/printer-daemon/internal/status"
)

// HealthSource is what the health endpoint reports on.
type HealthSource interface {
	PrinterSummary(ctx context.Context) printer.Summary
	CacheStats() status.Stats
	Stats() orchestrator.Stats
}

// healthHandler reports printers, caches and job counters. The service is
// degraded when no physical printer is detected.
func healthHandler(src HealthSource, clients func() []server.ClientInfo, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:       "ok",
			Printers:     src.PrinterSummary(r.Context()),
			Cache:        src.CacheStats(),
			Orchestrator: src.Stats(),
			ClientList:   clients(),
			Log: LogInfo{
				Verbose:   logging.Verbose(),
				SizeBytes: logging.FileSize(),
			},
			Build: BuildInfo{
				Env:  config.BuildEnvironment,
				Date: config.BuildDate,
				Time: config.BuildTime,
			},
			Uptime: int(time.Since(started).Seconds()),
		}

		response.Clients = len(response.ClientList)
		if response.Printers.Status == "error" {
			response.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_ = json.NewEncoder(w).Encode(response)
	}
}

// NewRouter mounts the WebSocket, health and metrics endpoints. Forwarded
// client addresses are honored only when trustProxy is set.
func NewRouter(ws http.HandlerFunc, health http.HandlerFunc, trustProxy bool) http.Handler {
	r := chi.NewRouter()
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/ws", ws) // token is validated per message
	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
