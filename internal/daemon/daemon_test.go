package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/printer-daemon/internal/config"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/server"
	"github.com/adcondev/printer-daemon/internal/status"
)

type fakeHealth struct {
	summary printer.Summary
}

func (f fakeHealth) PrinterSummary(context.Context) printer.Summary { return f.summary }

func (f fakeHealth) CacheStats() status.Stats { return status.Stats{StatusEntries: 1} }

func (f fakeHealth) Stats() orchestrator.Stats { return orchestrator.Stats{Printed: 4} }

func noClients() []server.ClientInfo { return nil }

func getHealth(t *testing.T, h http.Handler) HealthResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealthHandler(t *testing.T) {
	ok := fakeHealth{summary: printer.Summary{Status: "ok", DetectedCount: 2, DefaultName: "EPSON"}}
	connected := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	clients := func() []server.ClientInfo {
		return []server.ClientInfo{
			{Addr: "192.168.1.5:5001", ConnectedAt: connected},
			{Addr: "192.168.1.6:5002", ConnectedAt: connected},
			{Addr: "192.168.1.7:5003", ConnectedAt: connected},
		}
	}
	router := NewRouter(http.NotFound, healthHandler(ok, clients, time.Now().Add(-time.Minute)), false)

	resp := getHealth(t, router)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Printers.DetectedCount)
	assert.Equal(t, 1, resp.Cache.StatusEntries)
	assert.Equal(t, int64(4), resp.Orchestrator.Printed)
	assert.Equal(t, 3, resp.Clients)
	require.Len(t, resp.ClientList, 3)
	assert.Equal(t, "192.168.1.5:5001", resp.ClientList[0].Addr)
	assert.True(t, connected.Equal(resp.ClientList[0].ConnectedAt))
	assert.GreaterOrEqual(t, resp.Uptime, 59)
	assert.Equal(t, config.BuildEnvironment, resp.Build.Env)

	degraded := fakeHealth{summary: printer.Summary{Status: "error"}}
	router = NewRouter(http.NotFound, healthHandler(degraded, noClients, time.Now()), false)
	assert.Equal(t, "degraded", getHealth(t, router).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(http.NotFound, healthHandler(fakeHealth{}, noClients, time.Now()), false)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouterForwardedHeaders(t *testing.T) {
	echo := func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(r.RemoteAddr)) }
	health := healthHandler(fakeHealth{}, noClients, time.Now())

	tests := []struct {
		name       string
		trustProxy bool
		want       string
	}{
		{"direct", false, "192.168.1.20:40000"},
		{"behind proxy", true, "10.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.RemoteAddr = "192.168.1.20:40000"
			req.Header.Set("X-Forwarded-For", "10.9.9.9")
			rec := httptest.NewRecorder()
			NewRouter(echo, health, tt.trustProxy).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestStatusConfig(t *testing.T) {
	p := config.DefaultCachePolicy()
	cfg := StatusConfig(p)
	assert.Equal(t, p.StatusTTL, cfg.StatusTTL)
	assert.Equal(t, p.ErrorTTLReduction, cfg.ErrorTTLReduction)
	assert.Equal(t, p.FastPathTTL, cfg.FastPathTTL)
	assert.Equal(t, p.DefaultPrinterTTL, cfg.DefaultPrinterTTL)
	assert.Equal(t, p.QueryTimeout, cfg.QueryTimeout)
}

// cupsRunner answers lpstat/lp like a host with one idle printer.
type cupsRunner struct{}

func (cupsRunner) Run(_ context.Context, _ []byte, name string, args ...string) ([]byte, error) {
	if name == "lpstat" && len(args) > 0 {
		switch args[0] {
		case "-e":
			return []byte("EPSON_TM\n"), nil
		case "-d":
			return []byte("system default destination: EPSON_TM\n"), nil
		case "-p":
			return []byte("printer EPSON_TM is idle.  enabled since Mon"), nil
		}
	}
	return nil, nil
}

func TestProgramLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake runner speaks the CUPS dialect")
	}

	env := config.GetEnvironment("local")
	env.ListenAddr = "127.0.0.1:0"
	env.ServiceName = "PrinterDaemonTest"
	dir := t.TempDir()

	p := New(env, dir)
	p.runner = cupsRunner{}
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.Start())

	resp, err := http.Get("http://" + p.Addr() + "/health")
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()

	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Printers.DetectedCount)
	assert.Equal(t, "EPSON_TM", health.Printers.DefaultName)

	require.NoError(t, p.Stop())
	assert.FileExists(t, filepath.Join(dir, "PrinterDaemonTest", "settings.db"))
}
