// Package daemon wires the print stack into an HTTP/WebSocket service that
// runs under go-svc.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/judwhite/go-svc"
	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/auth"
	"github.com/adcondev/printer-daemon/internal/config"
	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/platform"
	"github.com/adcondev/printer-daemon/internal/server"
	"github.com/adcondev/printer-daemon/internal/settings"
)

const shutdownTimeout = 10 * time.Second

// Program implements svc.Service interface
type Program struct {
	env     config.Environment
	dataDir string
	runner  platform.Runner

	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	listener   net.Listener
	httpServer *http.Server
	wsServer   *server.Server
	authMgr    *auth.Manager
	store      *settings.SQLiteStore
	orch       *orchestrator.Orchestrator
	startTime  time.Time
}

// New creates a program for env. dataDir holds the log file and the
// settings database; empty uses DataDir().
func New(env config.Environment, dataDir string) *Program {
	if dataDir == "" {
		dataDir = DataDir()
	}
	return &Program{env: env, dataDir: dataDir}
}

// Init initializes the service
func (p *Program) Init(_ svc.Environment) error {
	logPath := p.env.LogPath(p.dataDir)
	if err := logging.InitLogger(logPath, p.env.Verbose); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	logging.Logger.Info("[INIT] starting printer daemon",
		zap.String("environment", p.env.Name),
		zap.String("build_date", config.BuildDate),
		zap.String("build_time", config.BuildTime),
		zap.String("log_file", logPath))
	return nil
}

// Start starts the service
func (p *Program) Start() error {
	p.startTime = time.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())

	dbPath := p.env.SettingsDBPath(p.dataDir)
	store, err := settings.OpenSQLiteStore(dbPath)
	if err != nil {
		p.cancel()
		return fmt.Errorf("opening settings store: %w", err)
	}
	p.store = store
	logging.Logger.Info("[INIT] settings store ready", zap.String("path", dbPath))

	p.orch = NewOrchestrator(p.env, store, p.runner)
	p.authMgr = auth.NewManager(p.ctx, p.env.AdminPasswordHash)

	p.wsServer = server.NewServer(server.Config{
		AllowedOrigins: p.env.AllowedOrigins,
		AuthToken:      p.env.AuthToken,
		PrintRateLimit: p.env.PrintRateLimit,
	}, p.orch, p.authMgr)

	handler := NewRouter(
		p.wsServer.HandleWebSocket,
		healthHandler(p.orch, p.wsServer.Clients, p.startTime),
		p.env.TrustProxy,
	)

	p.httpServer = &http.Server{
		Addr:         p.env.ListenAddr,
		Handler:      handler,
		ReadTimeout:  p.env.ReadTimeout,
		WriteTimeout: p.env.WriteTimeout,
		IdleTimeout:  p.env.IdleTimeout,
	}

	ln, err := net.Listen("tcp", p.env.ListenAddr)
	if err != nil {
		p.cancel()
		_ = store.Close()
		return fmt.Errorf("listening on %s: %w", p.env.ListenAddr, err)
	}
	p.listener = ln

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logging.Logger.Info("[HTTP] printer daemon ready",
			zap.String("environment", p.env.Name),
			zap.String("websocket", "ws://"+ln.Addr().String()+"/ws"),
			zap.String("health", "http://"+ln.Addr().String()+"/health"),
			zap.Bool("admin_enabled", p.authMgr.Enabled()),
			zap.Bool("token_required", p.env.AuthToken != ""),
			zap.Bool("trust_proxy", p.env.TrustProxy))

		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Error("[HTTP] server error", zap.Error(err))
		}
	}()

	// Warm the discovery cache off the start path.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.orch.LogStartupDiagnostics(p.ctx)
	}()

	return nil
}

// Addr returns the bound listen address, useful when ListenAddr uses port 0.
func (p *Program) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop stops the service gracefully
func (p *Program) Stop() error {
	logging.Logger.Info("[STOP] service shutting down")

	if p.cancel != nil {
		p.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			logging.Logger.Warn("[STOP] HTTP shutdown error", zap.Error(err))
		}
	}

	// Waits for in-flight print jobs.
	if p.wsServer != nil {
		p.wsServer.Shutdown(ctx)
	}

	p.wg.Wait()

	if p.store != nil {
		if err := p.store.Close(); err != nil {
			logging.Logger.Warn("[STOP] closing settings store", zap.Error(err))
		}
	}

	logging.Logger.Info("[STOP] service stopped",
		zap.Duration("uptime", time.Since(p.startTime).Round(time.Second)))
	logging.Sync()
	return nil
}
