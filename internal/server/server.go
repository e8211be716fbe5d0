// Package server maneja las conexiones WebSocket y enruta los mensajes hacia
// el orquestador de impresión.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/settings"
	"github.com/adcondev/printer-daemon/internal/status"
)

const writeTimeout = 5 * time.Second

// Orchestrator is the print surface the server drives.
type Orchestrator interface {
	Print(ctx context.Context, payload printer.Payload, skipStatusCheck bool) error
	QuickPrint(ctx context.Context, payload printer.Payload) error
	TestPrint(ctx context.Context) (string, error)
	PrinterStatus(ctx context.Context, name string) (printer.StatusResult, bool)
	RefreshPrinterStatus(ctx context.Context, name string) (printer.StatusResult, bool)
	ListPrinters(ctx context.Context) []printer.DetailDTO
	PrinterSummary(ctx context.Context) printer.Summary
	Settings(ctx context.Context) settings.PrinterSettings
	SaveSettings(ctx context.Context, p settings.Partial) (settings.PrinterSettings, error)
	ResetSettings(ctx context.Context) error
	InvalidateCaches()
	CacheStats() status.Stats
	Stats() orchestrator.Stats
}

// Authorizer checks the admin password for a client.
type Authorizer interface {
	Authorize(client, password string) error
}

// Config holds server configuration
type Config struct {
	// AllowedOrigins are coder/websocket origin patterns. Empty enforces
	// same-origin.
	AllowedOrigins []string
	// AuthToken, when set, must accompany every message.
	AuthToken string
	// PrintRateLimit is the per-client print budget per minute.
	PrintRateLimit int
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo     string          `json:"tipo"`
	ID       string          `json:"id,omitempty"`
	Token    string          `json:"token,omitempty"`
	Password string          `json:"password,omitempty"`
	Datos    json.RawMessage `json:"datos,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo    string `json:"tipo"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server manages WebSocket connections
type Server struct {
	cfg     Config
	clients *ClientRegistry
	limiter *JobRateLimiter
	orch    Orchestrator
	admin   Authorizer

	// jobs outlive the connection that submitted them
	jobCtx    context.Context
	cancelJob context.CancelFunc
	jobs      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(cfg Config, orch Orchestrator, admin Authorizer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:          cfg,
		clients:      NewClientRegistry(),
		limiter:      NewJobRateLimiter(cfg.PrintRateLimit),
		orch:         orch,
		admin:        admin,
		jobCtx:       ctx,
		cancelJob:    cancel,
		shutdownChan: make(chan struct{}),
	}
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		logging.Logger.Warn("[WS] error accepting client", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := clientKey(r)
	s.clients.Add(conn, r.RemoteAddr)
	logging.Logger.Info("[WS] client connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("total", s.clients.Count()))

	ctx := r.Context()
	s.write(ctx, conn, Response{
		Tipo:    "info",
		Success: true,
		Data:    map[string]string{"status": "connected", "message": "Printer daemon ready"},
	})

	s.handleMessages(ctx, conn, client)

	s.clients.Remove(conn)
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
	logging.Logger.Info("[WS] client disconnected", zap.Int("remaining", s.clients.Count()))
}

// clientKey identifies a client for rate limiting and admin lockout. The
// port is dropped so a reconnect keeps the same key.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Clients lists the connected clients.
func (s *Server) Clients() []ClientInfo {
	return s.clients.List()
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, client string) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			// Normal closure or context cancelled
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return
			}
			logging.Logger.Warn("[WS] error reading message", zap.Error(err))
			return
		}

		s.routeMessage(ctx, conn, client, &msg)
	}
}

func (s *Server) tokenValid(token string) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, resp Response) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, resp); err != nil {
		logging.Logger.Debug("[WS] write failed", zap.String("tipo", resp.Tipo), zap.Error(err))
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, msg *Message, data any) {
	s.write(ctx, conn, Response{Tipo: msg.Tipo, ID: msg.ID, Success: true, Data: data})
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, msg *Message, text string) {
	s.write(ctx, conn, Response{Tipo: msg.Tipo, ID: msg.ID, Success: false, Error: text})
}

// Shutdown disconnects clients and waits up to ctx for in-flight print jobs.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		logging.Logger.Info("[WS] shutting down", zap.Int("clients", s.clients.Count()))
		s.clients.ForEach(func(conn *websocket.Conn) {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		})

		done := make(chan struct{})
		go func() {
			s.jobs.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logging.Logger.Warn("[WS] shutdown timed out waiting for print jobs")
			s.cancelJob()
		}
		s.cancelJob()
	})
}
