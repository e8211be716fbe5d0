package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	printerrors "github.com/adcondev/printer-daemon/internal/orchestrator/errors"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/settings"
)

// Message types.
const (
	TipoPing            = "ping"
	TipoListPrinters    = "list_printers"
	TipoGetSettings     = "get_settings"
	TipoSaveSettings    = "save_settings"
	TipoResetSettings   = "reset_settings"
	TipoPrint           = "print"
	TipoQuickPrint      = "quick_print"
	TipoTestPrint       = "test_print"
	TipoPrinterStatus   = "printer_status"
	TipoCacheStats      = "cache_stats"
	TipoInvalidateCache = "invalidate_cache"
	TipoSetVerbose      = "set_verbose"

	// TipoSettingsChanged is pushed to the other clients after a save or reset.
	TipoSettingsChanged = "settings_changed"
)

// printRequest is the datos of print and quick_print.
type printRequest struct {
	Content string `json:"content" validate:"required"`
	// Base64 marks Content as base64 encoded raw bytes.
	Base64 bool   `json:"base64,omitempty"`
	Title  string `json:"title,omitempty" validate:"max=128"`
}

type verboseRequest struct {
	Verbose bool `json:"verbose"`
}

type statusRequest struct {
	Name    string `json:"name,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
}

var validate = validator.New()

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, conn *websocket.Conn, client string, msg *Message) {
	if !s.tokenValid(msg.Token) {
		logging.Logger.Warn("[WS] invalid token", zap.String("remote", client), zap.String("tipo", msg.Tipo))
		s.sendError(ctx, conn, msg, "UNAUTHORIZED: Invalid or missing token")
		return
	}

	switch msg.Tipo {
	case TipoPing:
		s.reply(ctx, conn, msg, "pong")
	case TipoListPrinters:
		s.reply(ctx, conn, msg, map[string]any{
			"printers": s.orch.ListPrinters(ctx),
			"summary":  s.orch.PrinterSummary(ctx),
		})
	case TipoGetSettings:
		s.reply(ctx, conn, msg, s.orch.Settings(ctx))
	case TipoSaveSettings:
		s.handleSaveSettings(ctx, conn, msg)
	case TipoResetSettings:
		s.handleResetSettings(ctx, conn, client, msg)
	case TipoPrint, TipoQuickPrint, TipoTestPrint:
		s.handlePrint(conn, client, msg)
	case TipoPrinterStatus:
		s.handlePrinterStatus(ctx, conn, msg)
	case TipoCacheStats:
		s.reply(ctx, conn, msg, map[string]any{
			"status":       s.orch.CacheStats(),
			"orchestrator": s.orch.Stats(),
		})
	case TipoInvalidateCache:
		if !s.authorize(ctx, conn, client, msg) {
			return
		}
		s.orch.InvalidateCaches()
		s.reply(ctx, conn, msg, nil)
	case TipoSetVerbose:
		if !s.authorize(ctx, conn, client, msg) {
			return
		}
		var req verboseRequest
		if err := json.Unmarshal(msg.Datos, &req); err != nil {
			s.sendError(ctx, conn, msg, "JSON: Invalid set_verbose structure")
			return
		}
		logging.SetVerbose(req.Verbose)
		logging.Logger.Info("[AUDIT] log verbosity changed",
			zap.String("remote", client), zap.Bool("verbose", req.Verbose))
		s.reply(ctx, conn, msg, map[string]bool{"verbose": logging.Verbose()})
	default:
		logging.Logger.Warn("[WS] unknown message type", zap.String("tipo", msg.Tipo))
		s.sendError(ctx, conn, msg, "Unknown message type: "+msg.Tipo)
	}
}

func (s *Server) authorize(ctx context.Context, conn *websocket.Conn, client string, msg *Message) bool {
	if s.admin == nil {
		s.sendError(ctx, conn, msg, "FORBIDDEN: Admin operations are disabled")
		return false
	}
	if err := s.admin.Authorize(client, msg.Password); err != nil {
		logging.Logger.Warn("[AUDIT] admin operation refused",
			zap.String("remote", client), zap.String("tipo", msg.Tipo), zap.Error(err))
		s.sendError(ctx, conn, msg, "FORBIDDEN: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleSaveSettings(ctx context.Context, conn *websocket.Conn, msg *Message) {
	var p settings.Partial
	if len(msg.Datos) == 0 {
		s.sendError(ctx, conn, msg, "Field 'datos' is required for type 'save_settings'")
		return
	}
	if err := json.Unmarshal(msg.Datos, &p); err != nil {
		s.sendError(ctx, conn, msg, "JSON: Invalid settings structure")
		return
	}
	saved, err := s.orch.SaveSettings(ctx, p)
	if err != nil {
		s.sendError(ctx, conn, msg, printerrors.UserMessage(err))
		return
	}
	s.reply(ctx, conn, msg, saved)
	s.clients.Broadcast(Response{Tipo: TipoSettingsChanged, Success: true, Data: saved}, conn, writeTimeout)
}

func (s *Server) handleResetSettings(ctx context.Context, conn *websocket.Conn, client string, msg *Message) {
	if !s.authorize(ctx, conn, client, msg) {
		return
	}
	if err := s.orch.ResetSettings(ctx); err != nil {
		s.sendError(ctx, conn, msg, printerrors.UserMessage(err))
		return
	}
	current := s.orch.Settings(ctx)
	s.reply(ctx, conn, msg, current)
	s.clients.Broadcast(Response{Tipo: TipoSettingsChanged, Success: true, Data: current}, conn, writeTimeout)
}

func (s *Server) handlePrinterStatus(ctx context.Context, conn *websocket.Conn, msg *Message) {
	var req statusRequest
	if len(msg.Datos) > 0 {
		if err := json.Unmarshal(msg.Datos, &req); err != nil {
			s.sendError(ctx, conn, msg, "JSON: Invalid status request")
			return
		}
	}

	lookup := s.orch.PrinterStatus
	if req.Refresh {
		lookup = s.orch.RefreshPrinterStatus
	}
	res, ok := lookup(ctx, req.Name)
	if !ok {
		s.sendError(ctx, conn, msg, printerrors.UserMessage(orchestrator.ErrNoPrinter))
		return
	}
	s.reply(ctx, conn, msg, res)
}

// handlePrint validates the request on the read loop and runs the job on its
// own goroutine so the connection keeps reading.
func (s *Server) handlePrint(conn *websocket.Conn, client string, msg *Message) {
	ctx := s.jobCtx
	if !s.limiter.Allow(client) {
		logging.Logger.Warn("[PRINT] rate limit exceeded", zap.String("remote", client))
		s.sendError(ctx, conn, msg, "RATE_LIMIT: Too many print requests, slow down")
		return
	}

	var payload printer.Payload
	if msg.Tipo != TipoTestPrint {
		p, err := decodePrintRequest(msg)
		if err != nil {
			s.sendError(ctx, conn, msg, err.Error())
			return
		}
		payload = p
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()

		var (
			jobID = payload.JobID
			err   error
		)
		switch msg.Tipo {
		case TipoTestPrint:
			jobID, err = s.orch.TestPrint(ctx)
		case TipoQuickPrint:
			err = s.orch.QuickPrint(ctx, payload)
		default:
			err = s.orch.Print(ctx, payload, false)
		}

		if err != nil {
			s.sendError(ctx, conn, msg, printerrors.UserMessage(err))
			return
		}
		s.reply(ctx, conn, msg, map[string]string{"jobId": jobID})
	}()
}

func decodePrintRequest(msg *Message) (printer.Payload, error) {
	if len(msg.Datos) == 0 {
		return printer.Payload{}, errors.New("Field 'datos' is required for type '" + msg.Tipo + "'")
	}
	var req printRequest
	if err := json.Unmarshal(msg.Datos, &req); err != nil {
		return printer.Payload{}, errors.New("JSON: Invalid print request")
	}
	if err := validate.Struct(req); err != nil {
		return printer.Payload{}, errors.New("VALIDATION: 'content' is required and 'title' is limited to 128 characters")
	}

	content := []byte(req.Content)
	if req.Base64 {
		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return printer.Payload{}, errors.New("VALIDATION: 'content' is not valid base64")
		}
		content = raw
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return printer.Payload{JobID: id, Title: req.Title, Content: content}, nil
}
