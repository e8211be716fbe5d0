package daemon

import (
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/server"
	"github.com/adcondev/printer-daemon/internal/status"
)

// HealthResponse representa el estado de salud del servicio de impresión.
type HealthResponse struct {
	Status       string              `json:"status"`
	Printers     printer.Summary     `json:"printers"`
	Cache        status.Stats        `json:"cache"`
	Orchestrator orchestrator.Stats  `json:"orchestrator"`
	Clients      int                 `json:"clients"`
	ClientList   []server.ClientInfo `json:"client_list"`
	Log          LogInfo             `json:"log"`
	Build        BuildInfo           `json:"build"`
	Uptime       int                 `json:"uptime_seconds"`
}

// BuildInfo contiene información sobre la compilación del servicio.
type BuildInfo struct {
	Env  string `json:"env"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// LogInfo resume el archivo de log activo.
type LogInfo struct {
	Verbose   bool  `json:"verbose"`
	SizeBytes int64 `json:"size_bytes"`
}
