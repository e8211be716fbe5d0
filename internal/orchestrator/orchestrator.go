// Package orchestrator resolves the target printer for each job, gates it on
// printer status and hands it to the renderer, one job at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/discovery"
	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/metrics"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/settings"
	"github.com/adcondev/printer-daemon/internal/status"
)

// State is the lifecycle position of the current print job.
type State int32

const (
	Idle State = iota
	Resolving
	StatusChecking
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case StatusChecking:
		return "status_checking"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// fastPathDefault is the fast-path key recorded when the job went to the OS
// default without a known name.
const fastPathDefault = "default"

var (
	// ErrPrintInProgress is returned when a job is already in flight.
	ErrPrintInProgress = errors.New("another print operation is in progress")
	// ErrNoPrinter is returned when no printer name can be resolved.
	ErrNoPrinter = errors.New("no printer configured and no default printer found")
)

// OfflineError reports that the resolved printer failed its status check.
type OfflineError struct {
	Printer   string
	IsDefault bool
	Message   string
}

func (e *OfflineError) Error() string {
	target := fmt.Sprintf("printer '%s'", e.Printer)
	if e.IsDefault {
		target = "default " + target
	}
	if e.Message == "" {
		return target + " is offline"
	}
	return fmt.Sprintf("%s is offline: %s", target, e.Message)
}

// SubmitError carries the renderer's failure reason verbatim.
type SubmitError struct {
	Reason string
	Err    error
}

func (e *SubmitError) Error() string { return "print failed: " + e.Reason }

func (e *SubmitError) Unwrap() error { return e.Err }

// Renderer submits an already rendered payload to the OS.
type Renderer interface {
	Submit(ctx context.Context, payload printer.Payload, s settings.PrinterSettings) error
}

// Stats summarizes jobs seen by the orchestrator since start.
type Stats struct {
	State     State     `json:"state"`
	Printed   int64     `json:"printed"`
	Failed    int64     `json:"failed"`
	Offline   int64     `json:"offline"`
	Rejected  int64     `json:"rejected"`
	LastJobID string    `json:"lastJobId,omitempty"`
	LastJobAt time.Time `json:"lastJobAt,omitempty"`
}

// Orchestrator is the façade consumed by the server.
type Orchestrator struct {
	settings  *settings.Resolver
	discovery *discovery.Cache
	status    *status.Service
	renderer  Renderer
	now       func() time.Time

	state atomic.Int32

	printed  atomic.Int64
	failed   atomic.Int64
	offline  atomic.Int64
	rejected atomic.Int64

	lastMu    sync.Mutex
	lastJobID string
	lastJobAt time.Time
}

// New wires an orchestrator over its collaborators.
func New(res *settings.Resolver, disc *discovery.Cache, svc *status.Service, renderer Renderer) *Orchestrator {
	return &Orchestrator{
		settings:  res,
		discovery: disc,
		status:    svc,
		renderer:  renderer,
		now:       time.Now,
	}
}

// State returns the current job state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Print runs one job. It fails immediately with ErrPrintInProgress when
// another job holds the guard.
func (o *Orchestrator) Print(ctx context.Context, payload printer.Payload, skipStatusCheck bool) error {
	if !o.state.CompareAndSwap(int32(Idle), int32(Resolving)) {
		o.rejected.Add(1)
		metrics.PrintJob(metrics.JobRejected)
		logging.Logger.Warn("[PRINT] rejected, job in progress", zap.String("job", payload.JobID))
		return ErrPrintInProgress
	}
	defer o.state.Store(int32(Idle))

	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}

	err := o.run(ctx, payload, skipStatusCheck)
	o.recordOutcome(payload.JobID, err)
	return err
}

// QuickPrint prints without the status check.
func (o *Orchestrator) QuickPrint(ctx context.Context, payload printer.Payload) error {
	return o.Print(ctx, payload, true)
}

func (o *Orchestrator) run(ctx context.Context, payload printer.Payload, skipStatusCheck bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := o.settings.Get(ctx)
	target := strings.TrimSpace(s.PrinterName)
	isDefault := false

	if !skipStatusCheck {
		if target == "" {
			if name, ok := o.status.GetDefaultPrinterName(ctx); ok {
				target, isDefault = name, true
			}
		}
		if target != "" {
			o.state.Store(int32(StatusChecking))
			res := o.status.CheckStatus(ctx, target, false)
			if err := ctx.Err(); err != nil {
				return err
			}
			if !res.IsOnline {
				return &OfflineError{Printer: target, IsDefault: isDefault, Message: res.Message}
			}
		}
	}

	o.state.Store(int32(Submitting))
	logging.Logger.Info("[PRINT] submitting",
		zap.String("job", payload.JobID),
		zap.String("printer", target),
		zap.Bool("skip_status", skipStatusCheck))

	if err := o.submit(ctx, payload, s); err != nil {
		return err
	}

	if target == "" {
		target = fastPathDefault
	}
	o.status.MarkSuccess(target)
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, payload printer.Payload, s settings.PrinterSettings) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SubmitError{Reason: fmt.Sprintf("renderer panic: %v", r)}
		}
	}()
	if err := o.renderer.Submit(ctx, payload, s); err != nil {
		return &SubmitError{Reason: err.Error(), Err: err}
	}
	return nil
}

func (o *Orchestrator) recordOutcome(jobID string, err error) {
	o.lastMu.Lock()
	o.lastJobID = jobID
	o.lastJobAt = o.now()
	o.lastMu.Unlock()

	var offline *OfflineError
	switch {
	case errors.As(err, &offline):
		o.offline.Add(1)
		metrics.PrintJob(metrics.JobOffline)
		logging.Logger.Warn("[PRINT] job rejected, printer offline", zap.String("job", jobID), zap.Error(err))
		return
	case err != nil:
		o.failed.Add(1)
		metrics.PrintJob(metrics.JobFailed)
		logging.Logger.Error("[PRINT] job failed", zap.String("job", jobID), zap.Error(err))
		return
	}
	o.printed.Add(1)
	metrics.PrintJob(metrics.JobPrinted)
	logging.Logger.Info("[PRINT] job completed", zap.String("job", jobID))
}

// RefreshPrinterStatus queries the OS for name, or for the configured or
// default printer when name is blank. It reports false when no printer can
// be resolved.
func (o *Orchestrator) RefreshPrinterStatus(ctx context.Context, name string) (printer.StatusResult, bool) {
	return o.printerStatus(ctx, name, true)
}

// PrinterStatus is RefreshPrinterStatus answered from the caches when fresh.
func (o *Orchestrator) PrinterStatus(ctx context.Context, name string) (printer.StatusResult, bool) {
	return o.printerStatus(ctx, name, false)
}

func (o *Orchestrator) printerStatus(ctx context.Context, name string, skipCache bool) (printer.StatusResult, bool) {
	target := strings.TrimSpace(name)
	if target == "" {
		target = strings.TrimSpace(o.settings.Get(ctx).PrinterName)
	}
	if target == "" {
		def, ok := o.status.GetDefaultPrinterName(ctx)
		if !ok {
			return printer.StatusResult{}, false
		}
		target = def
	}
	return o.status.CheckStatus(ctx, target, skipCache), true
}

// DefaultPrinter returns the OS default printer, if any.
func (o *Orchestrator) DefaultPrinter(ctx context.Context) (string, bool) {
	return o.status.GetDefaultPrinterName(ctx)
}

// CacheStats reports status cache occupancy.
func (o *Orchestrator) CacheStats() status.Stats {
	return o.status.Stats()
}

// PrinterSummary is the discovery overview used by health checks.
func (o *Orchestrator) PrinterSummary(ctx context.Context) printer.Summary {
	def, _ := o.status.GetDefaultPrinterName(ctx)
	return o.discovery.Summary(ctx, def)
}

// ListPrinters returns the physical printers known to the OS, marking the
// default one.
func (o *Orchestrator) ListPrinters(ctx context.Context) []printer.DetailDTO {
	infos := o.discovery.Printers(ctx)
	out := make([]printer.DetailDTO, 0, len(infos))
	for _, p := range infos {
		out = append(out, printer.DetailDTO{Name: p.Name, IsDefault: p.IsDefault})
	}
	return out
}

// Settings returns the effective settings.
func (o *Orchestrator) Settings(ctx context.Context) settings.PrinterSettings {
	return o.settings.Get(ctx)
}

// SaveSettings merges p into the current settings. Changing the target
// printer drops the discovery cache.
func (o *Orchestrator) SaveSettings(ctx context.Context, p settings.Partial) (settings.PrinterSettings, error) {
	before := o.settings.Get(ctx).PrinterName
	saved, err := o.settings.Save(ctx, p)
	if err != nil {
		return settings.PrinterSettings{}, err
	}
	if saved.PrinterName != before {
		logging.Logger.Info("[SETTINGS] printer changed",
			zap.String("from", before), zap.String("to", saved.PrinterName))
		o.discovery.Invalidate()
	}
	return saved, nil
}

// ResetSettings persists the defaults and clears every cache.
func (o *Orchestrator) ResetSettings(ctx context.Context) error {
	if err := o.settings.ResetToDefaults(ctx); err != nil {
		return err
	}
	o.InvalidateCaches()
	return nil
}

// InvalidateCaches clears the status, fast-path, default and discovery caches.
func (o *Orchestrator) InvalidateCaches() {
	o.status.InvalidateAll()
	o.discovery.Invalidate()
	logging.Logger.Info("[CACHE] all caches invalidated")
}

// TestPrint prints a short plain-text ticket with the status check enabled.
func (o *Orchestrator) TestPrint(ctx context.Context) (string, error) {
	s := o.settings.Get(ctx)
	jobID := uuid.NewString()
	payload := printer.Payload{
		JobID:   jobID,
		Title:   "Test print",
		Content: testTicket(s, o.now()),
	}
	return jobID, o.Print(ctx, payload, false)
}

func testTicket(s settings.PrinterSettings, at time.Time) []byte {
	target := s.PrinterName
	if target == "" {
		target = "(OS default)"
	}
	width := 32
	if s.PaperSize == settings.Paper80mm {
		width = 48
	}
	rule := strings.Repeat("-", width)

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("TEST PRINT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Printer:  %s\n", target)
	fmt.Fprintf(&b, "Paper:    %s\n", s.PaperSize)
	fmt.Fprintf(&b, "Copies:   %d\n", s.Copies)
	fmt.Fprintf(&b, "Font:     %s %dpt\n", s.FontFamily, s.FontSize)
	fmt.Fprintf(&b, "Encoding: %s\n", s.Encoding)
	fmt.Fprintf(&b, "Date:     %s\n", at.Format("2006-01-02 15:04:05"))
	b.WriteString(rule + "\n\n\n")
	return []byte(b.String())
}

// Stats returns job counters and the current state.
func (o *Orchestrator) Stats() Stats {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return Stats{
		State:     o.State(),
		Printed:   o.printed.Load(),
		Failed:    o.failed.Load(),
		Offline:   o.offline.Load(),
		Rejected:  o.rejected.Load(),
		LastJobID: o.lastJobID,
		LastJobAt: o.lastJobAt,
	}
}

// LogStartupDiagnostics logs the detected printers and the OS default.
func (o *Orchestrator) LogStartupDiagnostics(ctx context.Context) {
	o.discovery.LogStartupDiagnostics(ctx)
	if def, ok := o.status.GetDefaultPrinterName(ctx); ok {
		logging.Logger.Info("[PRINTERS] OS default printer", zap.String("name", def))
	} else {
		logging.Logger.Warn("[PRINTERS] no OS default printer")
	}
	if name := o.settings.Get(ctx).PrinterName; name != "" {
		logging.Logger.Info("[PRINTERS] configured printer", zap.String("name", name))
	}
}
