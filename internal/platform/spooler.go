package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/settings"
)

// ErrEmptyPayload is returned when there is nothing to print.
var ErrEmptyPayload = errors.New("empty payload")

// SpoolerRenderer hands rendered payloads to the OS spooler through stdin.
type SpoolerRenderer struct {
	runner  Runner
	dialect Dialect
}

// NewSpoolerRenderer creates a renderer for the host OS.
func NewSpoolerRenderer(runner Runner) *SpoolerRenderer {
	return NewSpoolerRendererFor(HostDialect(), runner)
}

// NewSpoolerRendererFor creates a renderer for an explicit dialect.
func NewSpoolerRendererFor(d Dialect, runner Runner) *SpoolerRenderer {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &SpoolerRenderer{runner: runner, dialect: d}
}

// Submit sends payload to the printer named in s, or to the OS default when
// the name is empty.
func (r *SpoolerRenderer) Submit(ctx context.Context, payload printer.Payload, s settings.PrinterSettings) error {
	if len(payload.Content) == 0 {
		return ErrEmptyPayload
	}
	if s.PrinterName != "" {
		if err := ValidatePrinterName(s.PrinterName); err != nil {
			return err
		}
	}
	copies := s.Copies
	if copies < 1 {
		copies = 1
	}

	name, args := r.command(payload, s, copies)
	logging.Logger.Debug("[SPOOLER] submitting",
		zap.String("job", payload.JobID),
		zap.String("printer", s.PrinterName),
		zap.String("dialect", r.dialect.String()),
		zap.Int("bytes", len(payload.Content)))

	if _, err := r.runner.Run(ctx, payload.Content, name, args...); err != nil {
		return fmt.Errorf("spooler rejected job: %w", err)
	}
	return nil
}

func (r *SpoolerRenderer) command(payload printer.Payload, s settings.PrinterSettings, copies int) (string, []string) {
	if r.dialect == DialectPowerShell {
		target := ""
		if s.PrinterName != "" {
			target = " -Name " + psQuote(s.PrinterName)
		}
		script := fmt.Sprintf(`$data = @($input); for ($i = 0; $i -lt %d; $i++) { $data | Out-Printer%s }`, copies, target)
		return powershell(script)
	}

	args := []string{"-n", strconv.Itoa(copies), "-o", "media=" + cupsMedia(s.PaperSize)}
	if s.PrinterName != "" {
		args = append(args, "-d", s.PrinterName)
	}
	if payload.Title != "" {
		args = append(args, "-t", payload.Title)
	}
	// "-" reads the document from stdin.
	return "lp", append(args, "-")
}

func cupsMedia(p settings.PaperSize) string {
	if p == settings.Paper80mm {
		return "Custom.80x297mm"
	}
	return "Custom.58x297mm"
}
