package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/settings"
	"github.com/adcondev/printer-daemon/internal/status"
)

// Dialect selects the OS tooling used to talk to the spooler.
type Dialect int

const (
	// DialectCUPS uses lpstat/lp.
	DialectCUPS Dialect = iota
	// DialectPowerShell uses Get-CimInstance/Out-Printer.
	DialectPowerShell
)

// String returns the dialect name.
func (d Dialect) String() string {
	if d == DialectPowerShell {
		return "powershell"
	}
	return "cups"
}

// HostDialect returns the dialect for the running OS.
func HostDialect() Dialect {
	if runtime.GOOS == "windows" {
		return DialectPowerShell
	}
	return DialectCUPS
}

// ErrUnsafeName is returned for printer names that cannot be passed to a
// command safely.
var ErrUnsafeName = errors.New("unsafe printer name")

// ValidatePrinterName rejects names that are empty, too long, contain control
// characters or could be parsed as a flag.
func ValidatePrinterName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeName)
	}
	if reason := settings.CheckPrinterName(name); reason != "" {
		return fmt.Errorf("%w: %s", ErrUnsafeName, reason)
	}
	return nil
}

// psQuote renders s as a PowerShell single-quoted literal. Inside single
// quotes only the quote itself is special (including the typographic
// variants PowerShell also accepts), and it is escaped by doubling.
func psQuote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '‘', '’', '‚', '‛':
			b.WriteRune(r)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func powershell(script string) (string, []string) {
	return "powershell.exe", []string{"-NoProfile", "-NonInteractive", "-Command", script}
}

// Source implements printer enumeration and the status primitives on top of
// a Runner.
type Source struct {
	runner  Runner
	dialect Dialect
}

// NewSource creates a source for the host OS.
func NewSource(runner Runner) *Source {
	return NewSourceFor(HostDialect(), runner)
}

// NewSourceFor creates a source for an explicit dialect.
func NewSourceFor(d Dialect, runner Runner) *Source {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Source{runner: runner, dialect: d}
}

// EnumeratePrinters lists installed printers.
func (s *Source) EnumeratePrinters(ctx context.Context) ([]printer.Info, error) {
	if s.dialect == DialectPowerShell {
		name, args := powershell(`Get-CimInstance -ClassName Win32_Printer | ForEach-Object { '{0}|{1}' -f $_.Name, $_.Default }`)
		out, err := s.runner.Run(ctx, nil, name, args...)
		if err != nil {
			return nil, fmt.Errorf("listing printers: %w", err)
		}
		var printers []printer.Info
		for _, line := range lines(out) {
			idx := strings.LastIndex(line, "|")
			if idx <= 0 {
				continue
			}
			printers = append(printers, printer.Info{
				Name:      line[:idx],
				IsDefault: strings.EqualFold(line[idx+1:], "true"),
			})
		}
		return printers, nil
	}

	out, err := s.runner.Run(ctx, nil, "lpstat", "-e")
	if err != nil {
		return nil, fmt.Errorf("listing printers: %w", err)
	}
	def, _ := s.QueryDefaultPrinterName(ctx)
	var printers []printer.Info
	for _, line := range lines(out) {
		printers = append(printers, printer.Info{Name: line, IsDefault: line == def})
	}
	return printers, nil
}

// QueryDefaultPrinterName returns the OS default printer, "" if none.
func (s *Source) QueryDefaultPrinterName(ctx context.Context) (string, error) {
	if s.dialect == DialectPowerShell {
		name, args := powershell(`(Get-CimInstance -ClassName Win32_Printer -Filter 'Default=TRUE').Name`)
		out, err := s.runner.Run(ctx, nil, name, args...)
		if err != nil {
			return "", fmt.Errorf("querying default printer: %w", err)
		}
		return strings.TrimSpace(string(out)), nil
	}

	out, err := s.runner.Run(ctx, nil, "lpstat", "-d")
	if err != nil {
		return "", fmt.Errorf("querying default printer: %w", err)
	}
	return parseLpstatDefault(string(out))
}

func parseLpstatDefault(out string) (string, error) {
	out = strings.TrimSpace(out)
	switch {
	case out == "", strings.HasPrefix(out, "no system default destination"):
		return "", nil
	case strings.HasPrefix(out, "system default destination:"):
		return strings.TrimSpace(strings.TrimPrefix(out, "system default destination:")), nil
	default:
		return "", fmt.Errorf("unrecognized lpstat output %q", out)
	}
}

// QueryIsPrinterOffline reports whether name is offline. Unknown printers
// yield status.ErrPrinterNotFound.
func (s *Source) QueryIsPrinterOffline(ctx context.Context, name string) (bool, error) {
	if err := ValidatePrinterName(name); err != nil {
		return false, err
	}

	if s.dialect == DialectPowerShell {
		script := fmt.Sprintf(
			`$p = Get-CimInstance -ClassName Win32_Printer | Where-Object { $_.Name -eq %s }; `+
				`if (-not $p) { 'NOTFOUND' } else { [bool]($p.WorkOffline -or $p.PrinterStatus -eq 7) }`,
			psQuote(name))
		cmd, args := powershell(script)
		out, err := s.runner.Run(ctx, nil, cmd, args...)
		if err != nil {
			return false, fmt.Errorf("querying printer status: %w", err)
		}
		return parsePowerShellOffline(string(out))
	}

	out, err := s.runner.Run(ctx, nil, "lpstat", "-p", name)
	if err != nil {
		if isCUPSNotFound(err.Error()) {
			return false, status.ErrPrinterNotFound
		}
		return false, fmt.Errorf("querying printer status: %w", err)
	}
	return parseLpstatPrinter(name, string(out))
}

func parsePowerShellOffline(out string) (bool, error) {
	switch v := strings.TrimSpace(out); {
	case strings.EqualFold(v, "true"):
		return true, nil
	case strings.EqualFold(v, "false"):
		return false, nil
	case v == "NOTFOUND":
		return false, status.ErrPrinterNotFound
	default:
		return false, fmt.Errorf("unrecognized output %q", v)
	}
}

// parseLpstatPrinter classifies "printer NAME is idle..." output. The
// "printer NAME " prefix is cut first so the name itself never matches a
// state word.
func parseLpstatPrinter(name, out string) (bool, error) {
	lower := strings.ToLower(strings.TrimSpace(out))
	if rest, ok := strings.CutPrefix(lower, "printer "+strings.ToLower(name)+" "); ok {
		lower = rest
	} else if rest, ok := strings.CutPrefix(lower, "printer "); ok {
		if _, after, found := strings.Cut(rest, " "); found {
			lower = after
		}
	}
	// Lines after the first carry the printer-state reasons.
	state, reasons, _ := strings.Cut(lower, "\n")
	switch {
	case lower == "":
		return false, status.ErrPrinterNotFound
	case strings.HasPrefix(state, "disabled"):
		return true, nil
	case strings.HasPrefix(state, "is idle"), strings.HasPrefix(state, "now printing"):
		return strings.Contains(reasons, "offline"), nil
	case strings.Contains(lower, "disabled"), strings.Contains(lower, "offline"):
		return true, nil
	case strings.Contains(lower, "enabled"):
		return false, nil
	case isCUPSNotFound(lower):
		return false, status.ErrPrinterNotFound
	default:
		return false, fmt.Errorf("unrecognized lpstat output %q", out)
	}
}

func isCUPSNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid destination") || strings.Contains(lower, "unknown destination") ||
		strings.Contains(lower, "does not exist")
}

func lines(out []byte) []string {
	var result []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			result = append(result, line)
		}
	}
	return result
}
