// Package printerrors turns orchestrator failures into short messages for
// the client UI.
package printerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/platform"
	"github.com/adcondev/printer-daemon/internal/settings"
)

// UserMessage creates a clean "CATEGORY: message" string for the UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var offline *orchestrator.OfflineError
	var submit *orchestrator.SubmitError

	switch {
	case errors.Is(err, orchestrator.ErrPrintInProgress):
		return "BUSY: Another print operation is in progress, try again"
	case errors.Is(err, orchestrator.ErrNoPrinter):
		return "PRINTER: No printer configured and no default printer found"
	case errors.As(err, &offline):
		return fmt.Sprintf("PRINTER: %s", capitalize(offline.Error()))
	case errors.Is(err, settings.ErrInvalidSettings):
		return fmt.Sprintf("VALIDATION: %s", extractInnerError(err.Error()))
	case errors.Is(err, platform.ErrUnsafeName):
		return "VALIDATION: Printer name contains unsupported characters"
	case errors.Is(err, platform.ErrEmptyPayload):
		return "VALIDATION: Nothing to print"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT: The printer did not respond in time"
	case errors.As(err, &submit):
		return fmt.Sprintf("SPOOLER: %s", spoolerMessage(submit.Reason))
	}

	return fmt.Sprintf("ERROR: %s", cleanErrorMessage(err.Error()))
}

// spoolerMessage maps common spooler output to friendlier text.
func spoolerMessage(reason string) string {
	mappings := []struct {
		pattern string
		message string
	}{
		{"not found", "Printer not found - check if printer is installed"},
		{"invalid destination", "Printer not found - check if printer is installed"},
		{"does not exist", "Printer not found - check if printer is installed"},
		{"access is denied", "Access denied by the print spooler"},
		{"executable file not found", "Print tooling is not installed on this machine"},
		{"paused", "Printer is paused"},
	}
	lower := strings.ToLower(reason)
	for _, m := range mappings {
		if strings.Contains(lower, m.pattern) {
			return m.message
		}
	}
	return cleanErrorMessage(reason)
}

// extractInnerError gets the innermost error message
func extractInnerError(errStr string) string {
	parts := strings.Split(errStr, ": ")
	return parts[len(parts)-1]
}

// cleanErrorMessage removes verbose prefixes
func cleanErrorMessage(errStr string) string {
	prefixes := []string{
		"print failed: ",
		"spooler rejected job: ",
		"querying printer status: ",
		"listing printers: ",
	}
	result := errStr
	for _, prefix := range prefixes {
		result = strings.TrimPrefix(result, prefix)
	}
	return result
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
