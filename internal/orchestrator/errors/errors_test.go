package printerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/platform"
	"github.com/adcondev/printer-daemon/internal/settings"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		expected string
	}{
		{
			name:     "Nil",
			input:    nil,
			expected: "",
		},
		{
			name:     "In progress",
			input:    orchestrator.ErrPrintInProgress,
			expected: "BUSY: Another print operation is in progress, try again",
		},
		{
			name:     "No printer",
			input:    fmt.Errorf("status: %w", orchestrator.ErrNoPrinter),
			expected: "PRINTER: No printer configured and no default printer found",
		},
		{
			name:     "Offline default",
			input:    &orchestrator.OfflineError{Printer: "EPSON", IsDefault: true},
			expected: "PRINTER: Default printer 'EPSON' is offline",
		},
		{
			name:     "Offline explicit with reason",
			input:    &orchestrator.OfflineError{Printer: "Kitchen", Message: "Printer 'Kitchen' not found"},
			expected: "PRINTER: Printer 'Kitchen' is offline: Printer 'Kitchen' not found",
		},
		{
			name:     "Invalid settings",
			input:    fmt.Errorf("%w: Key: 'PrinterSettings.Copies' Error:Field validation for 'Copies' failed on the 'min' tag", settings.ErrInvalidSettings),
			expected: "VALIDATION: Key: 'PrinterSettings.Copies' Error:Field validation for 'Copies' failed on the 'min' tag",
		},
		{
			name:     "Unsafe name",
			input:    fmt.Errorf("%w: leading '-'", platform.ErrUnsafeName),
			expected: "VALIDATION: Printer name contains unsupported characters",
		},
		{
			name:     "Empty payload",
			input:    &orchestrator.SubmitError{Reason: "empty payload", Err: platform.ErrEmptyPayload},
			expected: "VALIDATION: Nothing to print",
		},
		{
			name:     "Timeout",
			input:    context.DeadlineExceeded,
			expected: "TIMEOUT: The printer did not respond in time",
		},
		{
			name:     "Spooler not found",
			input:    &orchestrator.SubmitError{Reason: "spooler rejected job: lp: exit status 1: lp: The printer or class does not exist."},
			expected: "SPOOLER: Printer not found - check if printer is installed",
		},
		{
			name:     "Spooler generic",
			input:    &orchestrator.SubmitError{Reason: "spooler rejected job: out of paper"},
			expected: "SPOOLER: out of paper",
		},
		{
			name:     "Fallback",
			input:    errors.New("listing printers: boom"),
			expected: "ERROR: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserMessage(tt.input)
			if got != tt.expected {
				t.Errorf("UserMessage() = %q, want %q", got, tt.expected)
			}
		})
	}
}
