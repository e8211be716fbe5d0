// Package settings resuelve la configuración de impresión persistida sobre
// valores por defecto fijos.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Key is the settings-store key holding the printer record.
const Key = "printer.settings"

// PaperSize enumerates the supported physical paper widths.
type PaperSize string

const (
	Paper58mm PaperSize = "58mm"
	Paper80mm PaperSize = "80mm"
)

// ErrInvalidSettings wraps validation failures on Save.
var ErrInvalidSettings = errors.New("invalid printer settings")

// Margins in millimetres.
type Margins struct {
	Top    float64 `json:"top" validate:"gte=0"`
	Right  float64 `json:"right" validate:"gte=0"`
	Bottom float64 `json:"bottom" validate:"gte=0"`
	Left   float64 `json:"left" validate:"gte=0"`
}

// PrinterSettings is the fully resolved print configuration.
type PrinterSettings struct {
	// PrinterName empty means "use the OS default printer".
	PrinterName string    `json:"printerName" validate:"printername"`
	PaperSize   PaperSize `json:"paperSize" validate:"oneof=58mm 80mm"`
	Margins     Margins   `json:"margins"`
	Copies      int       `json:"copies" validate:"min=1,max=10"`
	FontFamily  string    `json:"fontFamily" validate:"required"`
	FontSize    int       `json:"fontSize" validate:"min=6,max=72"`
	LineHeight  float64   `json:"lineHeight" validate:"gt=0"`
	Bold        bool      `json:"bold"`
	Encoding    string    `json:"encoding" validate:"required"`
}

// Partial carries only the fields a caller wants to change.
type Partial struct {
	PrinterName *string    `json:"printerName,omitempty"`
	PaperSize   *PaperSize `json:"paperSize,omitempty"`
	Margins     *Margins   `json:"margins,omitempty"`
	Copies      *int       `json:"copies,omitempty"`
	FontFamily  *string    `json:"fontFamily,omitempty"`
	FontSize    *int       `json:"fontSize,omitempty"`
	LineHeight  *float64   `json:"lineHeight,omitempty"`
	Bold        *bool      `json:"bold,omitempty"`
	Encoding    *string    `json:"encoding,omitempty"`
}

// Defaults returns the hard-coded default record.
func Defaults() PrinterSettings {
	return PrinterSettings{
		PrinterName: "",
		PaperSize:   Paper58mm,
		Margins:     Margins{},
		Copies:      1,
		FontFamily:  "monospace",
		FontSize:    12,
		LineHeight:  1.2,
		Bold:        false,
		Encoding:    "utf-8",
	}
}

// Merge overlays p on base field by field. A provided Margins replaces the
// whole margins object.
func Merge(base PrinterSettings, p Partial) PrinterSettings {
	out := base
	if p.PrinterName != nil {
		out.PrinterName = *p.PrinterName
	}
	if p.PaperSize != nil {
		out.PaperSize = *p.PaperSize
	}
	if p.Margins != nil {
		out.Margins = *p.Margins
	}
	if p.Copies != nil {
		out.Copies = *p.Copies
	}
	if p.FontFamily != nil {
		out.FontFamily = *p.FontFamily
	}
	if p.FontSize != nil {
		out.FontSize = *p.FontSize
	}
	if p.LineHeight != nil {
		out.LineHeight = *p.LineHeight
	}
	if p.Bold != nil {
		out.Bold = *p.Bold
	}
	if p.Encoding != nil {
		out.Encoding = *p.Encoding
	}
	return out
}

// MaxPrinterNameLen bounds printer names handed to OS print commands.
const MaxPrinterNameLen = 256

// CheckPrinterName returns why name cannot be passed to a print command, or
// "" when it can. A blank name is left to the caller.
func CheckPrinterName(name string) string {
	switch {
	case len(name) > MaxPrinterNameLen:
		return fmt.Sprintf("longer than %d bytes", MaxPrinterNameLen)
	case strings.HasPrefix(name, "-"):
		return "leading '-'"
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "control character"
		}
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("printername", func(fl validator.FieldLevel) bool {
		return CheckPrinterName(fl.Field().String()) == ""
	})
	return v
}

// Validate checks field ranges.
func (s PrinterSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
