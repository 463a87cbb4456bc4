// Package output renders command results and errors for the brcwallet CLI,
// as text on terminals and JSON elsewhere.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format represents the output format.
type Format string

// Output format constants.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatAuto Format = "auto"
)

// Formatter writes results in one format.
type Formatter struct {
	format Format
	writer io.Writer
}

// NewFormatter creates a formatter writing to w.
func NewFormatter(format Format, w io.Writer) *Formatter {
	return &Formatter{format: format, writer: w}
}

// Format returns the current output format.
func (f *Formatter) Format() Format {
	return f.format
}

// Writer returns the output writer.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// IsJSON reports whether results are written as JSON.
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Result writes v as indented JSON, or calls text to render it for humans.
// A nil text prints v with %v.
func (f *Formatter) Result(v any, text func(w io.Writer) error) error {
	if f.format == FormatJSON {
		enc := json.NewEncoder(f.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if text != nil {
		return text(f.writer)
	}
	_, err := fmt.Fprintf(f.writer, "%v\n", v)
	return err
}

// Field writes one "label: value" line in text mode.
func Field(w io.Writer, label, value string) error {
	_, err := fmt.Fprintf(w, "%-14s %s\n", label+":", value)
	return err
}

// DetectFormat resolves FormatAuto: text for terminals, JSON otherwise.
func DetectFormat(w io.Writer, explicit Format) Format {
	if explicit != FormatAuto {
		return explicit
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // G115: Fd fits in int
		return FormatText
	}
	return FormatJSON
}

// ParseFormat parses a format name; unknown names mean auto.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return FormatAuto
	}
}
