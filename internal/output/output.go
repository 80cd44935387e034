// Package output renders redaction results for the CLI in text or JSON
// form, with placeholder highlighting when writing to a terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"

	"github.com/mhollis/veil/internal/redact"
)

// Format represents an output format type.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// Writer handles writing formatted redaction results.
type Writer struct {
	w        io.Writer
	format   Format
	colorize bool
}

// New creates an output Writer. Colors are used only for text format on a
// terminal.
func New(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format, colorize: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// placeholderRE matches [LABEL] tokens for highlighting.
var placeholderRE = regexp.MustCompile(`\[[A-Z_]+\]`)

// WriteResult outputs a single redaction result.
func (wr *Writer) WriteResult(result redact.Result) error {
	if wr.format == FormatJSON {
		return wr.writeJSON(result)
	}
	_, err := fmt.Fprintln(wr.w, wr.highlight(result.Redacted))
	return err
}

// WriteBatch outputs batch results in input order. Failed documents are
// rendered as an error line rather than dropped, so positions still line
// up with the input.
func (wr *Writer) WriteBatch(items []redact.BatchItem) error {
	if wr.format == FormatJSON {
		type doc struct {
			RedactedText string `json:"redacted_text,omitempty"`
			Error        string `json:"error,omitempty"`
		}
		docs := make([]doc, len(items))
		for i, item := range items {
			if item.Err != nil {
				docs[i] = doc{Error: item.Err.Error()}
			} else {
				docs[i] = doc{RedactedText: item.Result.Redacted}
			}
		}
		return wr.writeJSON(docs)
	}

	for i, item := range items {
		if item.Err != nil {
			if _, err := fmt.Fprintf(wr.w, "error: document %d: %v\n", i, item.Err); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintln(wr.w, wr.highlight(item.Result.Redacted)); err != nil {
			return err
		}
	}
	return nil
}

func (wr *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(wr.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// highlight emphasizes placeholder tokens on terminals.
func (wr *Writer) highlight(text string) string {
	if !wr.colorize {
		return text
	}
	return placeholderRE.ReplaceAllStringFunc(text, func(tok string) string {
		return colorBold + colorYellow + tok + colorReset
	})
}
