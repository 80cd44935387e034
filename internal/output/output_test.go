package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mhollis/veil/internal/redact"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{input: "json", want: FormatJSON},
		{input: "JSON", want: FormatJSON},
		{input: "text", want: FormatText},
		{input: "", want: FormatText},
		{input: "yaml", want: FormatText},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.input); got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWriteResultText(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatText)

	result := redact.Result{Redacted: "Contact [NAME] at [EMAIL]"}
	if err := w.WriteResult(result); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}
	if got := buf.String(); got != "Contact [NAME] at [EMAIL]\n" {
		t.Errorf("output = %q", got)
	}
	// A bytes.Buffer is not a terminal; no escape codes.
	if strings.Contains(buf.String(), "\033[") {
		t.Error("output contains ANSI codes for non-terminal writer")
	}
}

func TestWriteResultJSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatJSON)

	result := redact.Result{
		Redacted: "Contact [NAME]",
		Spans: []redact.Span{
			{Start: 8, End: 13, Label: redact.LabelName, Source: redact.SourceModel, Confidence: 0.9},
		},
	}
	if err := w.WriteResult(result); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}

	var decoded redact.Result
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Redacted != result.Redacted || len(decoded.Spans) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteBatchText(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatText)

	items := []redact.BatchItem{
		{Result: redact.Result{Redacted: "doc one [EMAIL]"}},
		{Err: errors.New("too big")},
		{Result: redact.Result{Redacted: "doc three"}},
	}
	if err := w.WriteBatch(items); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if lines[0] != "doc one [EMAIL]" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "document 1") || !strings.Contains(lines[1], "too big") {
		t.Errorf("line 1 = %q, want inline error with position", lines[1])
	}
	if lines[2] != "doc three" {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestWriteBatchJSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatJSON)

	items := []redact.BatchItem{
		{Result: redact.Result{Redacted: "ok"}},
		{Err: errors.New("failed")},
	}
	if err := w.WriteBatch(items); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	var docs []struct {
		RedactedText string `json:"redacted_text"`
		Error        string `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &docs); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(docs) != 2 {
		t.Fatalf("docs = %d, want 2", len(docs))
	}
	if docs[0].RedactedText != "ok" || docs[0].Error != "" {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[1].Error != "failed" || docs[1].RedactedText != "" {
		t.Errorf("docs[1] = %+v", docs[1])
	}
}
