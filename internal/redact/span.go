package redact

import (
	"fmt"
	"sort"
	"strings"
)

// Label identifies a PII category. The set is closed: detectors may only
// emit labels listed in AllLabels, and the engine's placeholder table is
// keyed by them.
type Label string

const (
	LabelName         Label = "NAME"
	LabelOrganization Label = "ORGANIZATION"
	LabelAddress      Label = "ADDRESS"
	LabelEmail        Label = "EMAIL"
	LabelPhoneNumber  Label = "PHONE_NUMBER"
)

// AllLabels returns every recognized PII label in declaration order.
func AllLabels() []Label {
	return []Label{LabelName, LabelOrganization, LabelAddress, LabelEmail, LabelPhoneNumber}
}

// ParseLabel converts a string to a Label. Matching is case-insensitive.
func ParseLabel(s string) (Label, error) {
	u := Label(strings.ToUpper(strings.TrimSpace(s)))
	for _, l := range AllLabels() {
		if u == l {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown PII label: %q", s)
}

// Source identifies which detector produced a span.
type Source string

const (
	// SourcePattern marks spans from the deterministic pattern detector.
	SourcePattern Source = "pattern"
	// SourceModel marks spans from the entity recognizer.
	SourceModel Source = "model"
)

// Span is a half-open byte range [Start, End) into the original text,
// tagged with the PII label and the detector that found it. Offsets always
// refer to the original input, never to partially redacted output.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Label      Label   `json:"label"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Valid reports whether the span has sane offsets for text of length n
// and sits on UTF-8 rune boundaries. Model output occasionally splits a
// multi-byte rune; such spans are dropped rather than substituted.
func (s Span) Valid(text string) bool {
	if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
		return false
	}
	return isRuneBoundary(text, s.Start) && isRuneBoundary(text, s.End)
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

// Result is the outcome of redacting one document. Spans holds the spans
// that were actually substituted, pairwise non-overlapping and sorted
// ascending by Start.
type Result struct {
	Redacted string `json:"redacted_text"`
	Spans    []Span `json:"spans,omitempty"`
}

// BatchItem is the per-document outcome of RedactBatch. Exactly one of
// Result and Err is meaningful; the item's position in the returned slice
// equals the document's position in the input.
type BatchItem struct {
	Result Result
	Err    error
}

// Placeholders maps each label to its substitution token. Labels missing
// from the map fall back to the [LABEL] form.
type Placeholders map[Label]string

// DefaultPlaceholders returns the standard [LABEL] token for every label.
func DefaultPlaceholders() Placeholders {
	p := make(Placeholders, len(AllLabels()))
	for _, l := range AllLabels() {
		p[l] = "[" + string(l) + "]"
	}
	return p
}

// For returns the placeholder token for a label.
func (p Placeholders) For(label Label) string {
	if tok, ok := p[label]; ok && tok != "" {
		return tok
	}
	return "[" + string(label) + "]"
}

// ParsePlaceholders builds a placeholder table from configuration
// overrides keyed by label name. Unknown labels are rejected.
func ParsePlaceholders(overrides map[string]string) (Placeholders, error) {
	p := DefaultPlaceholders()
	for name, token := range overrides {
		label, err := ParseLabel(name)
		if err != nil {
			return nil, err
		}
		if token != "" {
			p[label] = token
		}
	}
	return p, nil
}

// sortCandidates orders spans by the resolve key: ascending start, then
// longest first, then pattern before model. The order is total for any
// two distinct candidates at the same offset and length, which keeps the
// sweep deterministic.
func sortCandidates(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return sourceRank(a.Source) < sourceRank(b.Source)
	})
}

func sourceRank(s Source) int {
	if s == SourcePattern {
		return 0
	}
	return 1
}
