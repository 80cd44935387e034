// Package pattern implements the deterministic PII detector: an ordered
// library of regex rules per label, producing candidate spans independent
// of any learned model. Detection is a pure function of input text and the
// fixed rule configuration; malformed configuration fails at construction,
// never per call.
package pattern

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/mhollis/veil/internal/redact"
)

// ErrPatternConfig marks a malformed rule configuration. Returned errors
// wrap it, so callers can errors.Is against the category.
var ErrPatternConfig = errors.New("malformed pattern configuration")

// ConfigError reports which rule definition could not be compiled.
type ConfigError struct {
	Rule string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pattern rule %q: %v", e.Rule, e.Err)
}

func (e *ConfigError) Unwrap() error { return ErrPatternConfig }

// RuleDef is one pattern definition as it appears in configuration.
type RuleDef struct {
	Label   string `json:"label" mapstructure:"label"`
	Name    string `json:"name" mapstructure:"name"`
	Pattern string `json:"pattern" mapstructure:"pattern"`
}

// rule is a compiled RuleDef. order preserves declaration position across
// all labels, built-ins first.
type rule struct {
	label redact.Label
	name  string
	re    *regexp.Regexp
	order int
}

// Detector finds structurally regular PII using the built-in rules plus
// any configured extras. It is stateless and safe for concurrent use.
type Detector struct {
	rules []rule
}

// New compiles the built-in rules followed by extra configured rules.
// Any unknown label or invalid regex fails with a *ConfigError wrapping
// ErrPatternConfig.
func New(extra ...RuleDef) (*Detector, error) {
	defs := append(BuiltinRules(), extra...)

	rules := make([]rule, 0, len(defs))
	for i, def := range defs {
		label, err := redact.ParseLabel(def.Label)
		if err != nil {
			return nil, &ConfigError{Rule: def.Name, Err: err}
		}
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, &ConfigError{Rule: def.Name, Err: err}
		}
		rules = append(rules, rule{label: label, name: def.Name, re: re, order: i})
	}
	return &Detector{rules: rules}, nil
}

// Detect returns pattern spans for text. Every span has Source=pattern and
// Confidence=1.0. Spans for a single label never overlap: at a given
// offset the longest match wins, ties go to the earlier-declared rule.
// Overlaps between different labels are deliberately left for the engine's
// merge step.
func (d *Detector) Detect(_ context.Context, text string) ([]redact.Span, error) {
	if text == "" {
		return nil, nil
	}

	type match struct {
		start, end, order int
	}
	byLabel := make(map[redact.Label][]match)
	for _, r := range d.rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			byLabel[r.label] = append(byLabel[r.label], match{start: loc[0], end: loc[1], order: r.order})
		}
	}

	var spans []redact.Span
	for _, label := range redact.AllLabels() {
		matches := byLabel[label]
		if len(matches) == 0 {
			continue
		}
		sort.Slice(matches, func(i, j int) bool {
			a, b := matches[i], matches[j]
			if a.start != b.start {
				return a.start < b.start
			}
			if la, lb := a.end-a.start, b.end-b.start; la != lb {
				return la > lb
			}
			return a.order < b.order
		})
		cursor := 0
		for _, m := range matches {
			if m.start < cursor {
				continue
			}
			spans = append(spans, redact.Span{
				Start:      m.start,
				End:        m.end,
				Label:      label,
				Source:     redact.SourcePattern,
				Confidence: 1.0,
			})
			cursor = m.end
		}
	}
	return spans, nil
}
