// Package redact implements the PII redaction engine: it merges candidate
// spans from a deterministic pattern detector and a learned entity
// recognizer, resolves overlaps deterministically, and rewrites text by
// replacing each accepted span with its label placeholder.
//
// Example:
//
//	engine := redact.New(patternDetector, recognizer,
//	    redact.WithWorkers(4),
//	    redact.WithMaxInput(1<<20),
//	)
//	result, err := engine.Redact(ctx, "Contact Sarah at sarah@example.com")
//	// result.Redacted == "Contact [NAME] at [EMAIL]"
package redact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Detector produces candidate PII spans from raw text. Both the pattern
// detector and the entity recognizer satisfy this interface, so the engine
// is agnostic to detection source. Implementations must be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Span, error)
}

// Engine merges, resolves, and applies PII spans. It holds only references
// to its two detectors; no state persists between calls.
type Engine struct {
	pattern      Detector
	model        Detector // nil in pattern-only degraded mode
	placeholders Placeholders
	maxInput     int
	workers      int
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlaceholders overrides the default [LABEL] substitution tokens.
func WithPlaceholders(p Placeholders) Option {
	return func(e *Engine) {
		if p != nil {
			e.placeholders = p
		}
	}
}

// WithMaxInput sets a hard ceiling in bytes on single-document input.
// Zero means no ceiling.
func WithMaxInput(n int) Option {
	return func(e *Engine) { e.maxInput = n }
}

// WithWorkers bounds batch concurrency. Values below 1 mean sequential.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the logger used for discarded-span diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine over the given detectors. model may be nil, in
// which case only pattern spans are applied; see the recognizer package
// for when that degraded mode is permitted.
func New(pattern Detector, model Detector, opts ...Option) *Engine {
	e := &Engine{
		pattern:      pattern,
		model:        model,
		placeholders: DefaultPlaceholders(),
		workers:      1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Redact detects and substitutes PII in a single document.
//
// Empty input returns an empty result without invoking either detector.
// Input over the configured ceiling returns *InputTooLargeError with no
// partial processing. Detector failures are wrapped with the detector's
// identity and propagated; they are never silently swallowed.
func (e *Engine) Redact(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{}, nil
	}
	if e.maxInput > 0 && len(text) > e.maxInput {
		return Result{}, &InputTooLargeError{Size: len(text), Limit: e.maxInput}
	}

	candidates, err := e.collect(ctx, text)
	if err != nil {
		return Result{}, err
	}

	accepted := resolve(candidates)
	return Result{
		Redacted: e.substitute(text, accepted),
		Spans:    accepted,
	}, nil
}

// RedactBatch redacts each document independently, preserving input order.
// Per-document failures are reported in the corresponding BatchItem; one
// bad document never aborts the batch. Documents are processed
// concurrently up to the configured worker limit, and results are placed
// by index rather than completion order.
func (e *Engine) RedactBatch(ctx context.Context, texts []string) []BatchItem {
	items := make([]BatchItem, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	limit := e.workers
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, text := range texts {
		g.Go(func() error {
			res, err := e.Redact(ctx, text)
			items[i] = BatchItem{Result: res, Err: err}
			// Errors stay per-document; never cancel sibling work.
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// collect runs both detectors and concatenates their candidate sets,
// dropping spans with invalid offsets.
func (e *Engine) collect(ctx context.Context, text string) ([]Span, error) {
	var candidates []Span

	if e.pattern != nil {
		spans, err := e.pattern.Detect(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("pattern detector: %w", err)
		}
		candidates = append(candidates, spans...)
	}

	if e.model != nil {
		spans, err := e.model.Detect(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("entity recognizer: %w", err)
		}
		candidates = append(candidates, spans...)
	}

	valid := candidates[:0]
	for _, sp := range candidates {
		if !sp.Valid(text) {
			e.logger.Debug("dropping span with invalid offsets",
				"start", sp.Start, "end", sp.End, "label", sp.Label, "source", sp.Source)
			continue
		}
		valid = append(valid, sp)
	}
	return valid, nil
}

// resolve turns an arbitrary candidate set into a non-overlapping,
// ascending span set. Candidates are sorted by (start, longest-first,
// pattern-before-model) and swept left to right with a cursor holding the
// rightmost claimed offset; a candidate is accepted only if it starts at
// or after the cursor. Greedy interval scheduling over that order yields
// deterministic, longest-first, pattern-preferred coverage.
func resolve(candidates []Span) []Span {
	if len(candidates) == 0 {
		return nil
	}
	sortCandidates(candidates)

	accepted := make([]Span, 0, len(candidates))
	cursor := 0
	for _, sp := range candidates {
		if sp.Start < cursor {
			continue
		}
		accepted = append(accepted, sp)
		cursor = sp.End
	}
	return accepted
}

// substitute rewrites text by copying literal runs verbatim and replacing
// each accepted span with its placeholder. Offsets are read against the
// original text only, so placeholder-length differences cannot drift the
// output. spans must be non-overlapping and ascending.
func (e *Engine) substitute(text string, spans []Span) string {
	if len(spans) == 0 {
		return text
	}

	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		b.WriteString(text[prev:sp.Start])
		b.WriteString(e.placeholders.For(sp.Label))
		prev = sp.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Placeholders exposes the engine's placeholder table, used by the span
// extractor to locate tokens in redacted documents.
func (e *Engine) Placeholders() Placeholders {
	return e.placeholders
}
