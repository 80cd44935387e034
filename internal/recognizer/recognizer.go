// Package recognizer wraps the statistical entity-recognition model as a
// pluggable detector with the same shape as the pattern detector, so the
// redaction engine is agnostic to detection source.
//
// The package defines a backend contract and selects an implementation
// from configuration (Ollama-served model or an external NER sidecar).
// The wrapper owns the concerns every backend needs: whitespace-boundary
// chunking of oversized inputs with offset translation, confidence
// defaulting for backends without scores, and optional serialization for
// backends that are not safe for concurrent read access.
//
// Example usage:
//
//	rec, err := recognizer.New(cfg, logger)
//	if err != nil {
//	    if cfg.Recognizer.Optional && errors.Is(err, recognizer.ErrModelUnavailable) {
//	        rec = nil // pattern-only degraded mode
//	    } else {
//	        return err
//	    }
//	}
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mhollis/veil/internal/config"
	"github.com/mhollis/veil/internal/recognizer/ollama"
	"github.com/mhollis/veil/internal/recognizer/sidecar"
	"github.com/mhollis/veil/internal/redact"
)

// ErrModelUnavailable indicates the model resource failed to load or the
// backend is unreachable. Raised at construction time: the recognizer
// never silently degrades to returning no spans.
var ErrModelUnavailable = errors.New("entity recognizer model is not available")

// Backend is the contract a model implementation must satisfy: given a
// text segment no longer than the configured chunk limit, return
// candidate spans with segment-local offsets.
type Backend interface {
	Detect(ctx context.Context, text string) ([]redact.Span, error)
}

// Recognizer adapts a Backend to the engine's detector contract.
type Recognizer struct {
	backend Backend
	limit   int
	mu      *sync.Mutex // non-nil when inference must be serialized
	logger  *slog.Logger
}

// New selects and constructs a backend from configuration. Construction
// fails fast with an error wrapping ErrModelUnavailable when the model
// resource cannot be loaded, so callers can decide between aborting and
// pattern-only degraded mode.
func New(cfg *config.Config, logger *slog.Logger) (*Recognizer, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	providerType := strings.ToLower(cfg.Recognizer.Provider)
	logger.Debug("creating entity recognizer", "type", providerType)

	var (
		backend Backend
		err     error
	)
	switch providerType {
	case "ollama":
		backend, err = ollama.New(ollama.Config{
			Host:     cfg.Recognizer.Ollama.Host,
			Resource: cfg.Recognizer.Ollama.Resource,
		}, logger)

	case "sidecar":
		backend, err = sidecar.New(
			cfg.Recognizer.Sidecar.URL,
			time.Duration(cfg.Recognizer.Sidecar.TimeoutSeconds)*time.Second,
			logger,
		)

	case "":
		return nil, errors.New("recognizer provider not specified in configuration")

	default:
		return nil, fmt.Errorf("unknown recognizer provider: %s (supported: ollama, sidecar)", providerType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return Wrap(backend, cfg.Recognizer.MaxChunkBytes, cfg.Recognizer.Serialize, logger), nil
}

// Wrap builds a Recognizer around an already-constructed backend. Exposed
// for tests and for embedding custom backends.
func Wrap(backend Backend, maxChunk int, serialize bool, logger *slog.Logger) *Recognizer {
	r := &Recognizer{backend: backend, limit: maxChunk, logger: logger}
	if serialize {
		r.mu = &sync.Mutex{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Detect returns model spans for text with global offsets. Empty text
// returns an empty set without touching the backend. Text over the chunk
// limit is split into non-overlapping segments at whitespace boundaries,
// detected per segment, and translated back to global offsets. Callers
// never see segment-local positions.
func (r *Recognizer) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	if text == "" {
		return nil, nil
	}

	var out []redact.Span
	for _, seg := range split(text, r.limit) {
		if strings.TrimSpace(seg.text) == "" {
			continue
		}
		spans, err := r.detectSegment(ctx, seg.text)
		if err != nil {
			return nil, err
		}
		for _, sp := range spans {
			sp.Start += seg.offset
			sp.End += seg.offset
			sp.Source = redact.SourceModel
			if sp.Confidence <= 0 {
				// Backend exposes no score for this span; patterns and
				// scoreless models are treated alike downstream.
				sp.Confidence = 1.0
			}
			out = append(out, sp)
		}
	}
	return out, nil
}

func (r *Recognizer) detectSegment(ctx context.Context, text string) ([]redact.Span, error) {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return r.backend.Detect(ctx, text)
}

// segment is one chunk of input with its global byte offset.
type segment struct {
	text   string
	offset int
}

// split cuts text into non-overlapping segments of at most limit bytes,
// preferring to break after the last whitespace inside the window. A
// window with no whitespace is split at the limit, backed off to a rune
// boundary so no UTF-8 sequence is torn apart. limit <= 0 disables
// splitting.
func split(text string, limit int) []segment {
	if limit <= 0 || len(text) <= limit {
		return []segment{{text: text}}
	}

	var segs []segment
	pos := 0
	for pos < len(text) {
		remaining := len(text) - pos
		if remaining <= limit {
			segs = append(segs, segment{text: text[pos:], offset: pos})
			break
		}

		cut := lastWhitespace(text[pos : pos+limit])
		if cut <= 0 {
			cut = limit
			for cut > 1 && text[pos+cut]&0xC0 == 0x80 {
				cut--
			}
		}
		segs = append(segs, segment{text: text[pos : pos+cut], offset: pos})
		pos += cut
	}
	return segs
}

// lastWhitespace returns the index just past the last ASCII whitespace
// byte in s, or 0 if there is none.
func lastWhitespace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			return i + 1
		}
	}
	return 0
}
