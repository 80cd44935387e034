// Package ollama implements the entity recognizer backend on top of an
// Ollama-served model. The loadable model resource is a JSON manifest
// carrying the base model name, the trained label set, and few-shot
// examples produced by the training pipeline.
//
// The model is asked to return the sensitive strings verbatim with their
// labels rather than byte offsets, because language models get offsets
// wrong; occurrences are located in the original text here.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/mhollis/veil/internal/redact"
)

// ErrUnavailable indicates the Ollama server or the model resource could
// not be reached or loaded.
var ErrUnavailable = errors.New("ollama recognizer is not available")

// Config holds Ollama-specific configuration.
type Config struct {
	// Host is the Ollama API endpoint. Empty uses OLLAMA_HOST or the
	// default http://localhost:11434.
	Host string

	// Resource is the path to the model resource manifest.
	Resource string
}

// Manifest is the persisted model resource.
type Manifest struct {
	Version   string   `json:"version"`
	BaseModel string   `json:"base_model"`
	Labels    []string `json:"labels"`
	Examples  []Shot   `json:"examples"`
}

// Shot is one few-shot example embedded in the manifest.
type Shot struct {
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Entity is one labeled value, given verbatim.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Recognizer detects PII entities via an Ollama chat model.
type Recognizer struct {
	client   *api.Client
	manifest Manifest
	system   string
	logger   *slog.Logger
}

// heartbeatTimeout bounds the construction-time reachability check.
const heartbeatTimeout = 5 * time.Second

// New loads the model resource manifest and verifies the Ollama server is
// reachable. It fails fast rather than degrading to an empty detector, so
// callers can distinguish "found nothing" from "recognizer unavailable".
func New(cfg Config, logger *slog.Logger) (*Recognizer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	manifest, err := LoadManifest(cfg.Resource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		logger.Error("failed to create ollama client from environment", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if cfg.Host != "" {
		parsedURL, err := url.Parse(cfg.Host)
		if err != nil {
			logger.Error("invalid ollama host URL", "host", cfg.Host, "error", err)
			return nil, fmt.Errorf("%w: invalid host: %v", ErrUnavailable, err)
		}
		client = api.NewClient(parsedURL, http.DefaultClient)
		logger.Debug("created ollama client with explicit host", "host", cfg.Host)
	}

	ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
	defer cancel()
	if err := client.Heartbeat(ctx); err != nil {
		logger.Error("ollama heartbeat failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r := &Recognizer{
		client:   client,
		manifest: manifest,
		system:   buildSystemPrompt(manifest),
		logger:   logger,
	}
	logger.Info("loaded entity recognizer resource",
		"resource", cfg.Resource,
		"version", manifest.Version,
		"model", manifest.BaseModel)
	return r, nil
}

// LoadManifest reads and validates a model resource manifest.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read model resource: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse model resource: %w", err)
	}
	if m.BaseModel == "" {
		return m, errors.New("model resource has no base_model")
	}
	if len(m.Labels) == 0 {
		return m, errors.New("model resource has no labels")
	}
	return m, nil
}

// Version returns the loaded resource version.
func (r *Recognizer) Version() string { return r.manifest.Version }

// Detect asks the model for labeled PII values in text and maps each
// occurrence back to byte offsets. The model does not expose calibrated
// scores, so spans carry confidence 0 and the caller applies the default.
func (r *Recognizer) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	req := &api.ChatRequest{
		Model: r.manifest.BaseModel,
		Messages: []api.Message{
			{Role: "system", Content: r.system},
			{Role: "user", Content: text},
		},
		Options: map[string]interface{}{
			"temperature": float32(0),
		},
		Stream: new(bool), // false - we want the complete response
	}

	var response api.ChatResponse
	err := r.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		r.logger.Error("entity recognition request failed", "error", err, "model", r.manifest.BaseModel)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entities, err := parseEntities(response.Message.Content)
	if err != nil {
		r.logger.Warn("could not parse recognizer output", "error", err)
		return nil, nil
	}
	return locate(text, entities), nil
}

// buildSystemPrompt renders the detection instruction with the manifest's
// label set and few-shot examples.
func buildSystemPrompt(m Manifest) string {
	var b strings.Builder
	b.WriteString("Extract personally identifiable information from the user's text.\n")
	b.WriteString("Return ONLY a JSON array of objects {\"text\": <exact substring>, \"label\": <one of ")
	b.WriteString(strings.Join(m.Labels, ", "))
	b.WriteString(">}. Return [] if nothing is found. Copy each value exactly as it appears.\n")

	for _, shot := range m.Examples {
		ents, _ := json.Marshal(shot.Entities)
		fmt.Fprintf(&b, "\nInput: %s\nOutput: %s\n", shot.Text, ents)
	}
	return b.String()
}

// parseEntities extracts the JSON entity array from model output,
// tolerating code fences and surrounding prose.
func parseEntities(content string) ([]Entity, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if !strings.HasPrefix(content, "[") {
		content = extractJSONArray(content)
	}
	var entities []Entity
	if err := json.Unmarshal([]byte(content), &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// locate finds every occurrence of each returned value in the original
// text, skipping values with unknown labels and matches that land inside
// a longer word.
func locate(text string, entities []Entity) []redact.Span {
	var spans []redact.Span
	for _, ent := range entities {
		value := strings.TrimSpace(ent.Text)
		if value == "" {
			continue
		}
		label, err := redact.ParseLabel(ent.Label)
		if err != nil {
			continue
		}
		start := 0
		for {
			idx := strings.Index(text[start:], value)
			if idx < 0 {
				break
			}
			abs := start + idx
			end := abs + len(value)
			if insideWord(text, abs, end) {
				start = abs + 1
				continue
			}
			spans = append(spans, redact.Span{
				Start:  abs,
				End:    end,
				Label:  label,
				Source: redact.SourceModel,
			})
			start = end
		}
	}
	return spans
}

// insideWord reports whether [start,end) is a substring of a longer word,
// e.g. "ann" inside "Manning".
func insideWord(text string, start, end int) bool {
	if start > 0 && !isBoundary(text[start-1]) {
		return true
	}
	if end < len(text) && !isBoundary(text[end]) {
		return true
	}
	return false
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '.', ',', ';', ':', '!', '?', '<', '>', '(', ')', '[', ']', '{', '}', '"', '\'', '`':
		return true
	}
	return false
}

// extractJSONArray finds the first [...] substring in s.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "]")
	if end < start {
		return s
	}
	return s[start : end+1]
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
