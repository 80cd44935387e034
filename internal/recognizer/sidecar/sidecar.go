// Package sidecar implements the entity recognizer backend as a client
// for an external NER service exposing /classify and /train over HTTP.
// Unlike a best-effort enrichment layer, a dead sidecar is an error: the
// caller decides whether pattern-only operation is acceptable.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mhollis/veil/internal/extract"
	"github.com/mhollis/veil/internal/redact"
)

// ErrUnavailable indicates the sidecar could not be reached.
var ErrUnavailable = errors.New("ner sidecar is not available")

// Client calls the NER sidecar's endpoints.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client for the given base URL (e.g. "http://ner:8001")
// and verifies the sidecar is healthy. Fails fast on an unreachable or
// unhealthy sidecar.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: no url configured", ErrUnavailable)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.health(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []wireSpan `json:"spans"`
}

type wireSpan struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Detect sends text to /classify and returns the detected spans. Spans
// with labels outside the recognized set are dropped with a debug log.
// Safe for concurrent use.
func (c *Client) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("sidecar: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sidecar: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: classify returned %d", ErrUnavailable, resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sidecar: decode: %w", err)
	}

	spans := make([]redact.Span, 0, len(result.Spans))
	for _, s := range result.Spans {
		label, err := redact.ParseLabel(s.Label)
		if err != nil {
			c.logger.Debug("sidecar returned unknown label", "label", s.Label)
			continue
		}
		spans = append(spans, redact.Span{
			Start:      s.Start,
			End:        s.End,
			Label:      label,
			Source:     redact.SourceModel,
			Confidence: s.Score,
		})
	}
	return spans, nil
}

type trainRequest struct {
	Examples []extract.Example `json:"examples"`
}

type trainResponse struct {
	Version string `json:"version"`
}

// Train submits training examples to /train and returns the version of
// the model resource the sidecar built. The sidecar owns the artifact
// format; the version string is the resource handle.
func (c *Client) Train(ctx context.Context, examples []extract.Example) (string, error) {
	body, err := json.Marshal(trainRequest{Examples: examples})
	if err != nil {
		return "", fmt.Errorf("sidecar: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/train", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sidecar: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: train returned %d", ErrUnavailable, resp.StatusCode)
	}

	var result trainResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("sidecar: decode: %w", err)
	}
	return result.Version, nil
}
