// Package api exposes the redaction engine's two primitives over HTTP:
// single-text and batch redaction, plus a health endpoint. The transport
// stays thin; all merge/resolve/substitute logic lives in the engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mhollis/veil/internal/redact"
)

// Server holds the HTTP handlers around a redaction engine. The engine is
// swappable at runtime for config hot reload; requests always see a fully
// constructed engine.
type Server struct {
	engine  atomic.Pointer[redact.Engine]
	version string
	logger  *slog.Logger
}

// NewServer creates a Server for the given engine.
func NewServer(engine *redact.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{version: version, logger: logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.engine.Store(engine)
	return s
}

// SetEngine atomically replaces the engine, e.g. after a pattern
// configuration reload. In-flight requests finish on the old engine.
func (s *Server) SetEngine(engine *redact.Engine) {
	s.engine.Store(engine)
}

// Router builds the chi router with request-ID and logging middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/redact", s.handleRedact)
	r.Post("/redact/batch", s.handleRedactBatch)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type redactRequest struct {
	Text string `json:"text"`
}

type redactResponse struct {
	RedactedText string        `json:"redacted_text"`
	Spans        []redact.Span `json:"spans,omitempty"`
}

type batchRedactRequest struct {
	Texts []string `json:"texts"`
}

// batchDocument is the per-document result variant: either RedactedText
// or Error is set, never both.
type batchDocument struct {
	RedactedText *string `json:"redacted_text,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type batchRedactResponse struct {
	Results []batchDocument `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.version})
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := s.engine.Load().Redact(r.Context(), req.Text)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactResponse{RedactedText: result.Redacted, Spans: result.Spans})
}

func (s *Server) handleRedactBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRedactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	items := s.engine.Load().RedactBatch(r.Context(), req.Texts)
	resp := batchRedactResponse{Results: make([]batchDocument, len(items))}
	for i, item := range items {
		if item.Err != nil {
			resp.Results[i] = batchDocument{Error: item.Err.Error()}
			continue
		}
		redacted := item.Result.Redacted
		resp.Results[i] = batchDocument{RedactedText: &redacted}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var tooLarge *redact.InputTooLargeError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: tooLarge.Error()})
	default:
		s.logger.Error("redaction failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
