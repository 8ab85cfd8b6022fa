// Package http exposes the engine over a REST surface: session lifecycle,
// cell execution (sync or SSE streaming), interrupt and restart.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/kernel"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed openapi.yaml
var specYAML []byte

// Engine is the slice of the kiln engine the server needs.
type Engine interface {
	Connect(ctx context.Context, opts ...kiln.ConnectOption) (*kernel.Session, error)
}

// Server owns the active sessions created over HTTP.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	version string

	mu       sync.Mutex
	sessions map[string]*kernel.Session
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion reports the given engine version from /version.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates the server around an engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		logger:   logging.NewNop(),
		version:  kiln.Version,
		sessions: make(map[string]*kernel.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the chi router for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.health)
	r.Get("/version", s.versionInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(specYAML)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/execute", s.execute)
			r.Post("/interrupt", s.interrupt)
			r.Post("/restart", s.restart)
		})
	})
	return r
}

// Close disposes every session the server still owns.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*kernel.Session)
	s.mu.Unlock()

	for id, sess := range sessions {
		if err := sess.Close(); err != nil {
			s.logger.Warn("failed to close session", "session_id", id, "err", err)
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// versionInfo reports the engine version plus the API version declared in
// the embedded OpenAPI document.
func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := ""
	loader := openapi3.NewLoader()
	if doc, err := loader.LoadFromData(specYAML); err == nil && doc.Info != nil {
		apiVersion = doc.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version":     s.version,
		"api_version": apiVersion,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, ids)
}

type createSessionRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	var opts []kiln.ConnectOption
	if body.SessionID != "" {
		opts = append(opts, kiln.WithSessionID(body.SessionID))
	}
	if len(body.Overrides) > 0 {
		opts = append(opts, kiln.WithLaunchOverrides(body.Overrides))
	}

	sess, err := s.engine.Connect(r.Context(), opts...)
	if err != nil {
		if err == domain.ErrNoUsableEnvironment {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf("Connect error: %v", err), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, sessionInfo(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	if err := sess.Close(); err != nil {
		s.logger.Warn("failed to close session", "session_id", id, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Source string `json:"source"`
	Kind   string `json:"kind,omitempty"`
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	kind := domain.CellKindCode
	if body.Kind == string(domain.CellKindMarkdown) {
		kind = domain.CellKindMarkdown
	}
	cell := domain.NewCell(kind, body.Source, "", 0)

	if r.Header.Get("Accept") == "text/event-stream" {
		s.executeSSE(w, r, sess, cell)
		return
	}

	stream := sess.ExecuteCell(r.Context(), cell)
	var final *domain.Cell
	for snap := range stream.Snapshots() {
		final = snap
	}
	if err := stream.Err(); err != nil {
		if err == domain.ErrDisconnected {
			http.Error(w, "Kernel connection lost", http.StatusBadGateway)
			return
		}
		http.Error(w, fmt.Sprintf("Execute error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

// executeSSE streams accumulated cell snapshots as server-sent events.
func (s *Server) executeSSE(w http.ResponseWriter, r *http.Request, sess *kernel.Session, cell *domain.Cell) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	stream := sess.ExecuteCell(r.Context(), cell)
	for snap := range stream.Snapshots() {
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
		flusher.Flush()
	}
	if err := stream.Err(); err != nil {
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
		flusher.Flush()
	}
}

func (s *Server) interrupt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	if err := sess.InterruptKernel(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Interrupt error: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	if err := sess.RestartKernel(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Restart error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo(sess))
}

func (s *Server) lookup(id string) (*kernel.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func sessionInfo(sess *kernel.Session) map[string]any {
	info := map[string]any{
		"session_id":  sess.ID(),
		"environment": sess.Environment().String(),
		"status":      string(sess.Status()),
	}
	if rec := sess.Record(); rec != nil {
		info["restarts"] = rec.Restarts
	}
	return info
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("response encode error: %v\n", err)
	}
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Kiln API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`
