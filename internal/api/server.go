// Package api implements Think's HTTP API: the streaming agent run
// endpoint, chat history, the drive and token usage.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/gorilla/websocket"

	"github.com/nugget/think-ai-agent/internal/agent"
	"github.com/nugget/think-ai-agent/internal/buildinfo"
	"github.com/nugget/think-ai-agent/internal/connwatch"
	"github.com/nugget/think-ai-agent/internal/memory"
	"github.com/nugget/think-ai-agent/internal/tools"
)

// writeTimeout bounds each write. Streaming handlers push it forward
// after every event so long tool loops do not trip it.
const writeTimeout = 120 * time.Second

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runner executes one agent run, emitting events as it goes.
// [agent.Coordinator] is the production implementation.
type Runner interface {
	Run(ctx context.Context, req agent.Request, emit agent.EmitFunc) (*agent.Result, error)
}

// HealthChecker reports provider reachability for /health.
// [connwatch.Monitor] is the production implementation.
type HealthChecker interface {
	Ready() bool
	Status() map[string]connwatch.Status
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	runner   Runner
	store    *memory.Store
	files    *tools.FileTools
	health   HealthChecker
	usage    UsageReporter
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates an API server. files may be nil, in which case the
// drive and WebDAV endpoints are not mounted.
func NewServer(address string, port int, runner Runner, store *memory.Store, files *tools.FileTools, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		runner:  runner,
		store:   store,
		files:   files,
		logger:  logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// SetHealth adds provider status to /health.
func (s *Server) SetHealth(h HealthChecker) {
	s.health = h
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agent runs
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)

	// History
	mux.HandleFunc("GET /api/chats", s.handleChatList)
	mux.HandleFunc("GET /api/chats/{id}", s.handleChatGet)
	mux.HandleFunc("PATCH /api/chats/{id}", s.handleChatRename)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleChatDelete)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleChatMessages)
	mux.HandleFunc("GET /api/chats/{id}/tree", s.handleChatTree)
	mux.HandleFunc("GET /api/chats/{id}/summary", s.handleChatSummary)
	mux.HandleFunc("GET /api/messages/{id}/thread", s.handleThread)

	// Token usage
	if s.usage != nil {
		mux.HandleFunc("GET /api/usage", s.handleUsage)
		mux.HandleFunc("GET /api/chats/{id}/usage", s.handleChatUsage)
	}

	// Drive
	if s.files != nil {
		mux.HandleFunc("GET /api/drive", s.handleDriveList)
		mux.HandleFunc("POST /api/drive", s.handleDriveMkdir)
		mux.HandleFunc("POST /api/drive/mkdir", s.handleDriveMkdir)
		mux.HandleFunc("GET /api/file", s.handleFileRead)
		mux.HandleFunc("PUT /api/file", s.handleFileWrite)
		mux.HandleFunc("POST /api/file", s.handleFileWrite)
		mux.HandleFunc("PATCH /api/file", s.handleFileRename)
		mux.HandleFunc("POST /api/file/rename", s.handleFileRename)
		mux.HandleFunc("GET /api/file/preview", s.handleFilePreview)
		mux.Handle("/dav/", http.StripPrefix("/dav", &webdav.Handler{
			FileSystem: webdav.LocalFileSystem(s.files.Root()),
		}))
	}

	// Health
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start starts the HTTP server and blocks until it stops. A clean
// [Server.Shutdown] returns nil.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Think",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth always answers 200 while the process is up. An
// unreachable provider only downgrades the status to "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"status": "healthy"}
	if s.health != nil {
		if !s.health.Ready() {
			resp["status"] = "degraded"
		}
		resp["providers"] = s.health.Status()
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}

// storeError maps a store failure to a response: missing records are
// 404, everything else is logged and reported as 500.
func (s *Server) storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, memory.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error("store request failed", "what", what, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes a JSON request body of at most 10 MiB.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	return json.NewDecoder(r.Body).Decode(v)
}
