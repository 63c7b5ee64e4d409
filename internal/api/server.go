// Package api implements the HTTP surface: chat, transcript and
// memory listings, backup transfer, and a WebSocket event stream.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/novakit/nova/internal/backup"
	"github.com/novakit/nova/internal/buildinfo"
	"github.com/novakit/nova/internal/engine"
	"github.com/novakit/nova/internal/events"
	"github.com/novakit/nova/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	engine  *engine.Engine
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, eng *engine.Engine, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		engine:  eng,
		bus:     bus,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Conversation endpoints
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/audio", s.handleChatAudio)
	mux.HandleFunc("GET /v1/transcript", s.handleTranscript)
	mux.HandleFunc("GET /v1/memories", s.handleMemories)

	// Backup endpoints
	mux.HandleFunc("GET /v1/backup/export", s.handleBackupExport)
	mux.HandleFunc("POST /v1/backup/import", s.handleBackupImport)

	// Event stream
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the event stream holds connections open
	}

	errCh := make(chan error, 1)
	go func() {
		addr := s.address
		if addr == "" {
			addr = "0.0.0.0"
		}
		s.logger.Info("starting API server", "address", addr, "port", s.port)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
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

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// ChatRequest is the POST /v1/chat body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the committed user message and the reply.
type ChatResponse struct {
	Reply *session.Message `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := s.engine.ProcessText(r.Context(), req.Message)
	if err == engine.ErrEmptyMessage {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "chat error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{Reply: reply}, s.logger)
}

// ChatAudioRequest is the POST /v1/chat/audio body. Audio travels as
// base64 since this is a JSON API.
type ChatAudioRequest struct {
	Audio    string `json:"audio"`
	MimeType string `json:"mime_type"`
}

func (s *Server) handleChatAudio(w http.ResponseWriter, r *http.Request) {
	var req ChatAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "audio must be base64")
		return
	}
	if len(audio) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "audio is required")
		return
	}

	reply, err := s.engine.ProcessAudio(r.Context(), audio, req.MimeType)
	if err == engine.ErrNothingHeard {
		s.errorResponse(w, http.StatusUnprocessableEntity, "I didn't catch that. Try speaking again.")
		return
	}
	if err != nil {
		s.logger.Error("audio turn failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "chat error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{Reply: reply}, s.logger)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages := s.engine.State().Messages()

	if r.URL.Query().Get("format") == "html" {
		html, err := transcriptHTML(messages)
		if err != nil {
			s.logger.Error("transcript render failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "render error")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"messages": messages,
		"typing":   s.engine.Typing(),
	}, s.logger)
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"memories":   s.engine.State().MemoriesNewestFirst(),
		"processing": s.engine.Processing(),
	}, s.logger)
}

func (s *Server) handleBackupExport(w http.ResponseWriter, r *http.Request) {
	doc := backup.Export(s.engine.State().Memories(), s.engine.State().Messages())
	data, err := doc.Marshal()
	if err != nil {
		s.logger.Error("backup export failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "export error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", backup.Filename(time.Now())))
	w.Write(data)
}

// handleBackupImport is two-step: a request without confirm=true only
// validates and reports counts (409), so the caller can show a real
// confirmation dialog before resubmitting with confirm=true.
func (s *Server) handleBackupImport(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	confirmed := r.URL.Query().Get("confirm") == "true"
	doc, applied, err := backup.Import(r.Context(), raw,
		func(memories, messages int) (bool, error) { return confirmed, nil },
		s.engine)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if !applied {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		writeJSON(w, map[string]any{
			"confirm_required": true,
			"memories":         len(doc.Memories),
			"messages":         len(doc.Messages),
		}, s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"imported": true,
		"memories": len(doc.Memories),
		"messages": len(doc.Messages),
	}, s.logger)
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Nova",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
