package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/docchat/internal/conversation"
	"github.com/MikeSquared-Agency/docchat/internal/events"
	"github.com/MikeSquared-Agency/docchat/internal/session"
)

// maxUploadBytes mirrors the backend's own upload limit.
const maxUploadBytes = 64 << 20

// Server is the local control surface for a session: transcript, status,
// document upload, query submission and a live reveal feed.
type Server struct {
	router  *chi.Mux
	port    int
	session *session.Session
	hub     *events.Hub
	logger  *slog.Logger

	// base scopes streams started through the API; they outlive the request.
	base    context.Context
	httpSrv *http.Server

	// lookup finds one entry; tests replace it.
	lookup func(uuid.UUID) (conversation.Entry, error)
}

func NewServer(base context.Context, port int, sess *session.Session, hub *events.Hub, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		session: sess,
		hub:     hub,
		logger:  logger,
		base:    base,
		lookup:  sess.Entry,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/docchat/status", s.status)
		r.Get("/conversations", s.listConversations)
		r.Get("/conversations/{id}", s.getConversation)
		r.Get("/history", s.history)
		r.Post("/document", s.uploadDocument)
		r.Post("/query", s.submitQuery)
		r.Get("/stream", s.stream)
	})

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "status": status})
}
