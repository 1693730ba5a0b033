package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/docchat/internal/backend"
	"github.com/MikeSquared-Agency/docchat/internal/conversation"
	"github.com/MikeSquared-Agency/docchat/internal/session"
)

// placeholder is shown for an entry whose answer has not started revealing.
const placeholder = "[Typing...]"

// QueryRequest is the payload for POST /api/v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// EntryView is an entry as rendered in the transcript.
type EntryView struct {
	conversation.Entry
	Display string `json:"display"`
}

func view(e conversation.Entry) EntryView {
	display := e.Revealed
	if display == "" {
		display = placeholder
	}
	return EntryView{Entry: e, Display: display}
}

// listConversations handles GET /api/v1/conversations, newest first.
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	entries := s.session.Entries()
	out := make([]EntryView, len(entries))
	for i, e := range entries {
		out[i] = view(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
		"loading": s.session.Loading(),
	})
}

// getConversation handles GET /api/v1/conversations/{id}
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id: %v", err))
		return
	}
	e, err := s.lookup(id)
	if errors.Is(err, conversation.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		s.logger.Error("entry lookup failed", "entry_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "entry lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view(e))
}

// uploadDocument handles POST /api/v1/document with a multipart "file" field.
func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if s.session.Loading() {
		writeError(w, http.StatusConflict, "a response is still streaming")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	if err := s.session.Upload(r.Context(), header.Filename, file); err != nil {
		status := http.StatusBadGateway
		var upErr *backend.UploadError
		if errors.As(err, &upErr) && upErr.StatusCode >= 400 && upErr.StatusCode < 500 {
			status = upErr.StatusCode
		}
		writeError(w, status, "Error uploading PDF: "+err.Error())
		return
	}

	name, text := s.session.Document()
	writeJSON(w, http.StatusOK, map[string]any{
		"document": name,
		"chars":    len(text),
	})
}

// submitQuery handles POST /api/v1/query. The answer streams in the
// background; watch /api/v1/stream or poll /api/v1/conversations.
func (s *Server) submitQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "No query provided")
		return
	}

	// Failures after the start are logged and published by the session.
	switch err := s.session.TryAsk(s.base, req.Query); {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "cannot send: a response is still streaming")
		return
	case errors.Is(err, session.ErrNothingToSend):
		writeError(w, http.StatusConflict, "cannot send: no document loaded")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "streaming"})
}

// history handles GET /api/v1/history, proxying what the backend has stored.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	records, err := s.session.History(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if records == nil {
		records = []backend.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
