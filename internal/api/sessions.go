// Package api exposes the document assistant over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/indranilweb/ai-document-assistant/internal/conversation"
	"github.com/indranilweb/ai-document-assistant/internal/extract"
	"github.com/indranilweb/ai-document-assistant/internal/index"
	"github.com/indranilweb/ai-document-assistant/internal/session"
	"github.com/indranilweb/ai-document-assistant/internal/storage"
)

const maxUploadSize = 50 << 20 // 50MB across all files in one upload
const maxRequestBodySize = 1 << 20

// InteractionLister is the slice of the interaction log the API reads.
// Implemented by storage.Store; nil disables the /interactions route.
type InteractionLister interface {
	ListInteractions(limit, offset int) ([]storage.Interaction, error)
}

type Deps struct {
	Manager      *session.Manager
	Interactions InteractionLister
}

// NewHandler builds the HTTP router for the session API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/sessions", handleCreateSession(deps))
	r.Get("/sessions", handleListSessions(deps))
	r.Get("/sessions/{id}", handleGetSession(deps))
	r.Post("/sessions/{id}/chat", handleChat(deps))
	r.Delete("/sessions/{id}", handleDeleteSession(deps))
	if deps.Interactions != nil {
		r.Get("/interactions", handleListInteractions(deps))
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// sessionView is the wire form of session metadata.
type sessionView struct {
	SessionID  string              `json:"session_id"`
	Documents  []string            `json:"documents"`
	Transcript []conversation.Turn `json:"transcript"`
	Hydration  string              `json:"hydration"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func toView(meta session.Metadata, state session.HydrationState) sessionView {
	v := sessionView{
		SessionID:  meta.ID,
		Documents:  meta.Documents,
		Transcript: meta.Transcript,
		Hydration:  string(state),
		UpdatedAt:  meta.UpdatedAt,
	}
	if v.Documents == nil {
		v.Documents = []string{}
	}
	if v.Transcript == nil {
		v.Transcript = []conversation.Turn{}
	}
	return v
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no files provided")
			return
		}

		files := make([]extract.File, 0, len(headers))
		for _, fh := range headers {
			data, err := readUpload(fh)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload %q: %v", fh.Filename, err)
				return
			}
			files = append(files, extract.File{Name: fh.Filename, Data: data})
		}

		meta, err := deps.Manager.CreateSession(r.Context(), files)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": meta.ID,
			"documents":  meta.Documents,
		})
	}
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type chatRequest struct {
	Question string `json:"question"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		answer, transcript, err := deps.Manager.Chat(r.Context(), id, req.Question)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"answer":     answer,
			"transcript": transcript,
		})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		meta, state, err := deps.Manager.Get(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toView(meta, state))
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := deps.Manager.List()

		views := make([]sessionView, 0, len(sessions))
		for _, meta := range sessions {
			_, state, err := deps.Manager.Get(meta.ID)
			if err != nil {
				state = session.StateCold
			}
			views = append(views, toView(meta, state))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Manager.DeleteSession(id); err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Interactions.ListInteractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

// writeDomainError maps the closed error taxonomy onto HTTP statuses.
// Raw upstream error text stays in the message; the type field is always one
// of the fixed kinds.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyContent),
		errors.Is(err, session.ErrEmptyQuestion):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, session.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, index.ErrEmbeddingUnavailable),
		errors.Is(err, conversation.ErrGenerationUnavailable):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
