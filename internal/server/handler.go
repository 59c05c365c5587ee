package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/hass-agent/internal/auth"
	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/conversation"
	"github.com/af-corp/hass-agent/internal/entries"
	"github.com/af-corp/hass-agent/internal/httputil"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	registry *conversation.Registry
	store    entries.Store
	version  string
	logger   *slog.Logger
}

func NewHandler(registry *conversation.Registry, store entries.Store, version string, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		version:  version,
		logger:   logger,
	}
}

// SetupAll builds an agent for every stored entry. Entries that fail setup
// are logged and skipped; the count of agents set up is returned.
func (h *Handler) SetupAll(ctx context.Context) (int, error) {
	list, err := h.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range list {
		if _, err := h.registry.Setup(e.ID, e.Settings()); err != nil {
			h.logger.Error("config entry setup failed", "entry_id", e.ID, "name", e.Data.Name, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

type processRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language"`
}

// Process handles POST /api/conversation/{entry_id}/process. A failed turn is
// still a 200: the failure is part of the conversation result.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	agent, ok := h.agent(w, r)
	if !ok {
		return
	}

	var req processRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		httputil.WriteBadRequestError(w, reqID, "text is required")
		return
	}

	attrs := []any{
		"request_id", reqID,
		"entry_id", agent.EntryID(),
		"conversation_id", req.ConversationID,
		"language", req.Language,
	}
	if caller, ok := auth.CallerFromContext(r.Context()); ok {
		attrs = append(attrs, "token_prefix", caller.TokenPrefix)
	}
	h.logger.Debug("processing utterance", attrs...)

	result := agent.Process(r.Context(), req.ConversationID, req.Text)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// ResetSession handles DELETE /api/conversation/{entry_id}/sessions/{conversation_id}.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	agent.Reset(chi.URLParam(r, "conversation_id"))
	w.WriteHeader(http.StatusNoContent)
}

// Languages handles GET /api/conversation/{entry_id}/languages.
func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{
		"languages": agent.SupportedLanguages(),
	})
}

func (h *Handler) agent(w http.ResponseWriter, r *http.Request) (*conversation.Agent, bool) {
	entryID := chi.URLParam(r, "entry_id")
	agent, ok := h.registry.Get(entryID)
	if !ok {
		httputil.WriteNotFoundError(w, RequestIDFromContext(r.Context()), "No conversation agent for entry "+entryID)
		return nil, false
	}
	return agent, true
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": h.version,
		"agents":  h.registry.IDs(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, reqID string, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeSetupError maps setup and validation failures to responses.
func writeSetupError(w http.ResponseWriter, reqID string, err error) {
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		httputil.WriteConfigurationError(w, reqID, cfgErr.Field, cfgErr.Error())
		return
	}
	if errors.Is(err, entries.ErrNotFound) {
		httputil.WriteNotFoundError(w, reqID, "Config entry not found")
		return
	}
	httputil.WriteInternalError(w, reqID, "Internal error")
}
