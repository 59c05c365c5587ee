package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/entries"
	"github.com/af-corp/hass-agent/internal/httputil"
)

type entryView struct {
	entries.Entry
	Loaded bool `json:"loaded"`
}

type createEntryRequest struct {
	Name         string   `json:"name"`
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url"`
	Model        string   `json:"model"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  *float64 `json:"temperature"`
	Language     string   `json:"language"`
	SystemPrompt string   `json:"system_prompt"`
}

func (c createEntryRequest) data() entries.Data {
	d := entries.Data{
		Name:         c.Name,
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		Model:        c.Model,
		MaxTokens:    c.MaxTokens,
		Temperature:  config.DefaultTemperature,
		Language:     c.Language,
		SystemPrompt: c.SystemPrompt,
	}
	if c.Temperature != nil {
		d.Temperature = *c.Temperature
	}
	return d.WithDefaults()
}

func (h *Handler) view(e entries.Entry) entryView {
	_, loaded := h.registry.Get(e.ID)
	return entryView{Entry: e.Masked(), Loaded: loaded}
}

// ListEntries handles GET /api/entries.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list config entries failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to list config entries")
		return
	}
	out := make([]entryView, 0, len(list))
	for _, e := range list {
		out = append(out, h.view(e))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// GetEntry handles GET /api/entries/{id}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	e, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, entries.ErrNotFound) {
			h.logger.Error("get config entry failed", "request_id", reqID, "error", err)
		}
		writeSetupError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.view(*e))
}

// CreateEntry handles POST /api/entries: validate, persist, set up.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createEntryRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	data := req.data()
	if err := entries.Validate(data, entries.Options{}); err != nil {
		writeSetupError(w, reqID, err)
		return
	}

	e, err := h.store.Create(r.Context(), data)
	if err != nil {
		h.logger.Error("create config entry failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to store config entry")
		return
	}
	if _, err := h.registry.Setup(e.ID, e.Settings()); err != nil {
		h.logger.Error("config entry setup failed", "request_id", reqID, "entry_id", e.ID, "error", err)
	}

	h.logger.Info("config entry created", "request_id", reqID, "entry_id", e.ID, "name", e.Data.Name)
	httputil.WriteJSON(w, http.StatusCreated, h.view(*e))
}

// UpdateOptions handles PATCH /api/entries/{id}/options and reloads the
// entry's agent.
func (h *Handler) UpdateOptions(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var opts entries.Options
	if !decodeBody(w, r, reqID, &opts) {
		return
	}

	current, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeSetupError(w, reqID, err)
		return
	}
	if err := entries.Validate(current.Data, current.Options.Merge(opts)); err != nil {
		writeSetupError(w, reqID, err)
		return
	}

	e, err := h.store.UpdateOptions(r.Context(), id, opts)
	if err != nil {
		if !errors.Is(err, entries.ErrNotFound) {
			h.logger.Error("update config entry failed", "request_id", reqID, "entry_id", id, "error", err)
		}
		writeSetupError(w, reqID, err)
		return
	}
	if _, err := h.registry.Setup(e.ID, e.Settings()); err != nil {
		h.logger.Error("config entry reload failed", "request_id", reqID, "entry_id", e.ID, "error", err)
	}

	h.logger.Info("config entry options updated", "request_id", reqID, "entry_id", e.ID)
	httputil.WriteJSON(w, http.StatusOK, h.view(*e))
}

// DeleteEntry handles DELETE /api/entries/{id}: tear down, then remove.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	h.registry.Teardown(id)
	if err := h.store.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, entries.ErrNotFound) {
			h.logger.Error("delete config entry failed", "request_id", reqID, "entry_id", id, "error", err)
		}
		writeSetupError(w, reqID, err)
		return
	}

	h.logger.Info("config entry removed", "request_id", reqID, "entry_id", id)
	w.WriteHeader(http.StatusNoContent)
}
