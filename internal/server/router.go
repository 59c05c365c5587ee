package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/hass-agent/internal/auth"
)

// NewRouter wires the handlers. metrics may be nil.
func NewRouter(h *Handler, tokens *auth.TokenSet, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	// Unauthenticated routes
	r.Get("/health", h.Health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokens))

		r.Route("/api/conversation/{entry_id}", func(r chi.Router) {
			r.Post("/process", h.Process)
			r.Delete("/sessions/{conversation_id}", h.ResetSession)
			r.Get("/languages", h.Languages)
		})

		r.Route("/api/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Get("/{id}", h.GetEntry)
			r.Patch("/{id}/options", h.UpdateOptions)
			r.Delete("/{id}", h.DeleteEntry)
		})
	})

	return r
}
