package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/examvault/internal/clock"
	"github.com/starford/examvault/internal/ledger"
	"github.com/starford/examvault/internal/lifecycle"
)

// AuthConfig selects how API requests are authenticated.
type AuthConfig struct {
	// Enabled requires the token on every route.
	Enabled bool
	// Token is the shared bearer token. Rebuild always requires it.
	Token string
}

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(docs *lifecycle.Coordinator, chain *ledger.Engine, clk clock.Clock, auth AuthConfig, sseHandler http.Handler) chi.Router {
	h := NewHandler(docs, chain, clk)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth.Enabled, auth.Token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.UploadDocument)
	r.Get("/documents/{id}", h.GetDocument)
	r.Post("/documents/{id}/encrypt", h.EncryptDocument)
	r.Get("/documents/{id}/content", h.DocumentContent)

	// Ledger.
	r.Get("/ledger/chain", h.Chain)
	r.Get("/ledger/verify", h.Verify)
	r.Get("/ledger/history/{subjectID}", h.History)
	r.With(RequireAdmin(auth.Token)).Post("/ledger/rebuild", h.Rebuild)

	r.Get("/stats", h.Stats)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
