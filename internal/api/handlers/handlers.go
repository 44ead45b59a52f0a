// Package handlers implements the HTTP handlers for the AgentDock API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentoven/agentdock/internal/api/middleware"
	"github.com/agentoven/agentdock/internal/dispatch"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/ingest"
	"github.com/agentoven/agentdock/internal/lifecycle"
	"github.com/agentoven/agentdock/internal/oauth"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxUploadBytes bounds multipart training uploads when unset.
const DefaultMaxUploadBytes = 100 << 20

// maxWebhookBytes bounds inbound webhook bodies.
const maxWebhookBytes = 5 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Store          store.Store
	Lifecycle      *lifecycle.Manager
	Pipeline       *ingest.Pipeline
	Dispatch       *dispatch.Service
	OAuth          *oauth.Flow
	MaxUploadBytes int64
}

func (h *Handlers) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

// ownedAgent loads an agent and hides agents of other users.
func (h *Handlers) ownedAgent(r *http.Request, id string) (*models.Agent, error) {
	agent, err := h.Store.GetAgent(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if agent.UserID != middleware.GetUserID(r.Context()) {
		return nil, &errs.NotFoundError{Entity: "agent", Key: id}
	}
	return agent, nil
}

// ── Responses ───────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a domain error onto its HTTP status.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	body := map[string]any{"error": err.Error()}
	var ie *errs.IngestionError
	if errors.As(err, &ie) && len(ie.Details) > 0 {
		body["details"] = ie.Details
	}
	respondJSON(w, status, body)
}

// StatusFor returns the HTTP status for a domain error.
func StatusFor(err error) int {
	switch {
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsPrecondition(err), errs.IsInvalidTransition(err):
		return http.StatusConflict
	case errs.IsConfiguration(err), errs.IsIngestion(err),
		errs.IsUnsupportedPlatform(err), errs.IsPlatformMismatch(err):
		return http.StatusBadRequest
	case errs.IsSignature(err):
		return http.StatusUnauthorized
	case errs.IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
