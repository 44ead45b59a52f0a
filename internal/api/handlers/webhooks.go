package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Webhook receives an inbound platform event. GET requests (Twitter CRC
// checks) carry their payload in the query string.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	platformName := chi.URLParam(r, "platform")
	deploymentID := chi.URLParam(r, "deploymentId")

	// Unknown platforms are rejected by dispatch like any other failure.
	platform, ok := models.ParsePlatform(platformName)
	if !ok {
		platform = models.Platform(platformName)
	}

	var (
		raw     []byte
		payload json.RawMessage
	)
	if r.Method == http.MethodGet {
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				q[k] = v[0]
			}
		}
		payload, _ = json.Marshal(q)
		raw = payload
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			respondError(w, http.StatusRequestEntityTooLarge, "webhook body too large")
			return
		}
		raw = body
	}

	result, err := h.Dispatch.HandleWebhook(r.Context(), platform, deploymentID, payload, r.Header, raw)
	if err != nil {
		// Verification failures share the 500 path; only the log level differs.
		if errs.IsSignature(err) {
			log.Warn().Str("platform", platformName).Str("deployment", deploymentID).Err(err).Msg("Webhook rejected")
			respondError(w, http.StatusInternalServerError, "webhook processing failed")
			return
		}
		log.Error().Str("platform", platformName).Str("deployment", deploymentID).Err(err).Msg("Webhook failed")
		respondError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}

	if result.Response != nil {
		status := result.Response.Status
		if status == 0 {
			status = http.StatusOK
		}
		respondJSON(w, status, result.Response.Body)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
