package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// OAuthStart redirects to the provider consent screen, or back to the
// dashboard with an error code.
func (h *Handlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	target, err := h.OAuth.Start(r.Context(), platform, r.URL.Query().Get("deploymentId"))
	if err != nil {
		target = h.OAuth.FailureURL(platform, err)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// OAuthCallback completes the code exchange and always redirects to the
// dashboard.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	target := h.OAuth.Callback(r.Context(), chi.URLParam(r, "platform"), r.URL.Query())
	http.Redirect(w, r, target, http.StatusFound)
}
