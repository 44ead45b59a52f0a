package handlers

import (
	"net/http"

	"github.com/agentoven/agentdock/internal/api/middleware"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/go-chi/chi/v5"
)

// CreateDeployment stores a pending deployment and queues its activation.
func (h *Handlers) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req models.DeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	d, err := h.Lifecycle.Create(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, d.Redacted())
}

func (h *Handlers) ListDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.DeploymentFilter{
		UserID:  middleware.GetUserID(r.Context()),
		AgentID: q.Get("agentId"),
	}
	if p := q.Get("platform"); p != "" {
		platform, ok := models.ParsePlatform(p)
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown platform: "+p)
			return
		}
		filter.Platform = platform
	}
	if s := q.Get("status"); s != "" {
		filter.Status = models.DeploymentStatus(s)
	}

	list, err := h.Lifecycle.List(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	out := make([]*models.Deployment, 0, len(list))
	for i := range list {
		out = append(out, list[i].Redacted())
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Lifecycle.Get(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d.Redacted())
}

func (h *Handlers) RedeployDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Lifecycle.Redeploy(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, d.Redacted())
}

func (h *Handlers) DeactivateDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Lifecycle.Deactivate(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d.Redacted())
}

func (h *Handlers) DeleteDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Delete(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
