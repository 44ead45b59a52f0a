package handlers

import (
	"net/http"
	"strings"

	"github.com/agentoven/agentdock/internal/api/middleware"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type createAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Persona     string `json:"persona"`
}

// agentView is an agent with its memory count.
type agentView struct {
	models.Agent
	Memories int `json:"memories"`
}

// CreateAgent registers a new agent. It stays in training until its
// first ingestion job completes.
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	agent := &models.Agent{
		UserID:      middleware.GetUserID(r.Context()),
		Name:        req.Name,
		Description: req.Description,
		Persona:     req.Persona,
		Status:      models.AgentTraining,
	}
	if err := h.Store.CreateAgent(r.Context(), agent); err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().Str("agent", agent.ID).Str("user", agent.UserID).Msg("Agent created")
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r, chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	n, err := h.Store.CountMemories(r.Context(), agent.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agentView{Agent: *agent, Memories: n})
}

// DeleteAgent removes the agent together with its memories and deployments.
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r, chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.DeleteAgent(r.Context(), agent.ID); err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().Str("agent", agent.ID).Msg("Agent deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ClearMemory drops every memory of an agent. The agent returns to
// training until it is fed again.
func (h *Handlers) ClearMemory(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r, chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	n, err := h.Store.DeleteMemories(r.Context(), agent.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.UpdateAgentStatus(r.Context(), agent.ID, models.AgentTraining); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"agentId": agent.ID, "deleted": n})
}
