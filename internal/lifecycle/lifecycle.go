// Package lifecycle manages deployment records: creation, asynchronous
// activation through the job queue, redeploy, deactivation and removal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/queue"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Deployer activates a stored deployment. Implemented by dispatch.Service.
type Deployer interface {
	Deploy(ctx context.Context, deploymentID string) error
}

// Manager owns deployment state changes.
type Manager struct {
	store    store.Store
	queue    queue.Queue
	deployer Deployer
}

// New creates a lifecycle manager.
func New(s store.Store, q queue.Queue, d Deployer) *Manager {
	return &Manager{store: s, queue: q, deployer: d}
}

// Create validates the request, stores a pending deployment and enqueues
// its activation. It returns before the connector runs.
func (m *Manager) Create(ctx context.Context, userID string, req models.DeploymentRequest) (*models.Deployment, error) {
	platform, ok := models.ParsePlatform(req.Platform)
	if !ok {
		return nil, &errs.UnsupportedPlatformError{Platform: req.Platform}
	}
	if req.AgentID == "" {
		return nil, &errs.ConfigurationError{Platform: string(platform), Reason: "agentId is required"}
	}
	agent, err := m.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if userID != "" && agent.UserID != userID {
		return nil, &errs.NotFoundError{Entity: "agent", Key: req.AgentID}
	}

	cfg := req.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	d := &models.Deployment{
		ID:       uuid.NewString(),
		AgentID:  agent.ID,
		UserID:   agent.UserID,
		Platform: platform,
		Status:   models.DeploymentPending,
		Config:   cfg,
	}
	if err := m.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	if err := m.enqueue(ctx, d); err != nil {
		return nil, err
	}

	log.Info().
		Str("deployment", d.ID).
		Str("agent", agent.ID).
		Str("platform", string(platform)).
		Msg("Deployment created")
	return d, nil
}

func (m *Manager) enqueue(ctx context.Context, d *models.Deployment) error {
	job, err := queue.NewJob(queue.TypeDeploymentActivate, queue.DeploymentPayload{DeploymentID: d.ID})
	if err == nil {
		err = m.queue.Enqueue(ctx, job)
	}
	if err != nil {
		if uerr := m.store.UpdateDeploymentStatus(ctx, d.ID, models.DeploymentError, "activation could not be queued"); uerr != nil {
			log.Error().Err(uerr).Str("deployment", d.ID).Msg("Failed to record enqueue failure")
		}
		return fmt.Errorf("enqueue activation: %w", err)
	}
	return nil
}

// Activate runs the connector deploy for a deployment.
func (m *Manager) Activate(ctx context.Context, deploymentID string) error {
	return m.deployer.Deploy(ctx, deploymentID)
}

// Handle is the queue handler for deployment.activate. Activation failures
// are final: the deployment is left in error until an operator redeploys.
func (m *Manager) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.DeploymentPayload
	if err := job.Decode(&p); err != nil {
		return backoff.Permanent(err)
	}
	if err := m.Activate(ctx, p.DeploymentID); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

// ── Operator actions ────────────────────────────────────────

// Get returns a deployment owned by userID. An empty userID skips the
// ownership check.
func (m *Manager) Get(ctx context.Context, userID, id string) (*models.Deployment, error) {
	d, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && d.UserID != userID {
		return nil, &errs.NotFoundError{Entity: "deployment", Key: id}
	}
	return d, nil
}

// List returns deployments matching filter.
func (m *Manager) List(ctx context.Context, filter models.DeploymentFilter) ([]models.Deployment, error) {
	return m.store.ListDeployments(ctx, filter)
}

// reset moves an active or errored deployment back to pending.
func (m *Manager) reset(ctx context.Context, userID, id string) (*models.Deployment, error) {
	d, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeploymentActive && d.Status != models.DeploymentError {
		return nil, &errs.InvalidTransitionError{From: string(d.Status), To: string(models.DeploymentPending)}
	}
	if err := m.store.UpdateDeploymentStatus(ctx, d.ID, models.DeploymentPending, ""); err != nil {
		return nil, err
	}
	d.Status = models.DeploymentPending
	d.LastError = ""
	return d, nil
}

// Redeploy resets the deployment to pending and queues activation again.
func (m *Manager) Redeploy(ctx context.Context, userID, id string) (*models.Deployment, error) {
	d, err := m.reset(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := m.enqueue(ctx, d); err != nil {
		return nil, err
	}
	log.Info().Str("deployment", d.ID).Msg("Redeploy queued")
	return d, nil
}

// DeployNow activates synchronously, resetting an active or errored
// deployment first. Used by the operator CLI.
func (m *Manager) DeployNow(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeploymentPending {
		if _, err := m.reset(ctx, "", id); err != nil {
			return nil, err
		}
	}
	if err := m.Activate(ctx, id); err != nil {
		return nil, err
	}
	return m.store.GetDeployment(ctx, id)
}

// Deactivate makes the deployment inactive. Inactive is terminal.
func (m *Manager) Deactivate(ctx context.Context, userID, id string) (*models.Deployment, error) {
	d, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(d.Status, models.DeploymentInactive) {
		return nil, &errs.InvalidTransitionError{From: string(d.Status), To: string(models.DeploymentInactive)}
	}
	if err := m.store.UpdateDeploymentStatus(ctx, d.ID, models.DeploymentInactive, ""); err != nil {
		return nil, err
	}
	d.Status = models.DeploymentInactive
	log.Info().Str("deployment", d.ID).Msg("Deployment deactivated")
	return d, nil
}

// Delete removes the deployment record.
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	d, err := m.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteDeployment(ctx, d.ID); err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	log.Info().Str("deployment", d.ID).Msg("Deployment deleted")
	return nil
}
