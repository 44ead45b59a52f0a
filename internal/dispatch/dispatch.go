// Package dispatch routes deployment activation and inbound webhooks to the
// connector registered for a platform.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/internal/telemetry"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service is the connector registry. The platform map is fixed at
// construction and shared by every request.
type Service struct {
	store      store.Store
	connectors map[models.Platform]contracts.Connector
	tracer     trace.Tracer
	now        func() time.Time
}

// New builds the registry. A later connector for the same platform
// replaces an earlier one.
func New(s store.Store, connectors ...contracts.Connector) *Service {
	m := make(map[models.Platform]contracts.Connector, len(connectors))
	for _, c := range connectors {
		m[c.Platform()] = c
	}
	return &Service{
		store:      s,
		connectors: m,
		tracer:     telemetry.Tracer("dispatch"),
		now:        time.Now,
	}
}

// Connector returns the connector for platform.
func (s *Service) Connector(platform models.Platform) (contracts.Connector, bool) {
	c, ok := s.connectors[platform]
	return c, ok
}

// Platforms lists the registered platforms in sorted order.
func (s *Service) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(s.connectors))
	for p := range s.connectors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ── Deploy ──────────────────────────────────────────────────

// Deploy activates a deployment through its connector. The agent must be
// trained; a failed precondition leaves the deployment untouched. A
// connector failure moves the deployment to error and is returned.
func (s *Service) Deploy(ctx context.Context, deploymentID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.deploy",
		trace.WithAttributes(attribute.String("deployment.id", deploymentID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	d, err := s.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("platform", string(d.Platform)))

	agent, err := s.store.GetAgent(ctx, d.AgentID)
	if err != nil {
		return err
	}
	if agent.Status != models.AgentTrained {
		return &errs.PreconditionError{Reason: "agent " + agent.ID + " is " + string(agent.Status) + ", not trained"}
	}
	if !models.CanTransition(d.Status, models.DeploymentActive) {
		return &errs.InvalidTransitionError{From: string(d.Status), To: string(models.DeploymentActive)}
	}

	c, ok := s.connectors[d.Platform]
	if !ok {
		return &errs.UnsupportedPlatformError{Platform: string(d.Platform)}
	}

	if err := c.Deploy(ctx, d); err != nil {
		if uerr := s.store.UpdateDeploymentStatus(ctx, d.ID, models.DeploymentError, err.Error()); uerr != nil {
			log.Error().Err(uerr).Str("deployment", d.ID).Msg("Failed to record deployment error")
		}
		log.Warn().
			Err(err).
			Str("deployment", d.ID).
			Str("platform", string(d.Platform)).
			Msg("Deployment failed")
		return err
	}

	if err := s.store.UpdateDeploymentStatus(ctx, d.ID, models.DeploymentActive, ""); err != nil {
		return err
	}
	log.Info().
		Str("deployment", d.ID).
		Str("platform", string(d.Platform)).
		Str("agent", agent.ID).
		Msg("Deployment active")
	return nil
}

// ── Webhooks ────────────────────────────────────────────────

// HandleWebhook delivers an inbound provider request to the connector of
// the deployment. The URL platform must match the stored platform; the
// connector is never reached otherwise.
func (s *Service) HandleWebhook(ctx context.Context, platform models.Platform, deploymentID string, payload json.RawMessage, headers http.Header, rawBody []byte) (result contracts.WebhookResult, err error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.webhook", trace.WithAttributes(
		attribute.String("platform", string(platform)),
		attribute.String("deployment.id", deploymentID),
	))
	defer func() {
		span.SetAttributes(attribute.String("delivery", string(result.Delivery)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	d, err := s.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return contracts.WebhookResult{}, err
	}
	if d.Platform != platform {
		log.Warn().
			Str("deployment", d.ID).
			Str("platform", string(platform)).
			Str("stored_platform", string(d.Platform)).
			Msg("Webhook platform mismatch")
		return contracts.WebhookResult{}, &errs.PlatformMismatchError{
			DeploymentID: d.ID,
			Requested:    string(platform),
			Stored:       string(d.Platform),
		}
	}
	c, ok := s.connectors[platform]
	if !ok {
		return contracts.WebhookResult{}, &errs.UnsupportedPlatformError{Platform: string(platform)}
	}
	if d.Status == models.DeploymentInactive {
		return contracts.WebhookResult{Delivery: contracts.DeliveryIgnored, Event: "inactive"}, nil
	}

	if headers == nil {
		headers = http.Header{}
	}
	if len(payload) == 0 {
		payload = json.RawMessage(rawBody)
	}
	started := s.now()
	result, err = c.HandleWebhook(ctx, &contracts.WebhookRequest{
		Deployment: d,
		Payload:    payload,
		Headers:    headers,
		RawBody:    rawBody,
	})
	elapsed := s.now().Sub(started)
	if err != nil {
		log.Warn().
			Err(err).
			Str("deployment", d.ID).
			Str("platform", string(platform)).
			Msg("Webhook rejected")
		return result, err
	}

	if result.Delivery != contracts.DeliveryIgnored {
		activity := models.DeploymentActivity{At: s.now().UTC(), Event: result.Event, Chat: result.Chat, ResponseTime: elapsed}
		if aerr := s.store.RecordDeploymentActivity(ctx, d.ID, activity); aerr != nil {
			log.Warn().Err(aerr).Str("deployment", d.ID).Msg("Failed to record deployment activity")
		}
	}

	ev := log.Debug()
	if result.Err != nil {
		ev = log.Warn().Err(result.Err)
	}
	ev.Str("deployment", d.ID).
		Str("platform", string(platform)).
		Str("event", result.Event).
		Str("delivery", string(result.Delivery)).
		Dur("elapsed", elapsed).
		Msg("Webhook handled")
	return result, nil
}
