package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
)

// Email bookkeeps Brevo transactional email events. It never replies.
type Email struct {
	opts Options
}

// NewEmail creates the Brevo email connector.
func NewEmail(opts Options) *Email {
	return &Email{opts: opts.withDefaults("https://api.brevo.com")}
}

func (e *Email) Platform() models.Platform { return models.PlatformEmail }

// Deploy verifies the API key against the account endpoint.
func (e *Email) Deploy(ctx context.Context, d *models.Deployment) error {
	vals, err := requireConfig(d, models.PlatformEmail, key("apiKey"), key("senderEmail"))
	if err != nil {
		return err
	}
	var account struct {
		Email       string `json:"email"`
		CompanyName string `json:"companyName"`
	}
	if err := call(ctx, e.opts.Client, models.PlatformEmail, "get account", http.MethodGet,
		e.opts.APIBase+"/v3/account", map[string]string{"api-key": vals[0]}, nil, &account); err != nil {
		return err
	}
	log.Info().Str("deployment", d.ID).Str("sender", vals[1]).Msg("Brevo account verified")
	return nil
}

type brevoEvent struct {
	Event     string `json:"event"`
	Email     string `json:"email"`
	MessageID string `json:"message-id"`
	Reason    string `json:"reason"`
}

// Severity buckets for Brevo events.
var (
	brevoFailures = map[string]bool{"hard_bounce": true, "spam": true, "blocked": true, "invalid_email": true, "error": true}
	brevoWarnings = map[string]bool{"soft_bounce": true, "deferred": true, "unsubscribed": true}
)

func (e *Email) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	var ev brevoEvent
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return ignored("malformed"), nil
	}
	name := strings.ToLower(strings.TrimSpace(ev.Event))
	if name == "" {
		return ignored("event"), nil
	}

	logEvent := log.Debug()
	switch {
	case brevoFailures[name]:
		logEvent = log.Warn()
	case brevoWarnings[name]:
		logEvent = log.Info()
	}
	logEvent.
		Str("deployment", req.Deployment.ID).
		Str("event", name).
		Str("message_id", ev.MessageID).
		Str("reason", ev.Reason).
		Msg("Email event")
	return acknowledged(name, nil), nil
}
