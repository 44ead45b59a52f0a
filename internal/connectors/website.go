package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
)

// Website serves the embeddable chat widget synchronously.
type Website struct {
	opts Options
}

// NewWebsite creates the website embed connector.
func NewWebsite(opts Options) *Website {
	return &Website{opts: opts.withDefaults("")}
}

func (w *Website) Platform() models.Platform { return models.PlatformWebsite }

// Deploy has no required secrets; allowedOrigins must be valid origins.
func (w *Website) Deploy(ctx context.Context, d *models.Deployment) error {
	for _, o := range d.ConfigStrings("allowedOrigins") {
		if o == "*" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &errs.ConfigurationError{Platform: string(models.PlatformWebsite), Reason: "invalid allowed origin " + o}
		}
	}
	return nil
}

func originOf(h http.Header) string {
	if o := h.Get("Origin"); o != "" {
		return strings.TrimRight(o, "/")
	}
	if ref := h.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	return false
}

type widgetMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

func (w *Website) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	if !originAllowed(d.ConfigStrings("allowedOrigins"), originOf(req.Headers)) {
		return contracts.WebhookResult{}, sigError(models.PlatformWebsite, "origin not allowed")
	}

	var msg widgetMessage
	if err := json.Unmarshal(req.Payload, &msg); err != nil || strings.TrimSpace(msg.Message) == "" {
		return contracts.WebhookResult{
			Delivery: contracts.DeliveryIgnored,
			Event:    "message",
			Response: &contracts.WebhookResponse{Status: http.StatusBadRequest, Body: map[string]string{"error": "message is required"}},
		}, nil
	}

	reply := w.opts.Responder.Reply(ctx, d, msg.Message)
	res := delivered("message", reply, nil)
	res.Response = &contracts.WebhookResponse{
		Status: http.StatusOK,
		Body:   map[string]string{"reply": reply.Text, "sessionId": msg.SessionID},
	}
	return res, nil
}
