// Package connectors adapts each third-party platform to contracts.Connector.
//
// A connector instance is shared by every deployment on its platform and
// holds no per-deployment state; credentials come from the Deployment on
// each call. Inbound authenticity is checked before a payload is parsed.
package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
)

// Options configures connector construction.
type Options struct {
	Client        *http.Client
	Responder     contracts.Responder
	PublicBaseURL string

	// APIBase overrides the platform API root. Empty uses the public API.
	APIBase string

	// Now and Spawn default to time.Now and a goroutine.
	Now   func() time.Time
	Spawn func(func())
}

func (o Options) withDefaults(apiBase string) Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if o.APIBase == "" {
		o.APIBase = apiBase
	}
	o.APIBase = strings.TrimRight(o.APIBase, "/")
	o.PublicBaseURL = strings.TrimRight(o.PublicBaseURL, "/")
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Spawn == nil {
		o.Spawn = func(f func()) { go f() }
	}
	return o
}

// All builds one connector per platform against the public APIs.
func All(opts Options) []contracts.Connector {
	return []contracts.Connector{
		NewSlack(opts),
		NewDiscord(opts),
		NewTelegram(opts),
		NewTwitter(opts),
		NewNotion(opts),
		NewHashnode(opts),
		NewEmail(opts),
		NewWebsite(opts),
	}
}

// WebhookURL is the inbound URL registered with a provider for a deployment.
func WebhookURL(publicBaseURL string, platform models.Platform, deploymentID string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/webhooks/" + string(platform) + "/" + deploymentID
}

// requireConfig returns the first non-empty value for each field, where a
// field lists alternative config paths. Missing fields are reported together.
func requireConfig(d *models.Deployment, platform models.Platform, fields ...[]string) ([]string, error) {
	values := make([]string, len(fields))
	var missing []string
	for i, alts := range fields {
		for _, path := range alts {
			if v := d.ConfigString(path); v != "" {
				values[i] = v
				break
			}
		}
		if values[i] == "" {
			missing = append(missing, alts[0])
		}
	}
	if len(missing) > 0 {
		return nil, errs.Missing(string(platform), missing...)
	}
	return values, nil
}

// key is shorthand for a required config field with fallbacks.
func key(paths ...string) []string { return paths }

func sigError(platform models.Platform, reason string) error {
	return &errs.SignatureVerificationError{Platform: string(platform), Reason: reason}
}

// ── Results ─────────────────────────────────────────────────

func ignored(event string) contracts.WebhookResult {
	return contracts.WebhookResult{Delivery: contracts.DeliveryIgnored, Event: event}
}

func acknowledged(event string, resp *contracts.WebhookResponse) contracts.WebhookResult {
	return contracts.WebhookResult{Delivery: contracts.DeliveryAcknowledged, Event: event, Response: resp}
}

// delivered reports a reply outcome. sendErr is the failure of the
// outbound call; a degraded reply that was still sent carries its cause.
func delivered(event string, reply contracts.Reply, sendErr error) contracts.WebhookResult {
	if sendErr != nil {
		return contracts.WebhookResult{Delivery: contracts.DeliveryDropped, Event: event, Chat: true, Err: sendErr}
	}
	return contracts.WebhookResult{Delivery: contracts.DeliveryReplied, Event: event, Chat: true, Err: reply.Err}
}

// ── HTTP ────────────────────────────────────────────────────

// call sends an API request. body is JSON-encoded when non-nil and out,
// when non-nil, receives the decoded response. Transport failures and
// non-2xx statuses become *errs.UpstreamProviderError.
func call(ctx context.Context, client *http.Client, provider models.Platform, op, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: marshal: %w", provider, op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s %s: create request: %w", provider, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &errs.UpstreamProviderError{Provider: string(provider), Operation: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &errs.UpstreamProviderError{Provider: string(provider), Operation: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.UpstreamProviderError{
			Provider:   string(provider),
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(raw)), 300),
		}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", provider, op, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
