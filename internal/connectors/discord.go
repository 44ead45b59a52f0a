package connectors

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Discord interaction and response types.
const (
	discordPing               = 1
	discordApplicationCommand = 2

	discordPong                    = 1
	discordDeferredChannelResponse = 5
)

// Discord serves interactions (slash commands) for deployed bots.
type Discord struct {
	opts Options
	pool *discordPool
}

// NewDiscord creates the Discord connector.
func NewDiscord(opts Options) *Discord {
	opts = opts.withDefaults("https://discord.com/api/v10")
	return &Discord{opts: opts, pool: newDiscordPool(opts)}
}

func (c *Discord) Platform() models.Platform { return models.PlatformDiscord }

// Deploy verifies the bot and registers the global /ask command.
func (c *Discord) Deploy(ctx context.Context, d *models.Deployment) error {
	vals, err := requireConfig(d, models.PlatformDiscord,
		key("publicKey"),
		key("applicationId", "discord.applicationId"),
		key("botToken", "discord.botToken"),
	)
	if err != nil {
		return err
	}
	if _, err := decodePublicKey(vals[0]); err != nil {
		return &errs.ConfigurationError{Platform: string(models.PlatformDiscord), Reason: "publicKey must be a hex Ed25519 key"}
	}

	client, err := c.pool.get(ctx, vals[1], vals[2])
	if err != nil {
		return err
	}
	if err := client.registerAskCommand(ctx); err != nil {
		return err
	}
	log.Info().Str("deployment", d.ID).Str("bot", client.botName).Msg("Discord /ask command registered")
	return nil
}

func decodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, errs.Missing(string(models.PlatformDiscord), "publicKey")
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyDiscordSignature checks the Ed25519 signature over timestamp+body.
func VerifyDiscordSignature(publicKey, signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return sigError(models.PlatformDiscord, "missing signature headers")
	}
	if publicKey == "" {
		return sigError(models.PlatformDiscord, "public key not configured")
	}
	pub, err := decodePublicKey(publicKey)
	if err != nil {
		return sigError(models.PlatformDiscord, "malformed public key")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return sigError(models.PlatformDiscord, "malformed signature")
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	if !ed25519.Verify(pub, msg, sig) {
		return sigError(models.PlatformDiscord, "invalid signature")
	}
	return nil
}

type discordInteraction struct {
	ID            string `json:"id"`
	Type          int    `json:"type"`
	Token         string `json:"token"`
	ApplicationID string `json:"application_id"`
	Data          struct {
		Name    string `json:"name"`
		Options []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"options"`
	} `json:"data"`
}

func (c *Discord) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	if err := VerifyDiscordSignature(
		d.ConfigString("publicKey"),
		req.Headers.Get("X-Signature-Ed25519"),
		req.Headers.Get("X-Signature-Timestamp"),
		req.RawBody,
	); err != nil {
		return contracts.WebhookResult{}, err
	}

	var in discordInteraction
	if err := json.Unmarshal(req.RawBody, &in); err != nil {
		return ignored("malformed"), nil
	}

	switch in.Type {
	case discordPing:
		return acknowledged("ping", &contracts.WebhookResponse{Status: http.StatusOK, Body: map[string]int{"type": discordPong}}), nil

	case discordApplicationCommand:
		question := ""
		for _, o := range in.Data.Options {
			if s, ok := o.Value.(string); ok && (o.Name == "question" || question == "") {
				question = s
			}
		}
		appID := in.ApplicationID
		if appID == "" {
			appID = d.ConfigString("applicationId")
		}
		token := d.ConfigString("botToken")
		if token == "" {
			token = d.ConfigString("discord.botToken")
		}

		// Discord allows 3s for the ack; the answer follows as an edit.
		bg := context.WithoutCancel(ctx)
		c.opts.Spawn(func() {
			fctx, cancel := context.WithTimeout(bg, 2*time.Minute)
			defer cancel()
			reply := c.opts.Responder.Reply(fctx, d, question)
			client, err := c.pool.get(fctx, appID, token)
			if err == nil {
				err = client.editOriginal(fctx, in.Token, reply.Text)
			}
			if err != nil {
				log.Warn().Str("deployment", d.ID).Err(err).Msg("Discord follow-up failed")
			}
		})
		return contracts.WebhookResult{
			Response: &contracts.WebhookResponse{Status: http.StatusOK, Body: map[string]int{"type": discordDeferredChannelResponse}},
			Delivery: contracts.DeliveryReplied,
			Event:    "application_command",
			Chat:     true,
		}, nil
	}
	return ignored("interaction"), nil
}

// ── Client pool ─────────────────────────────────────────────

// discordClient is a verified bot session for one application.
type discordClient struct {
	appID   string
	token   string
	botName string
	opts    Options
}

func (c *discordClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bot " + c.token}
}

func (c *discordClient) registerAskCommand(ctx context.Context) error {
	cmd := map[string]any{
		"name":        "ask",
		"description": "Ask the assistant a question",
		"type":        1,
		"options": []map[string]any{{
			"type":        3,
			"name":        "question",
			"description": "Your question",
			"required":    true,
		}},
	}
	return call(ctx, c.opts.Client, models.PlatformDiscord, "register command", http.MethodPost,
		c.opts.APIBase+"/applications/"+c.appID+"/commands", c.headers(), cmd, nil)
}

func (c *discordClient) editOriginal(ctx context.Context, interactionToken, content string) error {
	if r := []rune(content); len(r) > 2000 {
		content = string(r[:1997]) + "..."
	}
	return call(ctx, c.opts.Client, models.PlatformDiscord, "edit original response", http.MethodPatch,
		c.opts.APIBase+"/webhooks/"+c.appID+"/"+interactionToken+"/messages/@original", nil,
		map[string]string{"content": content}, nil)
}

// discordPool caches verified clients by credential fingerprint so
// concurrent deliveries for one bot share a single verification call.
type discordPool struct {
	opts    Options
	mu      sync.RWMutex
	clients map[string]*discordClient
	group   singleflight.Group
}

func newDiscordPool(opts Options) *discordPool {
	return &discordPool{opts: opts, clients: make(map[string]*discordClient)}
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *discordPool) get(ctx context.Context, appID, token string) (*discordClient, error) {
	if appID == "" || token == "" {
		return nil, errs.Missing(string(models.PlatformDiscord), "applicationId", "botToken")
	}
	fp := fingerprint(appID, token)

	p.mu.RLock()
	c, ok := p.clients[fp]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	// The flight is shared, so it must outlive any one caller's ctx.
	ch := p.group.DoChan(fp, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		c := &discordClient{appID: appID, token: token, opts: p.opts}
		var me struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		}
		if err := call(fctx, p.opts.Client, models.PlatformDiscord, "get bot user", http.MethodGet,
			p.opts.APIBase+"/users/@me", c.headers(), nil, &me); err != nil {
			return nil, err
		}
		c.botName = me.Username

		p.mu.Lock()
		p.clients[fp] = c
		p.mu.Unlock()
		return c, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*discordClient), nil
	}
}

// size reports how many clients are cached.
func (p *discordPool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
