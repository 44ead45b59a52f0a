package connectors

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
)

// Telegram registers a bot webhook and answers text messages.
type Telegram struct {
	opts Options
}

// NewTelegram creates the Telegram connector.
func NewTelegram(opts Options) *Telegram {
	return &Telegram{opts: opts.withDefaults("https://api.telegram.org")}
}

func (t *Telegram) Platform() models.Platform { return models.PlatformTelegram }

func telegramToken(d *models.Deployment) string {
	if v := d.ConfigString("botToken"); v != "" {
		return v
	}
	return d.Credentials.BotToken
}

func (t *Telegram) method(token, name string) string {
	return t.opts.APIBase + "/bot" + token + "/" + name
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) invoke(ctx context.Context, token, name string, body any) error {
	var resp telegramResponse
	if err := call(ctx, t.opts.Client, models.PlatformTelegram, name, http.MethodPost, t.method(token, name), nil, body, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &errs.UpstreamProviderError{Provider: "telegram", Operation: name, Message: resp.Description}
	}
	return nil
}

// Deploy registers {PUBLIC_BASE_URL}/webhooks/telegram/{id} with setWebhook.
func (t *Telegram) Deploy(ctx context.Context, d *models.Deployment) error {
	token := telegramToken(d)
	if token == "" {
		return errs.Missing(string(models.PlatformTelegram), "botToken")
	}
	if t.opts.PublicBaseURL == "" {
		return &errs.ConfigurationError{Platform: string(models.PlatformTelegram), Reason: "public base URL is not configured"}
	}

	body := map[string]any{
		"url":             WebhookURL(t.opts.PublicBaseURL, models.PlatformTelegram, d.ID),
		"allowed_updates": []string{"message"},
	}
	if secret := d.ConfigString("webhookSecret"); secret != "" {
		body["secret_token"] = secret
	}
	if err := t.invoke(ctx, token, "setWebhook", body); err != nil {
		return err
	}
	log.Info().Str("deployment", d.ID).Msg("Telegram webhook registered")
	return nil
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From *struct {
			IsBot bool `json:"is_bot"`
		} `json:"from"`
	} `json:"message"`
}

// HandleWebhook answers a text message in the same chat. When the deployment
// has a webhookSecret the Telegram secret-token header must match it.
func (t *Telegram) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	if secret := d.ConfigString("webhookSecret"); secret != "" {
		got := req.Headers.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return contracts.WebhookResult{}, sigError(models.PlatformTelegram, "secret token mismatch")
		}
	}

	var update telegramUpdate
	if err := json.Unmarshal(req.Payload, &update); err != nil {
		return ignored("malformed"), nil
	}
	msg := update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" || msg.Chat.ID == 0 {
		return ignored("update"), nil
	}
	if msg.From != nil && msg.From.IsBot {
		return ignored("bot_message"), nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "/start" {
		text = "Hello"
	}
	reply := t.opts.Responder.Reply(ctx, d, text)
	err := t.invoke(ctx, telegramToken(d), "sendMessage", map[string]any{
		"chat_id": msg.Chat.ID,
		"text":    reply.Text,
	})
	return delivered("message", reply, err), nil
}
