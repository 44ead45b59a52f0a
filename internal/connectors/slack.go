package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// SlackReplayWindow is how far a request timestamp may drift from now.
const SlackReplayWindow = 300 * time.Second

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)

// Slack handles the Events API: url_verification and app_mention.
type Slack struct {
	opts Options
}

// NewSlack creates the Slack connector.
func NewSlack(opts Options) *Slack {
	return &Slack{opts: opts.withDefaults("https://slack.com/api")}
}

func (s *Slack) Platform() models.Platform { return models.PlatformSlack }

func (s *Slack) client(token string) *slack.Client {
	return slack.New(token, slack.OptionHTTPClient(s.opts.Client), slack.OptionAPIURL(s.opts.APIBase+"/"))
}

func slackToken(d *models.Deployment) string {
	for _, v := range []string{
		d.ConfigString("botToken"),
		d.ConfigString("slack.accessToken"),
		d.Credentials.BotToken,
		d.Credentials.AccessToken,
	} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Deploy checks the bot token with auth.test.
func (s *Slack) Deploy(ctx context.Context, d *models.Deployment) error {
	var missing []string
	token := slackToken(d)
	if token == "" {
		missing = append(missing, "botToken")
	}
	if d.ConfigString("signingSecret") == "" {
		missing = append(missing, "signingSecret")
	}
	if len(missing) > 0 {
		return errs.Missing(string(models.PlatformSlack), missing...)
	}

	resp, err := s.client(token).AuthTestContext(ctx)
	if err != nil {
		return &errs.UpstreamProviderError{Provider: "slack", Operation: "auth.test", Err: err}
	}
	log.Info().
		Str("deployment", d.ID).
		Str("team", resp.Team).
		Str("bot_user", resp.UserID).
		Msg("Slack bot verified")
	return nil
}

// VerifySlackSignature checks the v0 request signature and replay window.
func VerifySlackSignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	if secret == "" {
		return sigError(models.PlatformSlack, "signing secret not configured")
	}
	if timestamp == "" || signature == "" {
		return sigError(models.PlatformSlack, "missing signature headers")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return sigError(models.PlatformSlack, "malformed timestamp")
	}
	if delta := now.Sub(time.Unix(ts, 0)); delta > SlackReplayWindow || delta < -SlackReplayWindow {
		return sigError(models.PlatformSlack, "timestamp outside replay window")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return sigError(models.PlatformSlack, "signature mismatch")
	}
	return nil
}

func (s *Slack) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	if err := VerifySlackSignature(
		d.ConfigString("signingSecret"),
		req.Headers.Get("X-Slack-Request-Timestamp"),
		req.Headers.Get("X-Slack-Signature"),
		req.RawBody,
		s.opts.Now(),
	); err != nil {
		return contracts.WebhookResult{}, err
	}

	event, err := slackevents.ParseEvent(json.RawMessage(req.RawBody), slackevents.OptionNoVerifyToken())
	if err != nil {
		return ignored("malformed"), nil
	}

	switch event.Type {
	case slackevents.URLVerification:
		v, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			return ignored(slackevents.URLVerification), nil
		}
		return acknowledged(slackevents.URLVerification, &contracts.WebhookResponse{
			Status: 200,
			Body:   map[string]string{"challenge": v.Challenge},
		}), nil

	case slackevents.CallbackEvent:
		mention, ok := event.InnerEvent.Data.(*slackevents.AppMentionEvent)
		if !ok {
			return ignored(event.InnerEvent.Type), nil
		}
		if mention.BotID != "" {
			return ignored("bot_message"), nil
		}
		text := strings.TrimSpace(slackMention.ReplaceAllString(mention.Text, ""))
		if text == "" {
			return ignored(string(slackevents.AppMention)), nil
		}

		// Slack redelivers events not acked within 3s; the reply is posted
		// after the ack and redeliveries are dropped.
		if req.Headers.Get("X-Slack-Retry-Num") != "" {
			return ignored("retry"), nil
		}
		thread := mention.ThreadTimeStamp
		if thread == "" {
			thread = mention.TimeStamp
		}
		bg := context.WithoutCancel(ctx)
		s.opts.Spawn(func() {
			rctx, cancel := context.WithTimeout(bg, 2*time.Minute)
			defer cancel()
			reply := s.opts.Responder.Reply(rctx, d, text)
			_, _, err := s.client(slackToken(d)).PostMessageContext(rctx, mention.Channel,
				slack.MsgOptionText(reply.Text, false),
				slack.MsgOptionTS(thread),
			)
			if err != nil {
				log.Warn().Str("deployment", d.ID).Str("channel", mention.Channel).Err(err).Msg("Slack reply failed")
			}
		})
		return contracts.WebhookResult{
			Delivery: contracts.DeliveryReplied,
			Event:    string(slackevents.AppMention),
			Chat:     true,
		}, nil
	}
	return ignored(event.Type), nil
}
