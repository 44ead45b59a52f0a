package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog/log"
)

var leadingHandles = regexp.MustCompile(`^(\s*@\w+)+\s*`)

// Twitter answers the CRC challenge and replies to mentions. Outbound
// calls are signed with OAuth 1.0a (HMAC-SHA1).
type Twitter struct {
	opts Options
}

// NewTwitter creates the Twitter connector.
func NewTwitter(opts Options) *Twitter {
	return &Twitter{opts: opts.withDefaults("https://api.twitter.com")}
}

func (t *Twitter) Platform() models.Platform { return models.PlatformTwitter }

// CRCResponseToken is sha256= + base64(HMAC-SHA256(crcToken, consumerSecret)).
func CRCResponseToken(crcToken, consumerSecret string) string {
	mac := hmac.New(sha256.New, []byte(consumerSecret))
	mac.Write([]byte(crcToken))
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func twitterCredentials(d *models.Deployment) ([]string, error) {
	return requireConfig(d, models.PlatformTwitter,
		key("consumerKey"), key("consumerSecret"), key("accessToken"), key("accessTokenSecret"))
}

// signedClient returns an HTTP client that signs requests for d.
func (t *Twitter) signedClient(ctx context.Context, creds []string) *http.Client {
	cfg := oauth1.NewConfig(creds[0], creds[1])
	ctx = context.WithValue(ctx, oauth1.HTTPClient, t.opts.Client)
	return cfg.Client(ctx, oauth1.NewToken(creds[2], creds[3]))
}

// Deploy verifies the user credentials.
func (t *Twitter) Deploy(ctx context.Context, d *models.Deployment) error {
	creds, err := twitterCredentials(d)
	if err != nil {
		return err
	}
	var me struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := call(ctx, t.signedClient(ctx, creds), models.PlatformTwitter, "users/me", http.MethodGet,
		t.opts.APIBase+"/2/users/me", nil, nil, &me); err != nil {
		return err
	}
	log.Info().Str("deployment", d.ID).Str("account", me.Data.Username).Msg("Twitter credentials verified")
	return nil
}

type twitterEvent struct {
	CRCToken         string `json:"crc_token"`
	ForUserID        string `json:"for_user_id"`
	TweetCreateEvent []struct {
		IDStr string `json:"id_str"`
		Text  string `json:"text"`
		User  struct {
			IDStr      string `json:"id_str"`
			ScreenName string `json:"screen_name"`
		} `json:"user"`
	} `json:"tweet_create_events"`
}

func (t *Twitter) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	var ev twitterEvent
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return ignored("malformed"), nil
	}

	if ev.CRCToken != "" {
		secret := d.ConfigString("consumerSecret")
		if secret == "" {
			return contracts.WebhookResult{}, sigError(models.PlatformTwitter, "consumer secret not configured")
		}
		return acknowledged("crc", &contracts.WebhookResponse{
			Status: http.StatusOK,
			Body:   map[string]string{"response_token": CRCResponseToken(ev.CRCToken, secret)},
		}), nil
	}

	if len(ev.TweetCreateEvent) == 0 {
		return ignored("event"), nil
	}
	creds, err := twitterCredentials(d)
	if err != nil {
		return delivered("tweet_create", contracts.Reply{}, err), nil
	}

	result := ignored("tweet_create")
	for _, tw := range ev.TweetCreateEvent {
		if tw.User.IDStr == ev.ForUserID {
			continue // our own tweet
		}
		question := strings.TrimSpace(leadingHandles.ReplaceAllString(tw.Text, ""))
		if question == "" {
			continue
		}
		reply := t.opts.Responder.Reply(ctx, d, question)
		text := "@" + tw.User.ScreenName + " " + reply.Text
		if r := []rune(text); len(r) > 280 {
			text = string(r[:277]) + "..."
		}
		err := call(ctx, t.signedClient(ctx, creds), models.PlatformTwitter, "create tweet", http.MethodPost,
			t.opts.APIBase+"/2/tweets", nil, map[string]any{
				"text":  text,
				"reply": map[string]string{"in_reply_to_tweet_id": tw.IDStr},
			}, nil)
		result = delivered("tweet_create", reply, err)
		if err != nil {
			break
		}
	}
	return result, nil
}
