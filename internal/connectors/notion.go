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

const notionVersion = "2022-06-28"

// Notion answers questions by appending a paragraph to the asking page.
type Notion struct {
	opts Options
}

// NewNotion creates the Notion connector.
func NewNotion(opts Options) *Notion {
	return &Notion{opts: opts.withDefaults("https://api.notion.com")}
}

func (n *Notion) Platform() models.Platform { return models.PlatformNotion }

func notionHeaders(apiKey string) map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + apiKey,
		"Notion-Version": notionVersion,
	}
}

// Deploy verifies read access to the target database.
func (n *Notion) Deploy(ctx context.Context, d *models.Deployment) error {
	vals, err := requireConfig(d, models.PlatformNotion, key("apiKey", "notion.accessToken"), key("databaseId"))
	if err != nil {
		return err
	}
	var db struct {
		ID string `json:"id"`
	}
	if err := call(ctx, n.opts.Client, models.PlatformNotion, "retrieve database", http.MethodGet,
		n.opts.APIBase+"/v1/databases/"+vals[1], notionHeaders(vals[0]), nil, &db); err != nil {
		return err
	}
	log.Info().Str("deployment", d.ID).Str("database", db.ID).Msg("Notion database access verified")
	return nil
}

type notionEvent struct {
	PageID   string `json:"pageId"`
	Question string `json:"question"`
}

func (n *Notion) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	var ev notionEvent
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return ignored("malformed"), nil
	}
	if ev.PageID == "" || strings.TrimSpace(ev.Question) == "" {
		return ignored("page"), nil
	}

	apiKey := d.ConfigString("apiKey")
	if apiKey == "" {
		apiKey = d.ConfigString("notion.accessToken")
	}
	reply := n.opts.Responder.Reply(ctx, d, ev.Question)
	block := map[string]any{
		"children": []map[string]any{{
			"object": "block",
			"type":   "paragraph",
			"paragraph": map[string]any{
				"rich_text": []map[string]any{{
					"type": "text",
					"text": map[string]string{"content": reply.Text},
				}},
			},
		}},
	}
	err := call(ctx, n.opts.Client, models.PlatformNotion, "append block", http.MethodPatch,
		n.opts.APIBase+"/v1/blocks/"+ev.PageID+"/children", notionHeaders(apiKey), block, nil)
	return delivered("question", reply, err), nil
}
