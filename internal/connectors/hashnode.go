package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
)

// Hashnode comments on newly published posts.
type Hashnode struct {
	opts Options
}

// NewHashnode creates the Hashnode connector.
func NewHashnode(opts Options) *Hashnode {
	return &Hashnode{opts: opts.withDefaults("https://gql.hashnode.com")}
}

func (h *Hashnode) Platform() models.Platform { return models.PlatformHashnode }

type gqlError struct {
	Message string `json:"message"`
}

// graphql runs one query and decodes data into out.
func (h *Hashnode) graphql(ctx context.Context, op, token, query string, vars map[string]any, out any) error {
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	err := call(ctx, h.opts.Client, models.PlatformHashnode, op, http.MethodPost, h.opts.APIBase,
		map[string]string{"Authorization": token},
		map[string]any{"query": query, "variables": vars}, &resp)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return &errs.UpstreamProviderError{Provider: "hashnode", Operation: op, Message: resp.Errors[0].Message}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("hashnode %s: decode data: %w", op, err)
		}
	}
	return nil
}

const (
	hashnodePublicationQuery = `query Publication($id: ObjectId!) { publication(id: $id) { id title } }`
	hashnodePostQuery        = `query Post($id: ID!) { post(id: $id) { id title content { markdown } } }`
	hashnodeAddComment       = `mutation AddComment($input: AddCommentInput!) { addComment(input: $input) { comment { id } } }`
)

// Deploy verifies the publication is visible to the token.
func (h *Hashnode) Deploy(ctx context.Context, d *models.Deployment) error {
	vals, err := requireConfig(d, models.PlatformHashnode, key("accessToken"), key("publicationId"))
	if err != nil {
		return err
	}
	var data struct {
		Publication *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"publication"`
	}
	if err := h.graphql(ctx, "publication", vals[0], hashnodePublicationQuery, map[string]any{"id": vals[1]}, &data); err != nil {
		return err
	}
	if data.Publication == nil {
		return &errs.UpstreamProviderError{Provider: "hashnode", Operation: "publication", Message: "publication not found"}
	}
	log.Info().Str("deployment", d.ID).Str("publication", data.Publication.Title).Msg("Hashnode publication verified")
	return nil
}

type hashnodeEvent struct {
	Data struct {
		EventType string `json:"eventType"`
		Post      struct {
			ID string `json:"id"`
		} `json:"post"`
	} `json:"data"`
}

func (h *Hashnode) HandleWebhook(ctx context.Context, req *contracts.WebhookRequest) (contracts.WebhookResult, error) {
	d := req.Deployment
	var ev hashnodeEvent
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return ignored("malformed"), nil
	}
	if ev.Data.EventType != "post_published" || ev.Data.Post.ID == "" {
		return ignored(ev.Data.EventType), nil
	}

	token := d.ConfigString("accessToken")
	var data struct {
		Post *struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Content struct {
				Markdown string `json:"markdown"`
			} `json:"content"`
		} `json:"post"`
	}
	if err := h.graphql(ctx, "post", token, hashnodePostQuery, map[string]any{"id": ev.Data.Post.ID}, &data); err != nil {
		return delivered("post_published", contracts.Reply{}, err), nil
	}
	if data.Post == nil {
		return ignored("post_published"), nil
	}

	body := data.Post.Content.Markdown
	if r := []rune(body); len(r) > 2000 {
		body = string(r[:2000])
	}
	prompt := fmt.Sprintf("Write a short, helpful comment for the article %q:\n\n%s", data.Post.Title, strings.TrimSpace(body))
	reply := h.opts.Responder.Reply(ctx, d, prompt)
	err := h.graphql(ctx, "addComment", token, hashnodeAddComment, map[string]any{
		"input": map[string]string{"postId": data.Post.ID, "contentMarkdown": reply.Text},
	}, nil)
	return delivered("post_published", reply, err), nil
}
