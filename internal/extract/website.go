package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
)

// WebsiteFetcher downloads a single page and extracts its visible text.
type WebsiteFetcher struct {
	client   *http.Client
	maxBytes int64
}

var _ contracts.Fetcher = (*WebsiteFetcher)(nil)

// NewWebsiteFetcher creates a fetcher. maxBytes <= 0 defaults to 10 MiB.
func NewWebsiteFetcher(client *http.Client, maxBytes int64) *WebsiteFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &WebsiteFetcher{client: client, maxBytes: maxBytes}
}

// Fetch crawls the first route: the page at rawURL, without following links.
func (f *WebsiteFetcher) Fetch(ctx context.Context, rawURL string) (contracts.Extracted, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return contracts.Extracted{}, fmt.Errorf("invalid website url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return contracts.Extracted{}, err
	}
	req.Header.Set("User-Agent", "agentdock-crawler/1.0")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return contracts.Extracted{}, &errs.UpstreamProviderError{Provider: u.Host, Operation: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return contracts.Extracted{}, &errs.UpstreamProviderError{Provider: u.Host, Operation: "fetch", StatusCode: resp.StatusCode}
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	meta := map[string]any{"url": u.String(), "statusCode": resp.StatusCode}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	switch {
	case mediaType == "text/plain":
		b, err := io.ReadAll(body)
		if err != nil {
			return contracts.Extracted{}, err
		}
		text = string(b)
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		var title string
		text, title, err = htmlText(body)
		if err != nil {
			return contracts.Extracted{}, fmt.Errorf("parse html: %w", err)
		}
		if title != "" {
			meta["title"] = title
		}
	default:
		return contracts.Extracted{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	if strings.TrimSpace(text) == "" {
		return contracts.Extracted{}, ErrNoText
	}
	return contracts.Extracted{Text: text, Metadata: meta}, nil
}
