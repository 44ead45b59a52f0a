package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
)

// ErrTranscriptUnavailable means the video has captions disabled or empty.
var ErrTranscriptUnavailable = errors.New("transcript unavailable")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// YouTubeTranscripts downloads caption tracks through the timedtext API.
type YouTubeTranscripts struct {
	client  *http.Client
	baseURL string
	lang    string
}

var _ contracts.Fetcher = (*YouTubeTranscripts)(nil)

// NewYouTubeTranscripts creates a transcript client.
func NewYouTubeTranscripts(client *http.Client, baseURL string) *YouTubeTranscripts {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://www.youtube.com"
	}
	return &YouTubeTranscripts{client: client, baseURL: strings.TrimRight(baseURL, "/"), lang: "en"}
}

// VideoID extracts the video id from watch, youtu.be, shorts and embed URLs.
func VideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid youtube url %q", raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(parts) >= 1 && parts[0] == "watch":
			id = u.Query().Get("v")
		case len(parts) >= 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live" || parts[0] == "v"):
			id = parts[1]
		}
	default:
		return "", fmt.Errorf("not a youtube url: %q", raw)
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("no video id in %q", raw)
	}
	return id, nil
}

type timedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Body  string `xml:",chardata"`
	} `xml:"text"`
}

// Fetch returns the transcript of the video at rawURL.
func (y *YouTubeTranscripts) Fetch(ctx context.Context, rawURL string) (contracts.Extracted, error) {
	id, err := VideoID(rawURL)
	if err != nil {
		return contracts.Extracted{}, err
	}

	q := url.Values{"v": {id}, "lang": {y.lang}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/api/timedtext?"+q.Encode(), nil)
	if err != nil {
		return contracts.Extracted{}, err
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return contracts.Extracted{}, &errs.UpstreamProviderError{Provider: "youtube", Operation: "transcript", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return contracts.Extracted{}, ErrTranscriptUnavailable
	case resp.StatusCode != http.StatusOK:
		return contracts.Extracted{}, &errs.UpstreamProviderError{Provider: "youtube", Operation: "transcript", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return contracts.Extracted{}, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return contracts.Extracted{}, ErrTranscriptUnavailable
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return contracts.Extracted{}, fmt.Errorf("parse transcript: %w", err)
	}
	lines := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		if line := collapseWhitespace(html.UnescapeString(t.Body)); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return contracts.Extracted{}, ErrTranscriptUnavailable
	}
	return contracts.Extracted{
		Text:     strings.Join(lines, " "),
		Metadata: map[string]any{"videoId": id, "url": rawURL, "segments": len(lines)},
	}, nil
}
