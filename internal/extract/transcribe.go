package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
)

// Transcriber converts audio and video to text through an
// OpenAI-compatible /audio/transcriptions endpoint.
type Transcriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewTranscriber creates a transcriber. baseURL defaults to the OpenAI API.
func NewTranscriber(baseURL, apiKey, model string, client *http.Client) *Transcriber {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "whisper-1"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Transcriber{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, client: client}
}

// Transcribe uploads the media bytes and returns the transcript text.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	if t.apiKey == "" {
		return "", errs.Missing("transcription", "api_key")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.model); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &errs.UpstreamProviderError{Provider: "openai", Operation: "transcribe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &errs.UpstreamProviderError{Provider: "openai", Operation: "transcribe", StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
