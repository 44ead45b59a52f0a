// Package models defines the core domain types for agentdock.
// These are shared across the HTTP API, the dispatch service, the
// ingestion pipeline and the storage layer.
package models

import (
	"strings"
	"time"
)

// ── Platform ─────────────────────────────────────────────────

// Platform identifies the third-party surface a Deployment is bound to.
type Platform string

const (
	PlatformWebsite  Platform = "website"
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"
	PlatformTwitter  Platform = "twitter"
	PlatformHashnode Platform = "hashnode"
	PlatformNotion   Platform = "notion"
	PlatformEmail    Platform = "email"
)

// Platforms lists every platform the system knows about.
var Platforms = []Platform{
	PlatformWebsite, PlatformTelegram, PlatformSlack, PlatformDiscord,
	PlatformTwitter, PlatformHashnode, PlatformNotion, PlatformEmail,
}

// ParsePlatform returns the Platform for s, or false when unknown.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// ── Deployment ───────────────────────────────────────────────

// DeploymentStatus is the lifecycle state of a Deployment.
type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentActive   DeploymentStatus = "active"
	DeploymentError    DeploymentStatus = "error"
	DeploymentInactive DeploymentStatus = "inactive"
)

// deploymentTransitions is the allowed status graph. Redeploy moves an
// active or errored deployment back to pending.
var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPending:  {DeploymentActive, DeploymentError, DeploymentInactive},
	DeploymentActive:   {DeploymentInactive, DeploymentError, DeploymentPending},
	DeploymentError:    {DeploymentPending, DeploymentInactive},
	DeploymentInactive: {},
}

// CanTransition reports whether a deployment may move from one status to another.
// Re-asserting the current status is always allowed.
func CanTransition(from, to DeploymentStatus) bool {
	if from == to {
		return true
	}
	for _, s := range deploymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Credentials is the normalized credential subset written by the OAuth flow.
type Credentials struct {
	AccessToken   string `json:"accessToken,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	BotToken      string `json:"botToken,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

// DeploymentStats are usage counters updated out-of-band by webhook traffic.
type DeploymentStats struct {
	Views             int64            `json:"views"`
	Chats             int64            `json:"chats"`
	AvgResponseTimeMs float64          `json:"avgResponseTimeMs"`
	Events            map[string]int64 `json:"events,omitempty"`
}

// Deployment binds one Agent to one messaging platform.
type Deployment struct {
	ID          string           `json:"id"`
	AgentID     string           `json:"agentId"`
	UserID      string           `json:"userId"`
	Platform    Platform         `json:"platform"`
	Status      DeploymentStatus `json:"status"`
	Config      map[string]any   `json:"config"`
	Credentials Credentials      `json:"credentials"`
	Stats       DeploymentStats  `json:"stats"`
	LastPing    *time.Time       `json:"lastPing,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	DeployedAt  *time.Time       `json:"deployedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ConfigString reads a string value from the deployment config.
// Nested keys are separated by dots, e.g. "slack.accessToken".
func (d *Deployment) ConfigString(path string) string {
	var cur any = d.Config
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}

// ConfigStrings reads a string list from the deployment config. Both JSON
// arrays and comma-separated strings are accepted.
func (d *Deployment) ConfigStrings(key string) []string {
	switch v := d.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Redacted returns a copy with secret-looking config values and all
// credentials masked. Used for API responses and logs.
func (d *Deployment) Redacted() *Deployment {
	cp := *d
	cp.Config = redactMap(d.Config)
	cp.Credentials = Credentials{
		AccessToken:   mask(d.Credentials.AccessToken),
		RefreshToken:  mask(d.Credentials.RefreshToken),
		BotToken:      mask(d.Credentials.BotToken),
		APIKey:        mask(d.Credentials.APIKey),
		WebhookSecret: mask(d.Credentials.WebhookSecret),
	}
	return &cp
}

var secretMarkers = []string{"token", "secret", "key", "password"}

func redactMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case map[string]any:
			out[k] = redactMap(val)
		case string:
			lk := strings.ToLower(k)
			secret := false
			for _, m := range secretMarkers {
				if strings.Contains(lk, m) && lk != "publickey" {
					secret = true
					break
				}
			}
			if secret {
				out[k] = mask(val)
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// DeploymentActivity is one inbound webhook observation.
type DeploymentActivity struct {
	At           time.Time
	Event        string
	Chat         bool
	ResponseTime time.Duration
}

// DeploymentRequest is the body of a create-deployment call.
type DeploymentRequest struct {
	AgentID  string         `json:"agentId"`
	Platform string         `json:"platform"`
	Config   map[string]any `json:"config"`
}

// DeploymentFilter narrows deployment listings. Empty fields match all.
type DeploymentFilter struct {
	UserID   string
	AgentID  string
	Platform Platform
	Status   DeploymentStatus
}

// ── Agent ────────────────────────────────────────────────────

// AgentStatus is the training state of an Agent.
type AgentStatus string

const (
	AgentTraining AgentStatus = "training"
	AgentTrained  AgentStatus = "trained"
	AgentFailed   AgentStatus = "failed"
)

// Agent is a RAG chatbot owned by a user.
type Agent struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Persona     string      `json:"persona,omitempty"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ── Training ─────────────────────────────────────────────────

// TrainJobStatus is the state of an ingestion job.
type TrainJobStatus string

const (
	TrainQueued     TrainJobStatus = "queued"
	TrainProcessing TrainJobStatus = "processing"
	TrainCompleted  TrainJobStatus = "completed"
	TrainFailed     TrainJobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TrainJobStatus) Terminal() bool {
	return s == TrainCompleted || s == TrainFailed
}

// Source is where ingested content came from.
type Source string

const (
	SourceAudio    Source = "audio"
	SourceVideo    Source = "video"
	SourceDocument Source = "document"
	SourceWebsite  Source = "website"
	SourceYouTube  Source = "youtube"
	SourceText     Source = "text"
)

// ParseSource returns the Source for s, or false when unknown.
func ParseSource(s string) (Source, bool) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceAudio, SourceVideo, SourceDocument, SourceWebsite, SourceYouTube, SourceText:
		return src, true
	}
	return "", false
}

// TrainFile is one uploaded file attached to a training request.
type TrainFile struct {
	Name     string `json:"name"`
	FileType string `json:"fileType"`
	Data     []byte `json:"data"`
}

// TrainRequest asks for content to be ingested into an agent's memory.
// Exactly one of Text, Files or URLs is used, selected by Source.
type TrainRequest struct {
	AgentID string      `json:"agentId"`
	Source  Source      `json:"source"`
	Text    string      `json:"text,omitempty"`
	URLs    []string    `json:"urls,omitempty"`
	Files   []TrainFile `json:"files,omitempty"`
}

// TrainResult summarises a completed job.
type TrainResult struct {
	Message        string         `json:"message"`
	Inserted       int            `json:"inserted"`
	Skipped        int            `json:"skipped"`
	Degraded       int            `json:"degraded"`
	Source         Source         `json:"source"`
	SourceURL      string         `json:"sourceUrl,omitempty"`
	SourceMetadata map[string]any `json:"sourceMetadata,omitempty"`
	Truncated      bool           `json:"truncated,omitempty"`
}

// TrainError is the structured failure detail of a job.
type TrainError struct {
	Error   string         `json:"error"`
	Source  Source         `json:"source"`
	Details map[string]any `json:"details,omitempty"`
}

// TrainJob tracks one asynchronous ingestion request.
type TrainJob struct {
	JobID           string         `json:"jobId"`
	AgentID         string         `json:"agentId"`
	UserID          string         `json:"userId"`
	Source          Source         `json:"source"`
	Status          TrainJobStatus `json:"status"`
	Progress        int            `json:"progress"`
	ChunksProcessed int            `json:"chunksProcessed"`
	TotalChunks     int            `json:"totalChunks"`
	SuccessCount    int            `json:"successCount"`
	ErrorCount      int            `json:"errorCount"`
	SkippedCount    int            `json:"skippedCount"`
	Warning         string         `json:"warning,omitempty"`
	Result          *TrainResult   `json:"result,omitempty"`
	Error           *TrainError    `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// ── Memory ───────────────────────────────────────────────────

// ChunkMetadata locates a Memory within its source document.
type ChunkMetadata struct {
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// Memory is one embedded, deduplicated chunk. Append-only.
type Memory struct {
	ID             string        `json:"id"`
	AgentID        string        `json:"agentId"`
	Text           string        `json:"text"`
	Embedding      []float64     `json:"embedding"`
	ContentHash    string        `json:"contentHash"`
	ContentVersion int           `json:"contentVersion"`
	Source         Source        `json:"source"`
	SourceURL      string        `json:"sourceUrl,omitempty"`
	ChunkMetadata  ChunkMetadata `json:"chunkMetadata"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// ScoredMemory is a search hit.
type ScoredMemory struct {
	Memory
	Score float64 `json:"score"`
}
