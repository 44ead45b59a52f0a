package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/agentdock/internal/api"
	"github.com/agentoven/agentdock/internal/api/handlers"
	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/connectors"
	"github.com/agentoven/agentdock/internal/dispatch"
	"github.com/agentoven/agentdock/internal/extract"
	"github.com/agentoven/agentdock/internal/ingest"
	"github.com/agentoven/agentdock/internal/lifecycle"
	"github.com/agentoven/agentdock/internal/oauth"
	"github.com/agentoven/agentdock/internal/queue"
	"github.com/agentoven/agentdock/internal/responder"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) contracts.Embedding {
	return contracts.Embedding{Vector: []float64{1, float64(len(text) % 7), 0.5}}
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req contracts.GenerateRequest) (string, error) {
	return "You said " + req.Message, nil
}

// platformAPI records calls made to the fake platform API.
type platformAPI struct {
	mu    sync.Mutex
	calls map[string]map[string]any
}

func (p *platformAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.calls[r.URL.Path] = body
	p.mu.Unlock()
	io.WriteString(w, `{"ok":true,"result":true}`)
}

func (p *platformAPI) call(path string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

type harness struct {
	server *httptest.Server
	store  store.Store
	queue  *queue.MemoryQueue
	worker *queue.Worker
	api    *platformAPI
}

func newHarness(t *testing.T, apiKeys ...string) *harness {
	t.Helper()
	s := store.NewMemoryStore("")
	q := queue.NewMemoryQueue(16)

	platform := &platformAPI{calls: map[string]map[string]any{}}
	upstream := httptest.NewServer(platform)

	emb := stubEmbedder{}
	conns := connectors.All(connectors.Options{
		Client:        upstream.Client(),
		Responder:     responder.New(s, emb, stubGenerator{}, 3, ""),
		PublicBaseURL: "https://dock.example.com",
		APIBase:       upstream.URL,
		Spawn:         func(f func()) { f() },
	})
	disp := dispatch.New(s, conns...)
	manager := lifecycle.New(s, q, disp)
	pipeline := ingest.New(ingest.Deps{
		Store:    s,
		Queue:    q,
		Parser:   extract.NewParser(nil),
		Embedder: emb,
	}, config.IngestConfig{ChunkSize: 1000, ChunkOverlap: 200, MaxTextBytes: 50 << 20, FileConcurrency: 2})

	w := queue.NewWorker(q, queue.WorkerOptions{Concurrency: 1, BaseDelay: time.Millisecond})
	w.Handle(queue.TypeDeploymentActivate, manager.Handle)
	w.Handle(queue.TypeTrainIngest, pipeline.Handle)

	cfg := &config.Config{
		Version:       "test",
		PublicBaseURL: "https://dock.example.com",
		DashboardURL:  "https://app.example.com/deployments",
		Auth:          config.AuthConfig{APIKeys: apiKeys, UserIDHeader: "X-User-Id"},
	}
	h := &handlers.Handlers{
		Store:     s,
		Lifecycle: manager,
		Pipeline:  pipeline,
		Dispatch:  disp,
		OAuth: oauth.New(oauth.Options{
			Store:         s,
			PublicBaseURL: cfg.PublicBaseURL,
			DashboardURL:  cfg.DashboardURL,
		}),
	}
	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(func() {
		srv.Close()
		upstream.Close()
		q.Close()
		s.Close()
	})
	return &harness{server: srv, store: s, queue: q, worker: w, api: platform}
}

// drain processes one queued job.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := h.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	h.worker.Process(ctx, job)
}

func (h *harness) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.server.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (h *harness) createAgent(t *testing.T, user string) models.Agent {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/v1/agents", user, map[string]string{"name": "docs bot", "persona": "friendly"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create agent status = %d", resp.StatusCode)
	}
	return decode[models.Agent](t, resp)
}

// ── End to end ──────────────────────────────────────────────

func TestTelegramEndToEnd(t *testing.T) {
	h := newHarness(t)

	agent := h.createAgent(t, "u1")
	if agent.Status != models.AgentTraining {
		t.Errorf("new agent status = %q, want training", agent.Status)
	}

	resp := h.do(t, http.MethodPost, "/api/v1/train", "u1", models.TrainRequest{
		AgentID: agent.ID,
		Source:  models.SourceText,
		Text:    "Hello world. This is a test.",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("train status = %d", resp.StatusCode)
	}
	queued := decode[map[string]string](t, resp)
	h.drain(t)

	job := decode[models.TrainJob](t, h.do(t, http.MethodGet, "/api/v1/train/status/"+queued["jobId"], "u1", nil))
	if job.Status != models.TrainCompleted {
		t.Fatalf("job status = %q, error = %+v", job.Status, job.Error)
	}
	if n, _ := h.store.CountMemories(context.Background(), agent.ID); n != 1 {
		t.Errorf("memories = %d, want 1", n)
	}

	resp = h.do(t, http.MethodPost, "/api/v1/deployments", "u1", map[string]any{
		"agentId":  agent.ID,
		"platform": "telegram",
		"config":   map[string]any{"botToken": "T"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create deployment status = %d", resp.StatusCode)
	}
	dep := decode[models.Deployment](t, resp)
	if dep.Status != models.DeploymentPending {
		t.Errorf("new deployment status = %q, want pending", dep.Status)
	}
	h.drain(t)

	got := decode[models.Deployment](t, h.do(t, http.MethodGet, "/api/v1/deployments/"+dep.ID, "u1", nil))
	if got.Status != models.DeploymentActive {
		t.Fatalf("deployment status = %q (%s), want active", got.Status, got.LastError)
	}
	if set := h.api.call("/botT/setWebhook"); set == nil || set["url"] != "https://dock.example.com/webhooks/telegram/"+dep.ID {
		t.Fatalf("setWebhook body = %v", set)
	}

	resp = h.do(t, http.MethodPost, "/webhooks/telegram/"+dep.ID, "", map[string]any{
		"message": map[string]any{"text": "hi", "chat": map[string]any{"id": 42}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d", resp.StatusCode)
	}
	sent := h.api.call("/botT/sendMessage")
	if sent == nil || sent["chat_id"] != float64(42) || sent["text"] != "You said hi" {
		t.Errorf("sendMessage body = %v", sent)
	}

	stored, _ := h.store.GetDeployment(context.Background(), dep.ID)
	if stored.Stats.Chats != 1 {
		t.Errorf("chats = %d, want 1", stored.Stats.Chats)
	}
}

func TestDeploymentRedactsSecrets(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, "u1")

	resp := h.do(t, http.MethodPost, "/api/v1/deployments", "u1", map[string]any{
		"agentId":  agent.ID,
		"platform": "telegram",
		"config":   map[string]any{"botToken": "123456:very-secret-token"},
	})
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "very-secret-token") {
		t.Errorf("response leaked bot token: %s", body)
	}
}

// ── Errors ──────────────────────────────────────────────────

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, "u1")

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"foreign agent hidden", http.MethodGet, "/api/v1/agents/" + agent.ID, "u2", nil, http.StatusNotFound},
		{"missing deployment", http.MethodGet, "/api/v1/deployments/nope", "u1", nil, http.StatusNotFound},
		{"unsupported platform", http.MethodPost, "/api/v1/deployments", "u1",
			map[string]any{"agentId": agent.ID, "platform": "myspace"}, http.StatusBadRequest},
		{"bad train source", http.MethodPost, "/api/v1/train", "u1",
			map[string]any{"agentId": agent.ID, "source": "text"}, http.StatusBadRequest},
		{"agent name required", http.MethodPost, "/api/v1/agents", "u1", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, tt.user, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRedeployPendingConflicts(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, "u1")
	dep := decode[models.Deployment](t, h.do(t, http.MethodPost, "/api/v1/deployments", "u1", map[string]any{
		"agentId":  agent.ID,
		"platform": "telegram",
		"config":   map[string]any{"botToken": "T"},
	}))

	resp := h.do(t, http.MethodPost, "/api/v1/deployments/"+dep.ID+"/redeploy", "u1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("redeploy pending status = %d, want 409", resp.StatusCode)
	}
}

func TestWebhookFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	slackDep := &models.Deployment{
		AgentID:  "a1",
		UserID:   "u1",
		Platform: models.PlatformSlack,
		Status:   models.DeploymentActive,
		Config:   map[string]any{"signingSecret": "shh"},
	}
	h.store.CreateDeployment(ctx, slackDep)

	req, _ := http.NewRequest(http.MethodPost, h.server.URL+"/webhooks/slack/"+slackDep.ID, strings.NewReader(`{"type":"event_callback"}`))
	req.Header.Set("X-Slack-Request-Timestamp", "1")
	req.Header.Set("X-Slack-Signature", "v0=bad")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("bad signature status = %d, want 500", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPost, "/webhooks/discord/"+slackDep.ID, "", map[string]any{})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("platform mismatch status = %d, want 500", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPost, "/webhooks/telegram/missing", "", map[string]any{})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("missing deployment status = %d, want 500", resp.StatusCode)
	}
}

func TestTrainMultipart(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, "u1")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("agentId", agent.ID)
	mw.WriteField("source", "document")
	fw, _ := mw.CreateFormFile("files", "notes.txt")
	io.WriteString(fw, "Opening hours are nine to five. Closed on Sundays.")
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, h.server.URL+"/api/v1/train", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Id", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("multipart train status = %d", resp.StatusCode)
	}
	queued := decode[map[string]string](t, resp)
	h.drain(t)

	jobs := decode[[]models.TrainJob](t, h.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID+"/train/jobs", "u1", nil))
	if len(jobs) != 1 || jobs[0].JobID != queued["jobId"] || jobs[0].Status != models.TrainCompleted {
		t.Errorf("jobs = %+v", jobs)
	}
}

// ── Auth and public routes ──────────────────────────────────

func TestAPIKeyProtectsManagementRoutes(t *testing.T) {
	h := newHarness(t, "k1")

	resp := h.do(t, http.MethodGet, "/api/v1/agents", "u1", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without key status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, h.server.URL+"/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer k1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with key status = %d, want 200", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestOAuthStartNotConfiguredRedirects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dep := &models.Deployment{UserID: "u1", Platform: models.PlatformSlack, Status: models.DeploymentPending, Config: map[string]any{}}
	h.store.CreateDeployment(ctx, dep)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(h.server.URL + "/deployments/oauth/slack?deploymentId=" + dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if loc.Host != "app.example.com" || loc.Query().Get("error") != oauth.ErrNotConfigured {
		t.Errorf("Location = %s", loc)
	}

	resp, err = client.Get(h.server.URL + "/deployments/oauth/slack/callback?deploymentId=" + dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	loc, _ = url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != oauth.ErrMissingCode {
		t.Errorf("callback Location = %s", loc)
	}
}
