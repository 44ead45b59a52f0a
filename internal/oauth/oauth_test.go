package oauth_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/oauth"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/models"
)

// rewrite sends every request to the test server regardless of host.
type rewrite struct{ target *url.URL }

func (r rewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	req.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type fixture struct {
	flow  *oauth.Flow
	store store.Store
	dep   *models.Deployment

	mu    sync.Mutex
	paths []string
}

func (fx *fixture) calls() []string {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]string(nil), fx.paths...)
}

func newFixture(t *testing.T, platform models.Platform, provider http.HandlerFunc) *fixture {
	t.Helper()
	fx := &fixture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		fx.paths = append(fx.paths, r.URL.Path)
		fx.mu.Unlock()
		provider(w, r)
	}))
	t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)

	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	d := &models.Deployment{AgentID: "a1", UserID: "u1", Platform: platform, Status: models.DeploymentPending,
		Config: map[string]any{"signingSecret": "keep-me"}}
	if err := s.CreateDeployment(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	fx.store = s
	fx.dep = d
	fx.flow = oauth.New(oauth.Options{
		Store: s,
		Config: config.OAuthConfig{
			StateSecret:         "state-secret",
			SlackClientID:       "slack-id",
			SlackClientSecret:   "slack-secret",
			SlackScopes:         "app_mentions:read,chat:write",
			DiscordClientID:     "discord-id",
			DiscordClientSecret: "discord-secret",
			DiscordScopes:       "bot,applications.commands",
		},
		PublicBaseURL: "https://dock.example.com",
		DashboardURL:  "https://app.example.com/deployments",
		Client:        &http.Client{Transport: rewrite{target: target}},
	})
	return fx
}

// stateFrom starts the flow and pulls the state out of the consent URL.
func (fx *fixture) stateFrom(t *testing.T, platform string) (string, *url.URL) {
	t.Helper()
	consent, err := fx.flow.Start(context.Background(), platform, fx.dep.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	u, err := url.Parse(consent)
	if err != nil {
		t.Fatal(err)
	}
	return u.Query().Get("state"), u
}

func redirectQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "app.example.com" {
		t.Errorf("redirect host = %q", u.Host)
	}
	return u.Query()
}

func TestStart_BuildsConsentURL(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, nil)
	state, u := fx.stateFrom(t, "slack")
	q := u.Query()
	if u.Host != "slack.com" || q.Get("client_id") != "slack-id" || state == "" {
		t.Errorf("consent URL = %s", u)
	}
	if q.Get("scope") != "app_mentions:read,chat:write" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
	want := "https://dock.example.com/deployments/oauth/slack/callback?deploymentId=" + fx.dep.ID
	if q.Get("redirect_uri") != want {
		t.Errorf("redirect_uri = %q, want %q", q.Get("redirect_uri"), want)
	}
}

func TestStart_Errors(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, nil)
	ctx := context.Background()
	if _, err := fx.flow.Start(ctx, "discord", fx.dep.ID); !errs.IsPlatformMismatch(err) {
		t.Errorf("mismatch error = %v", err)
	}
	if _, err := fx.flow.Start(ctx, "slack", "missing"); !errs.IsNotFound(err) {
		t.Errorf("missing deployment error = %v", err)
	}
	if _, err := fx.flow.Start(ctx, "fax", fx.dep.ID); !errs.IsUnsupportedPlatform(err) {
		t.Errorf("unknown platform error = %v", err)
	}
}

func TestCallback_SlackSuccessMergesTokens(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			io.WriteString(w, `{"ok":false,"error":"invalid_code"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"access_token":"xoxb-123","token_type":"bot","scope":"chat:write","bot_user_id":"UB","app_id":"A1","team":{"id":"T1","name":"Acme"},"authed_user":{"id":"U9"}}`)
	})
	state, _ := fx.stateFrom(t, "slack")

	dest := fx.flow.Callback(context.Background(), "slack", url.Values{
		"code": {"good-code"}, "deploymentId": {fx.dep.ID}, "state": {state},
	})
	q := redirectQuery(t, dest)
	if q.Get("oauth_success") != "true" || q.Get("platform") != "slack" {
		t.Fatalf("redirect = %s", dest)
	}
	if paths := fx.calls(); len(paths) != 1 || paths[0] != "/api/oauth.v2.access" {
		t.Errorf("provider paths = %v", paths)
	}

	d, _ := fx.store.GetDeployment(context.Background(), fx.dep.ID)
	if d.ConfigString("slack.accessToken") != "xoxb-123" || d.ConfigString("slack.teamName") != "Acme" {
		t.Errorf("config = %v", d.Config)
	}
	if d.ConfigString("signingSecret") != "keep-me" || d.Credentials.BotToken != "xoxb-123" {
		t.Errorf("existing config or credentials lost: %+v", d)
	}
}

func TestCallback_SlackProviderRejects(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":false,"error":"invalid_code"}`)
	})
	state, _ := fx.stateFrom(t, "slack")
	dest := fx.flow.Callback(context.Background(), "slack", url.Values{
		"code": {"bad"}, "deploymentId": {fx.dep.ID}, "state": {state},
	})
	q := redirectQuery(t, dest)
	if q.Get("oauth_success") != "false" || q.Get("error") != oauth.ErrExchangeFailed {
		t.Errorf("redirect = %s", dest)
	}
}

func TestCallback_DiscordSuccess(t *testing.T) {
	fx := newFixture(t, models.PlatformDiscord, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.URL.Path != "/api/oauth2/token" || r.Form.Get("code") != "dc" || r.Form.Get("client_id") != "discord-id" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"da","refresh_token":"dr","token_type":"Bearer","expires_in":604800,"scope":"bot","guild":{"id":"G1"}}`)
	})
	state, _ := fx.stateFrom(t, "discord")
	dest := fx.flow.Callback(context.Background(), "discord", url.Values{
		"code": {"dc"}, "deploymentId": {fx.dep.ID}, "state": {state},
	})
	if q := redirectQuery(t, dest); q.Get("oauth_success") != "true" {
		t.Fatalf("redirect = %s", dest)
	}
	d, _ := fx.store.GetDeployment(context.Background(), fx.dep.ID)
	if d.ConfigString("discord.accessToken") != "da" || d.ConfigString("discord.guildId") != "G1" || d.Credentials.RefreshToken != "dr" {
		t.Errorf("deployment = %+v", d)
	}
}

func TestCallback_FailureCodes(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called")
	})
	state, _ := fx.stateFrom(t, "slack")

	other := &models.Deployment{Platform: models.PlatformDiscord, Config: map[string]any{}}
	fx.store.CreateDeployment(context.Background(), other)

	tests := []struct {
		name     string
		platform string
		query    url.Values
		want     string
	}{
		{"unknown platform", "myspace", url.Values{"code": {"c"}, "deploymentId": {fx.dep.ID}}, oauth.ErrUnknownPlatform},
		{"non-oauth platform", "telegram", url.Values{"code": {"c"}, "deploymentId": {fx.dep.ID}}, oauth.ErrUnknownPlatform},
		{"missing code", "slack", url.Values{"deploymentId": {fx.dep.ID}, "state": {state}}, oauth.ErrMissingCode},
		{"missing deployment", "slack", url.Values{"code": {"c"}, "state": {state}}, oauth.ErrMissingDeployment},
		{"no state", "slack", url.Values{"code": {"c"}, "deploymentId": {fx.dep.ID}}, oauth.ErrInvalidState},
		{"tampered state", "slack", url.Values{"code": {"c"}, "deploymentId": {fx.dep.ID}, "state": {state + "x"}}, oauth.ErrInvalidState},
		{"state for another deployment", "slack", url.Values{"code": {"c"}, "deploymentId": {other.ID}, "state": {state}}, oauth.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := redirectQuery(t, fx.flow.Callback(context.Background(), tt.platform, tt.query))
			if q.Get("oauth_success") != "false" || q.Get("error") != tt.want || q.Get("platform") != tt.platform {
				t.Errorf("redirect query = %v, want error %s", q, tt.want)
			}
		})
	}
}

func TestCallback_DeploymentChecks(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called")
	})
	now := time.Now()

	// A valid state for a deployment that was deleted afterwards.
	state, _ := fx.stateFrom(t, "slack")
	fx.store.DeleteDeployment(context.Background(), fx.dep.ID)
	q := redirectQuery(t, fx.flow.Callback(context.Background(), "slack", url.Values{
		"code": {"c"}, "deploymentId": {fx.dep.ID}, "state": {state},
	}))
	if q.Get("error") != oauth.ErrDeploymentNotFound {
		t.Errorf("deleted deployment error = %q", q.Get("error"))
	}

	// An expired state.
	fx2 := newFixture(t, models.PlatformSlack, nil)
	expired := oauth.New(oauth.Options{
		Store:        fx2.store,
		Config:       config.OAuthConfig{StateSecret: "state-secret", SlackClientID: "i", SlackClientSecret: "s"},
		DashboardURL: "https://app.example.com/deployments",
		Now:          func() time.Time { return now.Add(-oauth.StateTTL - time.Minute) },
	})
	consent, err := expired.Start(context.Background(), "slack", fx2.dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(consent)
	q = redirectQuery(t, fx2.flow.Callback(context.Background(), "slack", url.Values{
		"code": {"c"}, "deploymentId": {fx2.dep.ID}, "state": {u.Query().Get("state")},
	}))
	if q.Get("error") != oauth.ErrInvalidState {
		t.Errorf("expired state error = %q", q.Get("error"))
	}
}

func TestCallback_PlatformMismatch(t *testing.T) {
	fx := newFixture(t, models.PlatformSlack, nil)
	// Sign a discord state for a slack deployment via a discord deployment's flow.
	s := fx.store
	d := &models.Deployment{Platform: models.PlatformDiscord, Config: map[string]any{}}
	s.CreateDeployment(context.Background(), d)
	consent, err := fx.flow.Start(context.Background(), "discord", d.ID)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(consent)
	state := u.Query().Get("state")

	// Re-point the deployment to slack after consent started.
	d.Platform = models.PlatformSlack
	s.UpdateDeployment(context.Background(), d)

	q := redirectQuery(t, fx.flow.Callback(context.Background(), "discord", url.Values{
		"code": {"c"}, "deploymentId": {d.ID}, "state": {state},
	}))
	if q.Get("error") != oauth.ErrPlatformMismatch {
		t.Errorf("error = %q, want platform_mismatch", q.Get("error"))
	}
	if !strings.Contains(consent, "permissions=") {
		t.Errorf("discord consent URL missing permissions: %s", consent)
	}
}

func TestStartErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&errs.UnsupportedPlatformError{Platform: "myspace"}, oauth.ErrUnknownPlatform},
		{&errs.PlatformMismatchError{DeploymentID: "d", Requested: "slack", Stored: "discord"}, oauth.ErrPlatformMismatch},
		{&errs.NotFoundError{Entity: "deployment", Key: "d"}, oauth.ErrDeploymentNotFound},
		{errs.Missing("slack", "clientId"), oauth.ErrNotConfigured},
	}
	for _, tt := range tests {
		if got := oauth.StartErrorCode(tt.err); got != tt.want {
			t.Errorf("StartErrorCode(%T) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
