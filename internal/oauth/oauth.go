// Package oauth runs the Slack and Discord authorization-code flows that
// attach platform tokens to an existing deployment.
//
// The callback never fails at the HTTP level: every outcome is a redirect
// to the dashboard carrying oauth_success, platform and an error code.
package oauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
)

// Callback error codes.
const (
	ErrMissingCode        = "missing_code"
	ErrMissingDeployment  = "missing_deployment"
	ErrUnknownPlatform    = "unknown_platform"
	ErrInvalidState       = "invalid_state"
	ErrDeploymentNotFound = "deployment_not_found"
	ErrPlatformMismatch   = "platform_mismatch"
	ErrExchangeFailed     = "exchange_failed"
	ErrSaveFailed         = "save_failed"
	ErrNotConfigured      = "not_configured"
)

// StateTTL bounds how long a consent round trip may take.
const StateTTL = 15 * time.Minute

var (
	slackEndpoint = oauth2.Endpoint{
		AuthURL:  "https://slack.com/oauth/v2/authorize",
		TokenURL: "https://slack.com/api/oauth.v2.access",
	}
	discordEndpoint = oauth2.Endpoint{
		AuthURL:   "https://discord.com/oauth2/authorize",
		TokenURL:  "https://discord.com/api/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
)

// Options configures a Flow.
type Options struct {
	Store         store.Store
	Config        config.OAuthConfig
	PublicBaseURL string
	DashboardURL  string
	Client        *http.Client
	Now           func() time.Time
}

// Flow builds consent URLs and completes callbacks.
type Flow struct {
	store     store.Store
	cfg       config.OAuthConfig
	publicURL string
	dashboard string
	client    *http.Client
	secret    []byte
	now       func() time.Time
}

// New creates a Flow. Without a configured state secret a random one is
// generated, so pending consents do not survive a restart.
func New(opts Options) *Flow {
	secret := []byte(opts.Config.StateSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("oauth: generate state secret: %v", err))
		}
		log.Warn().Msg("OAuth state secret not configured, using an ephemeral key")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Flow{
		store:     opts.Store,
		cfg:       opts.Config,
		publicURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		dashboard: opts.DashboardURL,
		client:    opts.Client,
		secret:    secret,
		now:       opts.Now,
	}
}

// RedirectURI is the callback registered with the provider.
func (f *Flow) RedirectURI(platform models.Platform, deploymentID string) string {
	return f.publicURL + "/deployments/oauth/" + string(platform) + "/callback?deploymentId=" + url.QueryEscape(deploymentID)
}

func (f *Flow) oauthConfig(platform models.Platform, deploymentID string) (*oauth2.Config, error) {
	c := &oauth2.Config{RedirectURL: f.RedirectURI(platform, deploymentID)}
	switch platform {
	case models.PlatformSlack:
		c.ClientID, c.ClientSecret, c.Endpoint = f.cfg.SlackClientID, f.cfg.SlackClientSecret, slackEndpoint
	case models.PlatformDiscord:
		c.ClientID, c.ClientSecret, c.Endpoint = f.cfg.DiscordClientID, f.cfg.DiscordClientSecret, discordEndpoint
		c.Scopes = splitScopes(f.cfg.DiscordScopes)
	default:
		return nil, &errs.UnsupportedPlatformError{Platform: string(platform)}
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, errs.Missing(string(platform), "clientId", "clientSecret")
	}
	return c, nil
}

func splitScopes(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, p)
	}
	return out
}

// ── State ───────────────────────────────────────────────────

type stateClaims struct {
	DeploymentID string `json:"did"`
	Platform     string `json:"plt"`
	jwt.RegisteredClaims
}

func (f *Flow) signState(platform models.Platform, deploymentID string) (string, error) {
	now := f.now()
	claims := stateClaims{
		DeploymentID: deploymentID,
		Platform:     string(platform),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
}

func (f *Flow) verifyState(state string, platform models.Platform, deploymentID string) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return f.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(f.now))
	if err != nil {
		return err
	}
	if claims.DeploymentID != deploymentID || claims.Platform != string(platform) {
		return errors.New("state does not match callback")
	}
	return nil
}

// ── Start ───────────────────────────────────────────────────

// Start returns the provider consent URL for a deployment.
func (f *Flow) Start(ctx context.Context, platformName, deploymentID string) (string, error) {
	platform, ok := models.ParsePlatform(platformName)
	if !ok {
		return "", &errs.UnsupportedPlatformError{Platform: platformName}
	}
	if deploymentID == "" {
		return "", &errs.NotFoundError{Entity: "deployment", Key: ""}
	}
	d, err := f.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	if d.Platform != platform {
		return "", &errs.PlatformMismatchError{DeploymentID: d.ID, Requested: string(platform), Stored: string(d.Platform)}
	}
	c, err := f.oauthConfig(platform, d.ID)
	if err != nil {
		return "", err
	}
	state, err := f.signState(platform, d.ID)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}

	var params []oauth2.AuthCodeOption
	switch platform {
	case models.PlatformSlack:
		// Slack v2 expects comma-separated bot scopes.
		params = append(params, oauth2.SetAuthURLParam("scope", strings.Join(splitScopes(f.cfg.SlackScopes), ",")))
	case models.PlatformDiscord:
		params = append(params, oauth2.SetAuthURLParam("permissions", "2048"))
	}
	return c.AuthCodeURL(state, params...), nil
}

// ── Callback ────────────────────────────────────────────────

// Callback completes the exchange and returns the dashboard redirect.
func (f *Flow) Callback(ctx context.Context, platformName string, query url.Values) string {
	platform, ok := models.ParsePlatform(platformName)
	if !ok || (platform != models.PlatformSlack && platform != models.PlatformDiscord) {
		return f.failure(platformName, ErrUnknownPlatform)
	}
	code := query.Get("code")
	if code == "" {
		return f.failure(platformName, ErrMissingCode)
	}
	deploymentID := query.Get("deploymentId")
	if deploymentID == "" {
		return f.failure(platformName, ErrMissingDeployment)
	}
	if err := f.verifyState(query.Get("state"), platform, deploymentID); err != nil {
		log.Warn().Err(err).Str("deployment", deploymentID).Msg("OAuth state rejected")
		return f.failure(platformName, ErrInvalidState)
	}

	d, err := f.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return f.failure(platformName, ErrDeploymentNotFound)
	}
	if d.Platform != platform {
		return f.failure(platformName, ErrPlatformMismatch)
	}

	var tokens map[string]any
	switch platform {
	case models.PlatformSlack:
		tokens, err = f.exchangeSlack(ctx, d, code)
	case models.PlatformDiscord:
		tokens, err = f.exchangeDiscord(ctx, d, code)
	}
	if err != nil {
		log.Warn().Err(err).Str("deployment", d.ID).Str("platform", platformName).Msg("OAuth exchange failed")
		return f.failure(platformName, ErrExchangeFailed)
	}

	if d.Config == nil {
		d.Config = map[string]any{}
	}
	d.Config[string(platform)] = mergeMaps(d.Config[string(platform)], tokens)
	if err := f.store.UpdateDeployment(ctx, d); err != nil {
		log.Error().Err(err).Str("deployment", d.ID).Msg("Failed to save OAuth tokens")
		return f.failure(platformName, ErrSaveFailed)
	}

	log.Info().Str("deployment", d.ID).Str("platform", platformName).Msg("OAuth tokens stored")
	return f.redirect(url.Values{"oauth_success": {"true"}, "platform": {platformName}})
}

func (f *Flow) exchangeSlack(ctx context.Context, d *models.Deployment, code string) (map[string]any, error) {
	resp, err := slack.GetOAuthV2ResponseContext(ctx, f.client,
		f.cfg.SlackClientID, f.cfg.SlackClientSecret, code, f.RedirectURI(models.PlatformSlack, d.ID))
	if err != nil {
		return nil, &errs.UpstreamProviderError{Provider: "slack", Operation: "oauth.v2.access", Err: err}
	}
	if resp.AccessToken == "" {
		return nil, &errs.UpstreamProviderError{Provider: "slack", Operation: "oauth.v2.access", Message: "no access token returned"}
	}
	d.Credentials.AccessToken = resp.AccessToken
	d.Credentials.BotToken = resp.AccessToken
	d.Credentials.RefreshToken = resp.RefreshToken
	return map[string]any{
		"accessToken":  resp.AccessToken,
		"tokenType":    resp.TokenType,
		"scope":        resp.Scope,
		"botUserId":    resp.BotUserID,
		"appId":        resp.AppID,
		"teamId":       resp.Team.ID,
		"teamName":     resp.Team.Name,
		"authedUserId": resp.AuthedUser.ID,
	}, nil
}

func (f *Flow) exchangeDiscord(ctx context.Context, d *models.Deployment, code string) (map[string]any, error) {
	c, err := f.oauthConfig(models.PlatformDiscord, d.ID)
	if err != nil {
		return nil, err
	}
	tok, err := c.Exchange(context.WithValue(ctx, oauth2.HTTPClient, f.client), code)
	if err != nil {
		return nil, &errs.UpstreamProviderError{Provider: "discord", Operation: "oauth2/token", Err: err}
	}
	d.Credentials.AccessToken = tok.AccessToken
	d.Credentials.RefreshToken = tok.RefreshToken
	out := map[string]any{
		"accessToken":  tok.AccessToken,
		"refreshToken": tok.RefreshToken,
		"tokenType":    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		out["expiresAt"] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out["scope"] = scope
	}
	if guild, ok := tok.Extra("guild").(map[string]any); ok {
		if id, ok := guild["id"].(string); ok {
			out["guildId"] = id
		}
	}
	return out, nil
}

func mergeMaps(existing any, updates map[string]any) map[string]any {
	out := map[string]any{}
	if m, ok := existing.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range updates {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// FailureURL is the dashboard redirect for a failed Start.
func (f *Flow) FailureURL(platform string, err error) string {
	return f.failure(platform, StartErrorCode(err))
}

// StartErrorCode maps a Start error onto a dashboard error code.
func StartErrorCode(err error) string {
	switch {
	case errs.IsUnsupportedPlatform(err):
		return ErrUnknownPlatform
	case errs.IsPlatformMismatch(err):
		return ErrPlatformMismatch
	case errs.IsNotFound(err):
		return ErrDeploymentNotFound
	case errs.IsConfiguration(err):
		return ErrNotConfigured
	default:
		return ErrExchangeFailed
	}
}

func (f *Flow) failure(platform, code string) string {
	return f.redirect(url.Values{"oauth_success": {"false"}, "platform": {platform}, "error": {code}})
}

func (f *Flow) redirect(q url.Values) string {
	u, err := url.Parse(f.dashboard)
	if err != nil {
		return f.dashboard + "?" + q.Encode()
	}
	existing := u.Query()
	for k, v := range q {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()
	return u.String()
}
