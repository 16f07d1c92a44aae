package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

var (
	// ErrNoRefreshToken means the user never granted offline access and must
	// reconnect their mail account.
	ErrNoRefreshToken = errors.New("no refresh token on file")

	// ErrInsufficientScope means the token cannot send mail.
	ErrInsufficientScope = errors.New("token lacks gmail send scope")

	// ErrRefreshFailed wraps token endpoint failures.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// NewOAuthConfig returns the web-client OAuth configuration. redirectURL
// "postmessage" is used by the popup code flow of the frontend.
func NewOAuthConfig(clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = LoginScopes
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

// Client performs the login side of the OAuth flow: consent URL, code
// exchange, user info and token introspection.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
	apiOptions []option.ClientOption
	metrics    *instrumentation.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the base HTTP client for token and API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIOptions appends options for the oauth2/v2 service, such as a test endpoint.
func WithAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(c *Client) { c.apiOptions = append(c.apiOptions, opts...) }
}

// WithMetrics records Google API operations on m.
func WithMetrics(m *instrumentation.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a login client for config.
func NewClient(config *oauth2.Config, opts ...ClientOption) *Client {
	c := &Client{config: config}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the underlying OAuth configuration.
func (c *Client) Config() *oauth2.Config {
	return c.config
}

// AuthCodeURL returns the consent URL. Offline access and a forced consent
// prompt make Google return a refresh token on every grant.
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	start := time.Now()
	tok, err := c.config.Exchange(withHTTPClient(ctx, c.httpClient), code)
	c.record(ctx, instrumentation.OperationExchange, err, start)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// UserInfo returns the Google profile of the token's owner.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (store.GoogleProfile, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return store.GoogleProfile{}, err
	}

	start := time.Now()
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	c.record(ctx, instrumentation.OperationUserInfo, err, start)
	if err != nil {
		return store.GoogleProfile{}, fmt.Errorf("fetch user info: %w", err)
	}
	if info.Id == "" || info.Email == "" {
		return store.GoogleProfile{}, fmt.Errorf("fetch user info: incomplete profile")
	}
	return store.GoogleProfile{
		GoogleID: info.Id,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	}, nil
}

// TokenScopes asks Google's tokeninfo endpoint which scopes accessToken carries.
func (c *Client) TokenScopes(ctx context.Context, accessToken string) (string, error) {
	svc, err := c.service(ctx, &oauth2.Token{AccessToken: accessToken})
	if err != nil {
		return "", err
	}

	start := time.Now()
	info, err := svc.Tokeninfo().AccessToken(accessToken).Context(ctx).Do()
	c.record(ctx, instrumentation.OperationTokenInfo, err, start)
	if err != nil {
		return "", fmt.Errorf("fetch token info: %w", err)
	}
	return info.Scope, nil
}

func (c *Client) service(ctx context.Context, tok *oauth2.Token) (*oauth2api.Service, error) {
	hc := oauth2.NewClient(withHTTPClient(ctx, c.httpClient), oauth2.StaticTokenSource(tok))
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, c.apiOptions...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create oauth2 service: %w", err)
	}
	return svc, nil
}

func (c *Client) record(ctx context.Context, operation string, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth2, operation, status, time.Since(start))
}

// TokensFromOAuth converts a token response into the stored representation.
func TokensFromOAuth(tok *oauth2.Token) models.Tokens {
	return models.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       grantedScopes(tok),
	}
}

// grantedScopes returns the space separated scope field of a token
// response, or "" when the endpoint did not send one.
func grantedScopes(tok *oauth2.Token) string {
	if s, ok := tok.Extra("scope").(string); ok {
		return s
	}
	return ""
}

func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
