package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
)

// DefaultExpiryThreshold is how close to expiry a cached access token is
// still handed out.
const DefaultExpiryThreshold = time.Minute

// DefaultRefreshTimeout bounds one round trip to the token endpoint.
const DefaultRefreshTimeout = 30 * time.Second

// TokenStore persists a refreshed token pair.
type TokenStore interface {
	UpdateTokens(ctx context.Context, userID string, tokens models.Tokens) error
}

// ScopeVerifier looks up the scopes granted to an access token.
type ScopeVerifier interface {
	TokenScopes(ctx context.Context, accessToken string) (string, error)
}

// TokenManager hands out send-capable access tokens for users, refreshing
// them against Google's token endpoint when needed. Refreshes for the same
// user are coalesced into one round trip.
type TokenManager struct {
	config     *oauth2.Config
	store      TokenStore
	verifier   ScopeVerifier
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	now        func() time.Time
	threshold  time.Duration
	timeout    time.Duration

	group singleflight.Group
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithScopeVerifier sets the tokeninfo fallback used when neither the token
// response nor the user record says which scopes were granted.
func WithScopeVerifier(v ScopeVerifier) TokenManagerOption {
	return func(m *TokenManager) { m.verifier = v }
}

// WithTokenHTTPClient sets the HTTP client used to reach the token endpoint.
func WithTokenHTTPClient(hc *http.Client) TokenManagerOption {
	return func(m *TokenManager) { m.httpClient = hc }
}

// WithTokenMetrics records refresh outcomes on metrics.
func WithTokenMetrics(metrics *instrumentation.Metrics) TokenManagerOption {
	return func(m *TokenManager) { m.metrics = metrics }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenManagerOption {
	return func(m *TokenManager) { m.logger = logger }
}

// WithRefreshTimeout bounds a refresh; zero leaves it unbounded. The refresh is shared by every
// caller waiting on it and does not end when one of them gives up.
func WithRefreshTimeout(d time.Duration) TokenManagerOption {
	return func(m *TokenManager) { m.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager creates a TokenManager that refreshes through config and
// writes results back to store.
func NewTokenManager(config *oauth2.Config, store TokenStore, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		config:    config,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		threshold: DefaultExpiryThreshold,
		timeout:   DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns the user's cached access token when it is not about
// to expire, and a freshly refreshed one otherwise. The token must grant
// one of anyOf; without anyOf it must grant one of SendScopes.
func (m *TokenManager) AccessToken(ctx context.Context, user *models.User, anyOf ...string) (*oauth2.Token, error) {
	if user.RefreshToken == "" {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultNoToken)
		return nil, ErrNoRefreshToken
	}

	cached := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       user.TokenExpiry,
	}
	if cached.AccessToken == "" || isTokenExpired(cached, m.now(), m.threshold) {
		return m.Refresh(ctx, user, anyOf...)
	}

	if err := m.ensureScope(ctx, cached, user.Scopes, anyOf); err != nil {
		return nil, err
	}
	return cached, nil
}

// Refresh exchanges the user's refresh token for a new access token,
// persists it and updates user in place. A response without a refresh
// token keeps the stored one. anyOf is checked as in AccessToken.
//
// Concurrent refreshes for a user share one round trip, run under the
// refresh timeout rather than any caller's context. A caller whose context
// ends stops waiting and gets the context error.
func (m *TokenManager) Refresh(ctx context.Context, user *models.User, anyOf ...string) (*oauth2.Token, error) {
	if user.RefreshToken == "" {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultNoToken)
		return nil, ErrNoRefreshToken
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(user.ID, func() (any, error) {
		rctx, cancel := detached, context.CancelFunc(func() {})
		if m.timeout > 0 {
			rctx, cancel = context.WithTimeout(detached, m.timeout)
		}
		defer cancel()
		return m.refresh(rctx, user.ID, user.RefreshToken)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, context.Cause(ctx))
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	v, shared := res.Val, res.Shared
	if shared {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultCoalesced)
	}

	// Each caller gets its own copy; the shared value must not be mutated.
	tok := *v.(*oauth2.Token)
	scopes := grantedScopes(&tok)

	user.AccessToken = tok.AccessToken
	user.TokenExpiry = tok.Expiry
	if tok.RefreshToken != "" {
		user.RefreshToken = tok.RefreshToken
	}
	if scopes != "" {
		user.Scopes = scopes
	}

	if err := m.ensureScope(ctx, &tok, user.Scopes, anyOf); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (m *TokenManager) refresh(ctx context.Context, userID, refreshToken string) (*oauth2.Token, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth2, instrumentation.OperationRefresh)
	defer span.End()

	logger := m.logger.With(logging.Operation("token_refresh"), logging.UserID(userID))
	start := time.Now()

	// An expired seed forces the token source to hit the endpoint.
	seed := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := m.config.TokenSource(withHTTPClient(ctx, m.httpClient), seed).Token()
	duration := time.Since(start)
	if err != nil {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		m.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth2, instrumentation.OperationRefresh, instrumentation.StatusError, duration)
		instrumentation.SetSpanError(span, err)
		logger.Warn("token refresh failed", logging.Err(err), logging.Duration(duration))
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultSuccess)
	m.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth2, instrumentation.OperationRefresh, instrumentation.StatusSuccess, duration)
	instrumentation.SetSpanSuccess(span)

	update := models.Tokens{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
		Scopes:      grantedScopes(tok),
	}
	rotated := tok.RefreshToken != "" && tok.RefreshToken != refreshToken
	if rotated {
		update.RefreshToken = tok.RefreshToken
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	// The new token is usable even if it could not be cached; the next
	// request will simply refresh again.
	if err := m.store.UpdateTokens(ctx, userID, update); err != nil {
		logger.Warn("failed to persist refreshed token", logging.Err(err))
	}

	logger.Debug("access token refreshed",
		slog.String("access_token", logging.SanitizeToken(tok.AccessToken)),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("rotated", rotated),
		logging.Duration(duration),
	)
	return tok, nil
}

// ensureScope checks the token response scope first, then the scope
// recorded for the user, then asks the verifier. An empty anyOf means
// SendScopes.
func (m *TokenManager) ensureScope(ctx context.Context, tok *oauth2.Token, recorded string, anyOf []string) error {
	if len(anyOf) == 0 {
		anyOf = SendScopes
	}
	scopes := grantedScopes(tok)
	if scopes == "" {
		scopes = recorded
	}
	if scopes == "" {
		if m.verifier == nil {
			return ErrInsufficientScope
		}
		var err error
		scopes, err = m.verifier.TokenScopes(ctx, tok.AccessToken)
		if err != nil {
			return fmt.Errorf("verify token scope: %w", err)
		}
	}
	if !HasAnyScope(scopes, anyOf...) {
		return ErrInsufficientScope
	}
	return nil
}

// isTokenExpired reports whether tok expires within threshold of now. A
// zero expiry is treated as not expired.
func isTokenExpired(tok *oauth2.Token, now time.Time, threshold time.Duration) bool {
	if tok == nil {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return !tok.Expiry.After(now.Add(threshold))
}
