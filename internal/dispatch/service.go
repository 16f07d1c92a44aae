package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/events"
	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

// TokenSource hands out access tokens for a user that carry one of anyOf.
// AccessToken may return a cached token; Refresh always goes to the token
// endpoint.
type TokenSource interface {
	AccessToken(ctx context.Context, user *models.User, anyOf ...string) (*oauth2.Token, error)
	Refresh(ctx context.Context, user *models.User, anyOf ...string) (*oauth2.Token, error)
}

// outcomeTimeout bounds the bookkeeping done after a delivery attempt,
// which runs even when the request context has expired.
const outcomeTimeout = 5 * time.Second

// AttachmentResolver maps an attachment reference to a local file.
type AttachmentResolver interface {
	Resolve(ref string) (string, error)
}

// Service sends and replies to mail on behalf of users and keeps the mail
// store in step with what was delivered.
type Service struct {
	users     store.UserStore
	messages  store.MessageStore
	tokens    TokenSource
	transport gmail.Transport

	inbox       gmail.InboxFetcher
	attachments AttachmentResolver
	events      events.Publisher
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
	logger      *slog.Logger

	reconcileStatus bool
	timeout         time.Duration
	syncLimit       int64
	now             func() time.Time
	newID           func() string
	validate        *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithInbox enables Sync.
func WithInbox(f gmail.InboxFetcher) Option {
	return func(s *Service) { s.inbox = f }
}

// WithAttachments resolves attachment references to files for delivery.
func WithAttachments(r AttachmentResolver) Option {
	return func(s *Service) { s.attachments = r }
}

// WithEvents publishes a mail event after every delivery.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditLogger writes one audit entry per send or reply.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithReconcileStatus controls whether a message's status is moved to
// delivered or failed after the delivery attempt. When off, the status
// set at persistence time ("sent") is kept.
func WithReconcileStatus(on bool) Option {
	return func(s *Service) { s.reconcileStatus = on }
}

// WithTimeout bounds each Send, Reply and Sync call, token refresh and
// transport attempts included. Zero leaves the caller's context as is.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithSyncLimit bounds how many inbox messages Sync fetches.
func WithSyncLimit(n int64) Option {
	return func(s *Service) { s.syncLimit = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the message and conversation id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// New creates a Service.
func New(users store.UserStore, messages store.MessageStore, tokens TokenSource, transport gmail.Transport, opts ...Option) *Service {
	s := &Service{
		users:           users,
		messages:        messages,
		tokens:          tokens,
		transport:       transport,
		events:          events.Noop{},
		logger:          slog.Default(),
		reconcileStatus: true,
		syncLimit:       gmail.DefaultInboxLimit,
		now:             time.Now,
		newID:           uuid.NewString,
		validate:        validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the per-call budget, zero when unbounded.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// TransportName returns the name of the configured transport.
func (s *Service) TransportName() string {
	return s.transport.Name()
}

// withTimeout applies the configured call budget to ctx.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) loadUser(ctx context.Context, op, userID string) (*models.User, error) {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return nil, storageError(op, err)
	}
	return user, nil
}

// accessToken returns a token for user granting one of scopes. A missing
// refresh token is reported before any other work is done.
func (s *Service) accessToken(ctx context.Context, op string, user *models.User, scopes []string) (*oauth2.Token, error) {
	tok, err := s.tokens.AccessToken(ctx, user, scopes...)
	if err != nil {
		return nil, tokenError(op, err)
	}
	return tok, nil
}

// callWithRefresh runs call with tok. When the transport rejects the
// token it refreshes exactly once and runs call exactly once more.
func (s *Service) callWithRefresh(
	ctx context.Context,
	op string,
	user *models.User,
	tok *oauth2.Token,
	scopes []string,
	call func(ctx context.Context, tok *oauth2.Token, attempt int) error,
) (attempts int, refreshed bool, err error) {
	logger := s.logger.With(
		logging.Operation(op),
		logging.UserID(user.ID),
		logging.Transport(s.transport.Name()),
	)

	first := call(ctx, tok, 1)
	if first == nil {
		return 1, false, nil
	}
	if !gmail.IsAuthError(first) {
		return 1, false, deliveryError(op, first)
	}

	logger.InfoContext(ctx, "access token rejected, refreshing", logging.Attempt(1), logging.Err(first))
	fresh, rerr := s.tokens.Refresh(ctx, user, scopes...)
	if rerr != nil {
		return 1, true, tokenError(op, rerr)
	}

	if second := call(ctx, fresh, 2); second != nil {
		logger.WarnContext(ctx, "retry after refresh failed", logging.Attempt(2), logging.Err(second))
		return 2, true, deliveryError(op, second)
	}
	return 2, true, nil
}

// attempt makes one transport call under its own span.
func (s *Service) attempt(ctx context.Context, tok *oauth2.Token, env *gmail.Envelope, n int, res *gmail.Result) error {
	name := s.transport.Name()
	ctx, span := instrumentation.StartDeliverySpan(ctx, name, n)
	defer span.End()

	start := time.Now()
	out, err := s.transport.Send(ctx, tok, env)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
		*res = out
	}
	s.metrics.RecordDeliveryAttempt(ctx, name, n, status, time.Since(start))
	return err
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return instrumentation.ChannelHTTP
	}
	return channel
}
