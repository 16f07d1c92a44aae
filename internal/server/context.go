package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ingeniumai/outreach/internal/attachments"
	"github.com/ingeniumai/outreach/internal/config"
	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/events"
	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/policy"
	"github.com/ingeniumai/outreach/internal/secrets"
	"github.com/ingeniumai/outreach/internal/session"
	"github.com/ingeniumai/outreach/internal/store"
	"github.com/ingeniumai/outreach/internal/store/mongo"
	"github.com/ingeniumai/outreach/internal/store/sqlite"
)

// ServerContext owns the long-lived dependencies shared by the HTTP API and
// the MCP tool server.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	config      *config.Config
	logger      *slog.Logger
	store       store.Store
	google      *google.Client
	tokens      *google.TokenManager
	dispatch    *dispatch.Service
	attachments *attachments.Store
	sessions    *session.Manager
	policy      policy.DomainPolicy
	events      events.Publisher
	provider    *instrumentation.Provider

	mu       sync.RWMutex
	shutdown bool
}

// Option configures a ServerContext.
type Option func(*ServerContext)

// WithStore uses s instead of opening the configured store.
func WithStore(s store.Store) Option {
	return func(sc *ServerContext) { sc.store = s }
}

// WithPublisher uses p instead of connecting to the configured broker.
func WithPublisher(p events.Publisher) Option {
	return func(sc *ServerContext) { sc.events = p }
}

// WithInstrumentation uses provider for metrics and tracing. Without it
// metrics are not recorded.
func WithInstrumentation(provider *instrumentation.Provider) Option {
	return func(sc *ServerContext) { sc.provider = provider }
}

// NewServerContext wires the service from cfg. cfg must have passed
// Validate.
func NewServerContext(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*ServerContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	sc := &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(sc)
	}

	if err := sc.init(shutdownCtx); err != nil {
		_ = sc.Shutdown()
		return nil, err
	}
	return sc, nil
}

func (sc *ServerContext) init(ctx context.Context) error {
	cfg := sc.config
	metrics := sc.Metrics()

	if sc.store == nil {
		cipher, err := secrets.NewFromBase64(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("token encryption key: %w", err)
		}
		if !cipher.Enabled() {
			sc.logger.Warn("token encryption disabled, cached OAuth tokens are stored in plain text")
		}
		s, err := openStore(ctx, cfg, cipher)
		if err != nil {
			return err
		}
		sc.store = s
	}

	// One budget bounds every outbound call made for a dispatch.
	budget := cfg.Dispatch.Timeout
	httpClient := &http.Client{Timeout: budget}

	oauthConfig := google.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL, google.LoginScopes)
	sc.google = google.NewClient(oauthConfig, google.WithMetrics(metrics))
	sc.tokens = google.NewTokenManager(oauthConfig, sc.store,
		google.WithScopeVerifier(sc.google),
		google.WithTokenHTTPClient(httpClient),
		google.WithRefreshTimeout(budget),
		google.WithTokenMetrics(metrics),
		google.WithTokenLogger(sc.logger),
	)

	var err error
	sc.attachments, err = attachments.New(cfg.Uploads.Dir, cfg.Uploads.BaseURL, cfg.Uploads.MaxSize)
	if err != nil {
		return err
	}

	if sc.events == nil {
		if cfg.Events.Enabled {
			mq, err := events.NewRabbitMQ(cfg.RabbitURL, cfg.QueueName)
			if err != nil {
				return err
			}
			sc.events = mq
		} else {
			sc.events = events.Noop{}
		}
	}

	opts := []dispatch.Option{
		dispatch.WithAttachments(sc.attachments),
		dispatch.WithEvents(sc.events),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(sc.logger),
		dispatch.WithReconcileStatus(cfg.ReconcileStatus),
		dispatch.WithSyncLimit(cfg.SyncLimit),
		dispatch.WithTimeout(budget),
	}
	if sc.provider != nil {
		audit := sc.provider.AuditConfig()
		opts = append(opts, dispatch.WithAuditLogger(instrumentation.NewAuditLoggerWithConfig(sc.logger, audit)))
	}

	var transport gmail.Transport
	switch cfg.Google.Transport {
	case config.TransportSMTP:
		transport = gmail.NewSMTPTransport(
			gmail.WithSMTPAddr(cfg.SMTPAddr),
			gmail.WithDialTimeout(budget),
			gmail.WithSendTimeout(budget),
			gmail.WithSMTPMetrics(metrics),
		)
	default:
		api := gmail.NewAPITransport(
			gmail.WithAPIHTTPClient(httpClient),
			gmail.WithAPIMetrics(metrics),
		)
		transport = api
		opts = append(opts, dispatch.WithInbox(api))
	}

	sc.dispatch = dispatch.New(sc.store, sc.store, sc.tokens, transport, opts...)
	sc.sessions = session.NewManager(cfg.Session.Secret, cfg.Session.TTL)
	sc.policy = policy.NewDomainPolicy(cfg.RejectPersonalDomains, cfg.BlockedDomains)

	sc.logger.Info("service wired",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("transport", transport.Name()),
		slog.Bool("events", cfg.Events.Enabled),
		slog.Bool("reconcile_status", cfg.ReconcileStatus),
		logging.Duration(budget),
	)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, cipher *secrets.Cipher) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMongo:
		s, err := mongo.Open(ctx, cfg.MongoURI, cfg.MongoDB, cipher)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, cipher)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// Context returns the server context. It is cancelled by Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

func (sc *ServerContext) Config() *config.Config              { return sc.config }
func (sc *ServerContext) Logger() *slog.Logger                { return sc.logger }
func (sc *ServerContext) Store() store.Store                  { return sc.store }
func (sc *ServerContext) Google() *google.Client              { return sc.google }
func (sc *ServerContext) Dispatch() *dispatch.Service         { return sc.dispatch }
func (sc *ServerContext) Attachments() *attachments.Store     { return sc.attachments }
func (sc *ServerContext) Sessions() *session.Manager          { return sc.sessions }
func (sc *ServerContext) Policy() policy.DomainPolicy         { return sc.policy }
func (sc *ServerContext) Events() events.Publisher            { return sc.events }
func (sc *ServerContext) Provider() *instrumentation.Provider { return sc.provider }

// Metrics returns the metrics recorder, or nil when instrumentation is off.
// All recorder methods accept a nil receiver.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	if sc.provider == nil {
		return nil
	}
	return sc.provider.Metrics()
}

// Ping checks the store.
func (sc *ServerContext) Ping(ctx context.Context) error {
	if sc.store == nil {
		return errors.New("store not initialized")
	}
	return sc.store.Ping(ctx)
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the context and releases the store and the event
// publisher. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true
	sc.cancel()

	var errs []error
	if sc.events != nil {
		if err := sc.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close events: %w", err))
		}
	}
	if sc.store != nil {
		if err := sc.store.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
