// Package api is the HTTP surface of the service: Google login, the user
// profile, mail dispatch and attachment uploads.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/attachments"
	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/policy"
	"github.com/ingeniumai/outreach/internal/session"
	"github.com/ingeniumai/outreach/internal/store"
)

// Mailer is the part of dispatch.Service the handlers use.
type Mailer interface {
	Send(ctx context.Context, req dispatch.SendRequest) (*models.Message, error)
	Reply(ctx context.Context, req dispatch.ReplyRequest) (*models.Message, error)
	MarkRead(ctx context.Context, userID, messageID string) (bool, error)
	List(ctx context.Context, userID string, filter models.MessageFilter) ([]*models.Message, error)
	Conversation(ctx context.Context, userID, conversationID string) ([]*models.Message, error)
	Sync(ctx context.Context, userID string) (dispatch.SyncResult, error)
}

// GoogleAuth is the part of google.Client used by the login flow.
type GoogleAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, tok *oauth2.Token) (store.GoogleProfile, error)
}

// HealthEndpoints serves the health check endpoints.
type HealthEndpoints interface {
	LivenessHandler() http.Handler
	ReadinessHandler() http.Handler
	DetailedHealthHandler() http.Handler
}

// Deps are the collaborators of the router. Health and Metrics are optional.
type Deps struct {
	Logger      *slog.Logger
	Mailer      Mailer
	Users       store.UserStore
	Google      GoogleAuth
	Sessions    *session.Manager
	Attachments *attachments.Store
	Policy      policy.DomainPolicy
	Metrics     *instrumentation.Metrics
	Health      HealthEndpoints
	// AllowOrigins enables CORS for browser clients on these origins.
	AllowOrigins []string
	Now          func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) *chi.Mux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(recordMetrics(d.Metrics))
	if len(d.AllowOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	if d.Health != nil {
		r.Method(http.MethodGet, "/healthz", d.Health.LivenessHandler())
		r.Method(http.MethodGet, "/readyz", d.Health.ReadinessHandler())
		r.Method(http.MethodGet, "/healthz/detailed", d.Health.DetailedHealthHandler())
	}

	r.With(limitAuth()).Get("/auth/google/url", googleURL(d.Google))
	r.With(limitAuth()).Post("/auth/google", googleLogin(log, d))

	if d.Attachments != nil {
		r.Get("/attachments/{name}", serveAttachment(log, d.Attachments))
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware(func(w http.ResponseWriter, req *http.Request, err error) {
			writeError(w, req, requestLog(log, req, "api.session"), err)
		}))

		r.Get("/me", me(log, d.Users))
		r.Post("/user/profile", updateProfile(log, d.Users))
		r.Post("/user/type", updateProfileType(log, d.Users))

		r.Route("/api/mail", func(r chi.Router) {
			r.Get("/", listMail(log, d.Mailer))
			r.With(limitSend()).Post("/send", sendMail(log, d.Mailer))
			r.Post("/sync", syncInbox(log, d.Mailer))
			r.Get("/conversations/{id}", conversation(log, d.Mailer))
			r.With(limitSend()).Post("/{id}/reply", replyMail(log, d.Mailer))
			r.Post("/{id}/read", markRead(log, d.Mailer))
		})

		if d.Attachments != nil {
			r.With(limitUpload()).Post("/api/attachments", uploadAttachment(log, d.Attachments))
		}
	})

	return r
}

// requestLog returns the handler logger carrying op and the request id.
func requestLog(log *slog.Logger, r *http.Request, op string) *slog.Logger {
	return logging.WithOperation(log, op).With(
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// currentUser returns the session user id. The session middleware
// guarantees claims on every authenticated route.
func currentUser(r *http.Request) string {
	claims, ok := session.FromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID
}
