package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
)

type googleURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

func googleURL(g GoogleAuth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()
		render.JSON(w, r, googleURLResponse{URL: g.AuthCodeURL(state), State: state})
	}
}

// LoginRequest carries either an authorization code from the consent popup
// or, for older clients, a bare access token.
type LoginRequest struct {
	Code        string `json:"code" validate:"required_without=AccessToken"`
	AccessToken string `json:"access_token" validate:"required_without=Code"`
}

type LoginResponse struct {
	Token                  string `json:"token"`
	ProfileCompleted       bool   `json:"profileCompleted"`
	HasSelectedProfileType bool   `json:"hasSelectedProfileType"`
	MailConnected          bool   `json:"mailConnected"`
}

func googleLogin(log *slog.Logger, d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.googleLogin"
		log := requestLog(log, r, op)
		ctx := r.Context()

		var req LoginRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Info("failed to decode request body", logging.Err(err))
			badRequest(w, r, "failed to decode request")
			return
		}
		if err := validator.New().Struct(req); err != nil {
			writeError(w, r, log, err)
			return
		}

		var tok *oauth2.Token
		if req.Code != "" {
			var err error
			tok, err = d.Google.Exchange(ctx, req.Code)
			if err != nil {
				d.Metrics.RecordLogin(ctx, instrumentation.LoginResultFailure)
				log.Info("code exchange failed", logging.Err(err))
				badRequest(w, r, "invalid google authorization code")
				return
			}
		} else {
			tok = &oauth2.Token{AccessToken: req.AccessToken, TokenType: "Bearer"}
		}

		profile, err := d.Google.UserInfo(ctx, tok)
		if err != nil {
			d.Metrics.RecordLogin(ctx, instrumentation.LoginResultFailure)
			log.Info("user info lookup failed", logging.Err(err))
			badRequest(w, r, "invalid google token")
			return
		}

		if err := d.Policy.Check(profile.Email); err != nil {
			d.Metrics.RecordLogin(ctx, instrumentation.LoginResultRejected)
			log.Info("login rejected", logging.Domain(profile.Email))
			writeError(w, r, log, err)
			return
		}

		// A bare access token only identifies the user. It is not cached:
		// it cannot be refreshed and must not displace a token pair from an
		// earlier code login.
		var tokens models.Tokens
		if req.Code != "" {
			tokens = google.TokensFromOAuth(tok)
		}
		user, err := d.Users.UpsertGoogleUser(ctx, profile, tokens, d.Now())
		if err != nil {
			d.Metrics.RecordLogin(ctx, instrumentation.LoginResultFailure)
			writeError(w, r, log, err)
			return
		}

		token, err := d.Sessions.Sign(user.ID, user.GoogleID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		d.Metrics.RecordLogin(ctx, instrumentation.LoginResultSuccess)
		log.Info("user signed in",
			logging.UserID(user.ID),
			logging.UserHash(user.Email),
			slog.Bool("mail_connected", user.HasMailAccount()),
		)
		render.JSON(w, r, LoginResponse{
			Token:                  token,
			ProfileCompleted:       user.ProfileCompleted,
			HasSelectedProfileType: hasProfileType(user),
			MailConnected:          user.HasMailAccount(),
		})
	}
}

func hasProfileType(u *models.User) bool {
	if u.ProfileType != "" {
		return true
	}
	t, ok := u.ProfileDetails["type"].(string)
	return ok && t != ""
}
