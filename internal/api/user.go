package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

type MeResponse struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Email            string             `json:"email"`
	Picture          string             `json:"picture,omitempty"`
	ProfileType      models.ProfileType `json:"profileType,omitempty"`
	ProfileDetails   map[string]any     `json:"profileDetails"`
	ProfileCompleted bool               `json:"profileCompleted"`
	MailConnected    bool               `json:"mailConnected"`
}

func me(log *slog.Logger, users store.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.me")

		user, err := users.UserByID(r.Context(), currentUser(r))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		details := user.ProfileDetails
		if details == nil {
			details = map[string]any{}
		}
		render.JSON(w, r, MeResponse{
			ID:               user.ID,
			Name:             user.Name,
			Email:            user.Email,
			Picture:          user.Picture,
			ProfileType:      user.ProfileType,
			ProfileDetails:   details,
			ProfileCompleted: user.ProfileCompleted,
			MailConnected:    user.HasMailAccount(),
		})
	}
}

type ProfileRequest struct {
	ProfileDetails map[string]any `json:"profileDetails" validate:"required"`
	Complete       bool           `json:"complete"`
}

type ProfileResponse struct {
	Success          bool               `json:"success"`
	ProfileCompleted bool               `json:"profileCompleted"`
	ProfileType      models.ProfileType `json:"profileType,omitempty"`
}

func updateProfile(log *slog.Logger, users store.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.updateProfile")

		var req ProfileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Info("failed to decode request body", logging.Err(err))
			badRequest(w, r, "failed to decode request")
			return
		}
		if err := validator.New().Struct(req); err != nil {
			writeError(w, r, log, err)
			return
		}

		user, err := users.UpdateProfile(r.Context(), currentUser(r), req.ProfileDetails, req.Complete)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		render.JSON(w, r, ProfileResponse{Success: true, ProfileCompleted: user.ProfileCompleted})
	}
}

type ProfileTypeRequest struct {
	ProfileType models.ProfileType `json:"profileType" validate:"required,oneof=organization individual"`
}

func updateProfileType(log *slog.Logger, users store.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.updateProfileType")

		var req ProfileTypeRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Info("failed to decode request body", logging.Err(err))
			badRequest(w, r, "failed to decode request")
			return
		}
		if err := validator.New().Struct(req); err != nil {
			writeError(w, r, log, err)
			return
		}

		user, err := users.UpdateProfileType(r.Context(), currentUser(r), req.ProfileType)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		render.JSON(w, r, ProfileResponse{
			Success:          true,
			ProfileCompleted: user.ProfileCompleted,
			ProfileType:      user.ProfileType,
		})
	}
}
