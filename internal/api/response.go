package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/ingeniumai/outreach/internal/attachments"
	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/policy"
	"github.com/ingeniumai/outreach/internal/session"
	"github.com/ingeniumai/outreach/internal/store"
)

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// Error codes returned in Response.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeAccountNotLinked   = "mail_account_not_connected"
	CodeDeliveryFailed     = "delivery_failed"
	CodeInsufficientScope  = "insufficient_scope"
	CodeStorageUnavailable = "storage_unavailable"
	CodePersonalDomain     = "personal_domain"
	CodeTooLarge           = "too_large"
	CodeNotSupported       = "not_supported"
	CodeInternal           = "internal_error"
)

// Response is the envelope of every error and of bodies without a payload.
type Response struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

func OK() Response {
	return Response{Status: StatusOK}
}

func Error(code, msg string) Response {
	return Response{Status: StatusError, Code: code, Error: msg}
}

func ValidationError(errs validator.ValidationErrors) Response {
	var msgs []string
	for _, err := range errs {
		field := strings.ToLower(err.Field())
		switch err.ActualTag() {
		case "required", "required_without":
			msgs = append(msgs, fmt.Sprintf("field %s is required", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s is not a valid email", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of: %s", field, err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", field))
		}
	}
	return Error(CodeInvalidRequest, strings.Join(msgs, ", "))
}

// classify maps an error to an HTTP status, a code and a message safe to
// show to the client.
func classify(err error) (int, string, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp := ValidationError(verrs)
		return http.StatusBadRequest, resp.Code, resp.Error
	}

	switch dispatch.KindOf(err) {
	case dispatch.KindConfiguration:
		return http.StatusConflict, CodeAccountNotLinked, "reconnect your mail account"
	case dispatch.KindAuthentication, dispatch.KindTransport:
		return http.StatusBadGateway, CodeDeliveryFailed, "delivery failed, please retry"
	case dispatch.KindScope:
		return http.StatusForbidden, CodeInsufficientScope, "mail account has not granted the required permission; reconnect it"
	case dispatch.KindStorage:
		return http.StatusInternalServerError, CodeStorageUnavailable, "storage unavailable, please retry"
	case dispatch.KindNotFound:
		return http.StatusNotFound, CodeNotFound, "not found"
	case dispatch.KindInvalid:
		return http.StatusBadRequest, CodeInvalidRequest, "invalid request"
	case dispatch.KindUnsupported:
		return http.StatusNotImplemented, CodeNotSupported, "not available with the configured mail transport"
	}

	switch {
	case errors.Is(err, session.ErrMissingToken), errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthorized, "unauthorized"
	case errors.Is(err, policy.ErrPersonalDomain):
		return http.StatusForbidden, CodePersonalDomain, "please sign in with your work email"
	case errors.Is(err, attachments.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge, "file is too large"
	case errors.Is(err, attachments.ErrEmpty), errors.Is(err, attachments.ErrInvalidName):
		return http.StatusBadRequest, CodeInvalidRequest, err.Error()
	case errors.Is(err, store.ErrNotFound), errors.Is(err, attachments.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "not found"
	}
	return http.StatusInternalServerError, CodeInternal, "internal error"
}

// writeError renders err. Server side failures are logged with the full
// error; the client only sees the mapped message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logging.Err(err), slog.String("code", code))
	} else {
		log.Info("request rejected", logging.Err(err), slog.String("code", code))
	}
	render.Status(r, status)
	render.JSON(w, r, Error(code, msg))
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, Error(CodeInvalidRequest, msg))
}
