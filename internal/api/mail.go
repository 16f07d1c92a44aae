package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
)

type SendRequest struct {
	To          string              `json:"to"`
	ToName      string              `json:"toName"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments"`
}

type ReplyRequest struct {
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments"`
}

// writeDispatchError renders a failed send or reply. When the message was
// persisted before delivery failed its id is included so the client can
// find the record.
func writeDispatchError(w http.ResponseWriter, r *http.Request, log *slog.Logger, msg *models.Message, err error) {
	status, code, text := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("dispatch failed", logging.Err(err), slog.String("code", code))
	} else {
		log.Warn("dispatch failed", logging.Err(err), slog.String("code", code))
	}
	resp := Error(code, text)
	if msg != nil {
		resp.MessageID = msg.ID
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func sendMail(log *slog.Logger, mailer Mailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.sendMail")

		var req SendRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Info("failed to decode request body", logging.Err(err))
			badRequest(w, r, "failed to decode request")
			return
		}

		msg, err := mailer.Send(r.Context(), dispatch.SendRequest{
			UserID:      currentUser(r),
			To:          req.To,
			ToName:      req.ToName,
			Subject:     req.Subject,
			Body:        req.Body,
			Attachments: req.Attachments,
			Channel:     instrumentation.ChannelHTTP,
		})
		if err != nil {
			writeDispatchError(w, r, log, msg, err)
			return
		}

		log.Info("mail sent", logging.MessageID(msg.ID), logging.ConversationID(msg.ConversationID))
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, msg)
	}
}

func replyMail(log *slog.Logger, mailer Mailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.replyMail")

		var req ReplyRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Info("failed to decode request body", logging.Err(err))
			badRequest(w, r, "failed to decode request")
			return
		}

		msg, err := mailer.Reply(r.Context(), dispatch.ReplyRequest{
			UserID:      currentUser(r),
			MessageID:   chi.URLParam(r, "id"),
			Body:        req.Body,
			Attachments: req.Attachments,
			Channel:     instrumentation.ChannelHTTP,
		})
		if err != nil {
			writeDispatchError(w, r, log, msg, err)
			return
		}

		log.Info("reply sent", logging.MessageID(msg.ID), logging.ConversationID(msg.ConversationID))
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, msg)
	}
}

func markRead(log *slog.Logger, mailer Mailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.markRead")

		if _, err := mailer.MarkRead(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, log, err)
			return
		}
		render.NoContent(w, r)
	}
}

func listMail(log *slog.Logger, mailer Mailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.listMail")

		q := r.URL.Query()
		filter := models.MessageFilter{Type: models.MessageType(q.Get("type"))}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(w, r, "limit must be a non-negative integer")
				return
			}
			filter.Limit = n
		}
		if v := q.Get("unread"); v != "" {
			unread, err := strconv.ParseBool(v)
			if err != nil {
				badRequest(w, r, "unread must be a boolean")
				return
			}
			filter.Unread = unread
		}

		msgs, err := mailer.List(r.Context(), currentUser(r), filter)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		render.JSON(w, r, msgs)
	}
}

func conversation(log *slog.Logger, mailer Mailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.conversation")

		msgs, err := mailer.Conversation(r.Context(), currentUser(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		render.JSON(w, r, msgs)
	}
}

func syncInbox(log *slog.Logger, mailer Mailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.syncInbox")

		res, err := mailer.Sync(r.Context(), currentUser(r))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		log.Info("inbox synced", slog.Int("imported", res.Imported), slog.Int("skipped", res.Skipped))
		render.JSON(w, r, res)
	}
}
