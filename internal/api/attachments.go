package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/ingeniumai/outreach/internal/attachments"
	"github.com/ingeniumai/outreach/internal/logging"
)

// multipartOverhead allows for form boundaries and headers around the file.
const multipartOverhead = 1 << 20

func uploadAttachment(log *slog.Logger, files *attachments.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.uploadAttachment")

		r.Body = http.MaxBytesReader(w, r.Body, files.MaxSize()+multipartOverhead)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, log, attachments.ErrTooLarge)
				return
			}
			badRequest(w, r, "expected a multipart form with a file field")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			badRequest(w, r, "missing file field")
			return
		}
		defer file.Close()

		att, err := files.Save(header.Filename, header.Header.Get("Content-Type"), file)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		log.Info("attachment stored",
			logging.UserID(currentUser(r)),
			slog.String("attachment_id", att.ID),
			slog.String("size", att.Size),
		)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, att)
	}
}

func serveAttachment(log *slog.Logger, files *attachments.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLog(log, r, "api.serveAttachment")

		name := chi.URLParam(r, "name")
		f, err := files.Open(name)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
