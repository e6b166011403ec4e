package api

import (
	"errors"
	"net/http"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
	"github.com/Jeffreasy/LaventeCareMailer/internal/auth"
	"github.com/Jeffreasy/LaventeCareMailer/internal/crypto"
	"github.com/Jeffreasy/LaventeCareMailer/internal/delivery"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailing"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/go-chi/chi/v5/middleware"
)

// respondError maps a service error to a status code. Anything unknown is
// logged and answered with a generic 500.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *mailing.ValidationError
	switch {
	case errors.As(err, &verr):
		helpers.RespondFieldError(w, verr.Field, verr.Reason)

	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidName),
		errors.Is(err, auth.ErrEmailTaken):
		helpers.RespondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		helpers.RespondError(w, http.StatusUnauthorized, "incorrect email or password")

	case errors.Is(err, auth.ErrUserInactive):
		helpers.RespondError(w, http.StatusForbidden, "user account is not active")

	case errors.Is(err, auth.ErrUserNotFound):
		helpers.RespondError(w, http.StatusNotFound, "user not found")

	case errors.Is(err, mailing.ErrNotConfigured):
		helpers.RespondError(w, http.StatusNotFound, "email configuration not found")

	case errors.Is(err, crypto.ErrDecryption):
		helpers.RespondError(w, http.StatusBadRequest, "could not decrypt password")

	case errors.Is(err, delivery.ErrQueueClosed), errors.Is(err, delivery.ErrQueueUnavailable):
		s.logger.Warn("delivery_not_queued", "error", err, "req_id", middleware.GetReqID(r.Context()))
		helpers.RespondError(w, http.StatusServiceUnavailable, "delivery queue unavailable, try again later")

	case errors.Is(err, storage.ErrNotFound):
		helpers.RespondError(w, http.StatusNotFound, "not found")

	default:
		s.logger.Error("request_failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"req_id", middleware.GetReqID(r.Context()),
		)
		helpers.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
