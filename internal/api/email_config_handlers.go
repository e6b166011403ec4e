package api

import (
	"errors"
	"net/http"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
	"github.com/Jeffreasy/LaventeCareMailer/internal/api/middleware"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailing"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
)

// EmailConfigRequest registers provider credentials. The app password is
// encrypted before storage and never returned.
type EmailConfigRequest struct {
	Provider    storage.Provider `json:"email_provider"`
	Email       string           `json:"email_address"`
	AppPassword string           `json:"app_password"`
	Host        string           `json:"smtp_host"`
	Port        int              `json:"smtp_port"`
	UseTLS      *bool            `json:"use_tls"`
}

type EmailTestRequest struct {
	Recipient string `json:"test_recipient"`
}

type EmailTestResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	TestEmailID string `json:"test_email_id,omitempty"`
}

// POST /api/v1/email-config/setup
func (s *Server) SetupEmailConfig(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())

	var req EmailConfigRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := s.credentials.Setup(r.Context(), userID, mailing.SetupInput{
		Provider:    req.Provider,
		Email:       req.Email,
		AppPassword: req.AppPassword,
		Host:        req.Host,
		Port:        req.Port,
		UseTLS:      req.UseTLS,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, view)
}

// GET /api/v1/email-config
func (s *Server) GetEmailConfig(w http.ResponseWriter, r *http.Request) {
	view, err := s.credentials.Get(r.Context(), middleware.MustGetUserID(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, view)
}

// POST /api/v1/email-config/test sends a fixed message synchronously.
func (s *Server) TestEmailConfig(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())

	var req EmailTestRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.credentials.Test(r.Context(), userID, req.Recipient)
	if err != nil {
		var terr *mailer.TransportError
		if errors.As(err, &terr) {
			s.logger.Warn("test_email_failed", "user_id", userID, "stage", terr.Stage, "error", terr)
			helpers.RespondError(w, http.StatusBadRequest, "failed to send test email: "+terr.Error())
			return
		}
		s.respondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, EmailTestResponse{
		Success:     true,
		Message:     "Test email sent successfully",
		TestEmailID: id,
	})
}

// DELETE /api/v1/email-config[?provider=gmail]
func (s *Server) DeleteEmailConfig(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())
	provider := storage.Provider(r.URL.Query().Get("provider"))

	if err := s.credentials.Delete(r.Context(), userID, provider); err != nil {
		if errors.Is(err, mailing.ErrNotConfigured) {
			helpers.RespondError(w, http.StatusNotFound, "no email configuration found")
			return
		}
		s.respondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Email configuration deleted successfully",
	})
}
