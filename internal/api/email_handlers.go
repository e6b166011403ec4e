package api

import (
	"net/http"
	"strconv"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
	"github.com/Jeffreasy/LaventeCareMailer/internal/api/middleware"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type RecipientsRequest struct {
	To  []string `json:"to"`
	Cc  []string `json:"cc"`
	Bcc []string `json:"bcc"`
}

// AttachmentRequest carries base64 content. Older clients send the
// declared size as size_in_bytes, newer ones as size.
type AttachmentRequest struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	Base64Content string `json:"base64_content"`
	Size          int64  `json:"size"`
	SizeInBytes   int64  `json:"size_in_bytes"`
}

type SendEmailRequest struct {
	Recipients  RecipientsRequest   `json:"recipients"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	IsHTML      bool                `json:"is_html"`
	Attachments []AttachmentRequest `json:"attachments"`
}

type SendEmailResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	EmailLogID uuid.UUID `json:"email_log_id"`
}

func (req SendEmailRequest) toInput() mailing.SendInput {
	atts := make([]mailer.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		size := a.SizeInBytes
		if size == 0 {
			size = a.Size
		}
		atts = append(atts, mailer.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Base64Content,
			Size:        size,
		})
	}
	return mailing.SendInput{
		To:          req.Recipients.To,
		Cc:          req.Recipients.Cc,
		Bcc:         req.Recipients.Bcc,
		Subject:     req.Subject,
		Body:        req.Body,
		IsHTML:      req.IsHTML,
		Attachments: atts,
	}
}

// POST /api/v1/emails/send records the request and returns before any
// SMTP traffic happens. Poll GET /emails/{id} for the outcome.
func (s *Server) SendEmail(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())

	var req SendEmailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		s.logger.Warn("send_invalid_body", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.sender.Send(r.Context(), userID, req.toInput())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusAccepted, SendEmailResponse{
		Success:    true,
		Message:    res.Message,
		EmailLogID: res.RecordID,
	})
}

// GET /api/v1/emails/history?skip=0&limit=50
func (s *Server) EmailHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())

	skip, err := queryInt(r, "skip")
	if err != nil {
		helpers.RespondFieldError(w, "skip", "must be an integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		helpers.RespondFieldError(w, "limit", "must be an integer")
		return
	}

	records, err := s.sender.History(r.Context(), userID, skip, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, records)
}

// GET /api/v1/emails/{id}
func (s *Server) GetEmail(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondFieldError(w, "id", "must be a UUID")
		return
	}

	record, err := s.sender.Get(r.Context(), userID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, record)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
