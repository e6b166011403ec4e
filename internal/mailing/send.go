package mailing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Jeffreasy/LaventeCareMailer/internal/audit"
	"github.com/Jeffreasy/LaventeCareMailer/internal/delivery"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/google/uuid"
)

const (
	MaxSubjectLength  = 500
	bodyPreviewLength = 200

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Submitter queues a job for background delivery. *delivery.Dispatcher
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, job delivery.Job) error
}

// SendInput is a send request as submitted by the user.
type SendInput struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []mailer.Attachment
}

// SendResult acknowledges an accepted request.
type SendResult struct {
	RecordID uuid.UUID `json:"id"`
	Message  string    `json:"message"`
}

type SendOptions struct {
	// StrictAttachments rejects a request with an undecodable attachment
	// up front instead of skipping it at send time.
	StrictAttachments bool
	Audit             audit.Logger
	Logger            *slog.Logger
}

type SendService struct {
	credentials storage.CredentialStore
	deliveries  storage.DeliveryStore
	queue       Submitter
	strict      bool
	audit       audit.Logger
	logger      *slog.Logger
}

func NewSendService(credentials storage.CredentialStore, deliveries storage.DeliveryStore, queue Submitter, opts SendOptions) *SendService {
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SendService{
		credentials: credentials,
		deliveries:  deliveries,
		queue:       queue,
		strict:      opts.StrictAttachments,
		audit:       opts.Audit,
		logger:      opts.Logger,
	}
}

// Send validates the request, records it as pending and queues it.
// Nothing is stored when validation fails.
func (s *SendService) Send(ctx context.Context, userID uuid.UUID, in SendInput) (*SendResult, error) {
	cred, err := s.credentials.LatestCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	to, cc, bcc := trimAll(in.To), trimAll(in.Cc), trimAll(in.Bcc)
	if err := validateSend(to, cc, bcc, in, s.strict); err != nil {
		return nil, err
	}

	record := &storage.DeliveryRecord{
		UserID:           userID,
		SenderEmail:      cred.Email,
		Recipients:       storage.NewRecipients(to, cc, bcc),
		Subject:          in.Subject,
		BodyPreview:      preview(in.Body, bodyPreviewLength),
		AttachmentsCount: len(in.Attachments),
		Status:           storage.StatusPending,
	}
	if err := s.deliveries.CreateDelivery(ctx, record); err != nil {
		return nil, fmt.Errorf("create delivery record: %w", err)
	}

	job := delivery.Job{
		RecordID:    record.ID,
		UserID:      userID,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Subject:     in.Subject,
		Body:        in.Body,
		IsHTML:      in.IsHTML,
		Attachments: in.Attachments,
	}
	if err := s.queue.Submit(ctx, job); err != nil {
		return nil, fmt.Errorf("queue delivery: %w", err)
	}

	s.audit.Log(ctx, userID, audit.EventDeliveryQueued, "email_delivery", map[string]string{
		"delivery_id": record.ID.String(),
		"recipients":  fmt.Sprint(record.Recipients.Total),
	})
	s.logger.Info("delivery_queued",
		"user_id", userID,
		"delivery_id", record.ID,
		"to", len(to), "cc", len(cc), "bcc", len(bcc),
		"attachments", len(in.Attachments),
	)

	return &SendResult{
		RecordID: record.ID,
		Message:  fmt.Sprintf("Email is being sent individually to %d recipient(s)", len(to)),
	}, nil
}

// History lists the user's records newest first. limit outside 1..100
// falls back to the default or the maximum.
func (s *SendService) History(ctx context.Context, userID uuid.UUID, skip, limit int) ([]storage.DeliveryRecord, error) {
	if skip < 0 {
		skip = 0
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	records, err := s.deliveries.ListDeliveries(ctx, userID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	if records == nil {
		records = []storage.DeliveryRecord{}
	}
	return records, nil
}

// Get returns one record owned by the user; other users' records are
// reported as storage.ErrNotFound.
func (s *SendService) Get(ctx context.Context, userID, id uuid.UUID) (*storage.DeliveryRecord, error) {
	return s.deliveries.GetDelivery(ctx, userID, id)
}

func validateSend(to, cc, bcc []string, in SendInput, strict bool) error {
	if len(to) == 0 {
		return invalid("recipients.to", "at least one recipient is required")
	}

	n := utf8.RuneCountInString(in.Subject)
	if strings.TrimSpace(in.Subject) == "" || n > MaxSubjectLength {
		return invalid("subject", fmt.Sprintf("must be between 1 and %d characters", MaxSubjectLength))
	}

	lists := []struct {
		field string
		addrs []string
	}{{"recipients.to", to}, {"recipients.cc", cc}, {"recipients.bcc", bcc}}
	for _, l := range lists {
		for i, addr := range l.addrs {
			if err := mailer.ValidateAddress(addr); err != nil {
				return invalid(fmt.Sprintf("%s[%d]", l.field, i), "invalid email address")
			}
		}
	}

	if total := mailer.TotalDeclaredSize(in.Attachments); total > mailer.MaxTotalAttachmentSize {
		return invalid("attachments", fmt.Sprintf("total attachment size %.1fMB exceeds %dMB limit",
			float64(total)/(1024*1024), mailer.MaxTotalAttachmentSize/(1024*1024)))
	}

	if strict {
		for i, att := range in.Attachments {
			if _, reason := mailer.DecodeAttachment(att.Content); reason != "" {
				return invalid(fmt.Sprintf("attachments[%d]", i), reason)
			}
		}
	}
	return nil
}

func trimAll(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func preview(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	runes := []rune(body)
	return string(runes[:n])
}
