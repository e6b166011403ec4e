// Package delivery runs accepted send requests in the background and writes
// each request's single terminal outcome.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const (
	detailNotConfigured = "email configuration not found"
	detailDecryptFailed = "could not decrypt password"
	detailAllFailed     = "failed to send to all recipients"
	detailInternal      = "internal error while sending"
)

// Job is everything the background send needs. It carries no credentials;
// those are loaded when the job runs.
type Job struct {
	RecordID    uuid.UUID
	UserID      uuid.UUID
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []mailer.Attachment
}

// Decrypter opens a stored app password.
type Decrypter interface {
	Decrypt(ciphertext, iv string) (string, error)
}

type Options struct {
	// ForwardCopies sends one extra transaction to cc and bcc after the
	// individual sends to To.
	ForwardCopies     bool
	StrictAttachments bool
	Metrics           *Metrics
	Logger            *slog.Logger
}

// Orchestrator drives one delivery record from pending to its terminal state.
type Orchestrator struct {
	credentials storage.CredentialStore
	deliveries  storage.DeliveryStore
	vault       Decrypter
	transport   mailer.Transport
	opts        Options
	logger      *slog.Logger
}

func NewOrchestrator(
	credentials storage.CredentialStore,
	deliveries storage.DeliveryStore,
	vault Decrypter,
	transport mailer.Transport,
	opts Options,
) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		credentials: credentials,
		deliveries:  deliveries,
		vault:       vault,
		transport:   transport,
		opts:        opts,
		logger:      logger.With("component", "delivery"),
	}
}

// Run executes the job and writes its outcome exactly once.
func (o *Orchestrator) Run(ctx context.Context, job Job) storage.Outcome {
	start := time.Now()
	logger := o.logger.With("delivery_id", job.RecordID, "user_id", job.UserID)

	outcome := o.execute(ctx, job, logger)

	if err := o.deliveries.CompleteDelivery(ctx, job.RecordID, outcome); err != nil {
		if errors.Is(err, storage.ErrNotPending) {
			logger.Warn("delivery_already_completed")
		} else {
			logger.Error("delivery_complete_failed", "error", err)
			sentry.CaptureException(fmt.Errorf("complete delivery %s: %w", job.RecordID, err))
		}
	}

	o.opts.Metrics.observeOutcome(outcome.Status, time.Since(start))
	logger.Info("delivery_finished",
		"status", outcome.Status,
		"success_count", outcome.SuccessCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome
}

// Fail completes a record without attempting delivery, e.g. when it could
// not be queued.
func (o *Orchestrator) Fail(ctx context.Context, recordID uuid.UUID, reason string) error {
	return o.deliveries.CompleteDelivery(ctx, recordID, storage.Outcome{
		Status: storage.StatusFailed,
		Detail: reason,
		Error:  reason,
	})
}

func (o *Orchestrator) execute(ctx context.Context, job Job, logger *slog.Logger) (out storage.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery_panic", "panic", r)
			sentry.CurrentHub().Recover(r)
			out = failed(detailInternal, fmt.Sprint(r))
		}
	}()

	cred, err := o.credentials.LatestCredential(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("delivery_no_credential")
			return failed(detailNotConfigured, detailNotConfigured)
		}
		logger.Error("delivery_credential_load_failed", "error", err)
		sentry.CaptureException(err)
		return failed(detailNotConfigured, err.Error())
	}

	secret, err := o.vault.Decrypt(cred.EncryptedSecret, cred.IV)
	if err != nil {
		logger.Error("delivery_decrypt_failed", "provider", cred.Provider, "error", err)
		return failed(detailDecryptFailed, detailDecryptFailed)
	}

	settings := mailer.SMTPSettings{
		Host:     cred.Host,
		Port:     cred.Port,
		Username: cred.Email,
		Password: secret,
		UseTLS:   cred.UseTLS,
	}

	var (
		accepted  int
		total     = len(job.To)
		messageID string
		firstErr  error
	)

	for _, rcpt := range job.To {
		id, err := o.sendOne(ctx, settings, job, mailer.ComposeInput{
			From: cred.Email,
			To:   []string{rcpt},
		})
		if err != nil {
			logger.Warn("delivery_recipient_failed", "to_hash", mailer.HashRecipient(rcpt), "error", err)
			o.opts.Metrics.recipientAttempt(false, 1)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepted++
		messageID = id
		o.opts.Metrics.recipientAttempt(true, 1)
	}

	copies := append(append([]string{}, job.Cc...), job.Bcc...)
	if o.opts.ForwardCopies && len(copies) > 0 {
		total += len(copies)
		id, err := o.sendOne(ctx, settings, job, mailer.ComposeInput{
			From:     cred.Email,
			To:       job.To,
			Cc:       job.Cc,
			Envelope: copies,
		})
		if err != nil {
			logger.Warn("delivery_copies_failed", "copies", len(copies), "error", err)
			o.opts.Metrics.recipientAttempt(false, len(copies))
			if firstErr == nil {
				firstErr = err
			}
		} else {
			accepted += len(copies)
			messageID = id
			o.opts.Metrics.recipientAttempt(true, len(copies))
		}
	}

	return aggregate(accepted, total, messageID, firstErr)
}

// sendOne composes the job body for the given addressing and sends it.
func (o *Orchestrator) sendOne(ctx context.Context, settings mailer.SMTPSettings, job Job, addr mailer.ComposeInput) (string, error) {
	addr.Subject = job.Subject
	addr.Body = job.Body
	addr.IsHTML = job.IsHTML
	addr.Attachments = job.Attachments

	msg, err := mailer.Compose(addr, mailer.ComposeOptions{StrictAttachments: o.opts.StrictAttachments})
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	for _, s := range msg.Skipped {
		o.logger.Warn("attachment_skipped", "index", s.Index, "filename", s.Filename, "reason", s.Reason)
	}
	return o.transport.Send(ctx, settings, msg)
}

func aggregate(accepted, total int, messageID string, firstErr error) storage.Outcome {
	var errText string
	if firstErr != nil {
		errText = firstErr.Error()
	}

	switch {
	case accepted == 0:
		return storage.Outcome{Status: storage.StatusFailed, Detail: detailAllFailed, Error: errText}
	case accepted < total:
		return storage.Outcome{
			Status:       storage.StatusPartial,
			SuccessCount: accepted,
			MessageID:    messageID,
			Detail:       fmt.Sprintf("sent to %d of %d recipients", accepted, total),
			Error:        errText,
		}
	default:
		return storage.Outcome{
			Status:       storage.StatusSuccess,
			SuccessCount: accepted,
			MessageID:    messageID,
			Detail:       fmt.Sprintf("sent to %d recipients", accepted),
		}
	}
}

func failed(detail, errText string) storage.Outcome {
	return storage.Outcome{Status: storage.StatusFailed, Detail: detail, Error: errText}
}
