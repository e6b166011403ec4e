package mailing_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/Jeffreasy/LaventeCareMailer/internal/delivery"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailing"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/Jeffreasy/LaventeCareMailer/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) sender(strict bool) *mailing.SendService {
	return mailing.NewSendService(e.store, e.store, e.queue, mailing.SendOptions{
		StrictAttachments: strict,
		Logger:            logger.Discard(),
	})
}

func (e *env) count(t *testing.T) int {
	t.Helper()
	recs, err := e.store.ListDeliveries(context.Background(), e.user.ID, 0, 100)
	require.NoError(t, err)
	return len(recs)
}

func TestSendService_Accepts(t *testing.T) {
	e := newEnv(t)
	e.setupGmail(t)

	body := strings.Repeat("é", 250)
	res, err := e.sender(false).Send(context.Background(), e.user.ID, mailing.SendInput{
		To:      []string{" a@example.net ", "b@example.net"},
		Cc:      []string{"c@example.net"},
		Bcc:     []string{"d@example.net"},
		Subject: "Quarterly report",
		Body:    body,
		IsHTML:  true,
		Attachments: []mailer.Attachment{
			{Filename: "r.txt", Content: base64.StdEncoding.EncodeToString([]byte("hi")), Size: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Email is being sent individually to 2 recipient(s)", res.Message)

	rec, err := e.store.GetDelivery(context.Background(), e.user.ID, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, rec.Status)
	assert.Equal(t, "owner@gmail.com", rec.SenderEmail)
	assert.Equal(t, []string{"a@example.net", "b@example.net"}, rec.Recipients.To)
	assert.Equal(t, 4, rec.Recipients.Total)
	assert.Equal(t, 1, rec.AttachmentsCount)
	assert.Equal(t, strings.Repeat("é", 200), rec.BodyPreview)

	require.Len(t, e.queue.jobs, 1)
	job := e.queue.jobs[0]
	assert.Equal(t, res.RecordID, job.RecordID)
	assert.Equal(t, e.user.ID, job.UserID)
	assert.Equal(t, body, job.Body)
	assert.True(t, job.IsHTML)
	assert.Equal(t, []string{"d@example.net"}, job.Bcc)
}

func TestSendService_Rejects(t *testing.T) {
	big := mailer.Attachment{Filename: "big.bin", Content: "AAAA", Size: mailer.MaxTotalAttachmentSize}
	tests := []struct {
		name   string
		in     mailing.SendInput
		strict bool
		field  string
	}{
		{"no recipients", mailing.SendInput{Subject: "s"}, false, "recipients.to"},
		{"empty subject", mailing.SendInput{To: []string{"a@b.co"}, Subject: "  "}, false, "subject"},
		{"long subject", mailing.SendInput{To: []string{"a@b.co"}, Subject: strings.Repeat("x", 501)}, false, "subject"},
		{"bad to", mailing.SendInput{To: []string{"a@b.co", "nope"}, Subject: "s"}, false, "recipients.to[1]"},
		{"bad cc", mailing.SendInput{To: []string{"a@b.co"}, Cc: []string{"x"}, Subject: "s"}, false, "recipients.cc[0]"},
		{"injected bcc", mailing.SendInput{To: []string{"a@b.co"}, Bcc: []string{"a@b.co\r\nBcc: z@z.z"}, Subject: "s"}, false, "recipients.bcc[0]"},
		{"oversized", mailing.SendInput{To: []string{"a@b.co"}, Subject: "s", Attachments: []mailer.Attachment{big, {Size: 1}}}, false, "attachments"},
		{"overflowing sizes", mailing.SendInput{To: []string{"a@b.co"}, Subject: "s", Attachments: []mailer.Attachment{{Filename: "a", Content: "AAAA", Size: math.MaxInt64}, {Filename: "b", Content: "AAAA", Size: 1}}}, false, "attachments"},
		{"strict bad base64", mailing.SendInput{To: []string{"a@b.co"}, Subject: "s", Attachments: []mailer.Attachment{{Filename: "x", Content: "!!!"}}}, true, "attachments[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.setupGmail(t)

			_, err := e.sender(tt.strict).Send(context.Background(), e.user.ID, tt.in)
			var verr *mailing.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, e.count(t), "no record on rejection")
			assert.Empty(t, e.queue.jobs)
		})
	}
}

func TestSendService_SkipPolicyAcceptsBadAttachment(t *testing.T) {
	e := newEnv(t)
	e.setupGmail(t)

	_, err := e.sender(false).Send(context.Background(), e.user.ID, mailing.SendInput{
		To: []string{"a@b.co"}, Subject: "s",
		Attachments: []mailer.Attachment{{Filename: "x", Content: "!!!"}},
	})
	require.NoError(t, err)
	assert.Len(t, e.queue.jobs, 1)
}

func TestSendService_NotConfigured(t *testing.T) {
	e := newEnv(t)
	_, err := e.sender(false).Send(context.Background(), e.user.ID, mailing.SendInput{To: []string{"a@b.co"}, Subject: "s"})
	assert.ErrorIs(t, err, mailing.ErrNotConfigured)
	assert.Zero(t, e.count(t))
}

func TestSendService_QueueFailure(t *testing.T) {
	e := newEnv(t)
	e.setupGmail(t)
	e.queue.err = fmt.Errorf("%w: context deadline exceeded", delivery.ErrQueueUnavailable)

	_, err := e.sender(false).Send(context.Background(), e.user.ID, mailing.SendInput{To: []string{"a@b.co"}, Subject: "s"})
	assert.ErrorIs(t, err, delivery.ErrQueueUnavailable)
}

func TestSendService_HistoryAndGet(t *testing.T) {
	e := newEnv(t)
	e.setupGmail(t)
	svc := e.sender(false)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := svc.Send(context.Background(), e.user.ID, mailing.SendInput{
			To: []string{"a@b.co"}, Subject: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, res.RecordID)
	}

	all, err := svc.History(context.Background(), e.user.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "message 2", all[0].Subject, "newest first")

	page, err := svc.History(context.Background(), e.user.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "message 1", page[0].Subject)

	clamped, err := svc.History(context.Background(), e.user.ID, -5, 1000)
	require.NoError(t, err)
	assert.Len(t, clamped, 3)

	empty, err := svc.History(context.Background(), uuid.New(), 0, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	got, err := svc.Get(context.Background(), e.user.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "message 0", got.Subject)

	_, err = svc.Get(context.Background(), uuid.New(), ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
