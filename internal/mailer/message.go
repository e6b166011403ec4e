// Package mailer builds MIME messages and delivers them over SMTP with the
// user's own provider credentials.
package mailer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"strings"
	"time"

	"github.com/go-mail/mail"
	"github.com/google/uuid"
)

// MaxTotalAttachmentSize caps the declared size of all attachments in one request.
const MaxTotalAttachmentSize = 25 * 1024 * 1024

const defaultContentType = "application/octet-stream"

// Attachment as received from the client. Content is base64, optionally as a data URI.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Size        int64  `json:"size"`
}

// ComposeInput describes one message. Bcc never reaches the headers.
type ComposeInput struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []Attachment

	// Envelope overrides the SMTP recipients. Nil means To+Cc+Bcc.
	Envelope []string
}

// ComposeOptions tunes attachment handling.
type ComposeOptions struct {
	// StrictAttachments fails the whole message on an undecodable attachment
	// instead of dropping it.
	StrictAttachments bool
	Now               func() time.Time
}

// SkippedAttachment records an attachment left out of the message.
type SkippedAttachment struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Message is a composed, ready-to-send email.
type Message struct {
	ID       string
	From     string
	Envelope []string
	Attached int
	Skipped  []SkippedAttachment

	msg *mail.Message
}

// WriteTo renders the full RFC 5322 message.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	return m.msg.WriteTo(w)
}

// Header returns the rendered values of a header field.
func (m *Message) Header(field string) []string {
	return m.msg.GetHeader(field)
}

// Bytes renders the message into memory.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compose builds a MIME message with exactly one text part plus every
// attachment that decodes. A Message-ID is assigned before transmission.
func Compose(in ComposeInput, opts ComposeOptions) (*Message, error) {
	from, err := sanitizeEmailAddress(in.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := sanitizeList(in.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	cc, err := sanitizeList(in.Cc)
	if err != nil {
		return nil, fmt.Errorf("cc: %w", err)
	}
	bcc, err := sanitizeList(in.Bcc)
	if err != nil {
		return nil, fmt.Errorf("bcc: %w", err)
	}

	var envelope []string
	if in.Envelope != nil {
		env, err := sanitizeList(in.Envelope)
		if err != nil {
			return nil, fmt.Errorf("envelope: %w", err)
		}
		envelope = addresses(env)
	} else {
		envelope = append(append(addresses(to), addresses(cc)...), addresses(bcc)...)
	}
	if len(envelope) == 0 {
		return nil, errors.New("message has no recipients")
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	m := mail.NewMessage()
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from.Address))

	m.SetHeader("From", m.FormatAddress(from.Address, from.Name))
	if len(to) > 0 {
		m.SetHeader("To", formatList(m, to)...)
	}
	if len(cc) > 0 {
		m.SetHeader("Cc", formatList(m, cc)...)
	}
	m.SetHeader("Subject", in.Subject)
	m.SetHeader("Message-ID", id)
	m.SetDateHeader("Date", now())

	contentType := "text/plain"
	if in.IsHTML {
		contentType = "text/html"
	}
	m.SetBody(contentType, in.Body)

	out := &Message{ID: id, From: from.Address, Envelope: envelope, msg: m}

	for i, att := range in.Attachments {
		name := SanitizeFilename(att.Filename, i)

		data, reason := DecodeAttachment(att.Content)
		if reason != "" {
			if opts.StrictAttachments {
				return nil, &AttachmentError{Index: i, Filename: name, Reason: reason}
			}
			out.Skipped = append(out.Skipped, SkippedAttachment{Index: i, Filename: name, Reason: reason})
			continue
		}

		ct := mime.FormatMediaType(NormalizeContentType(att.ContentType), map[string]string{"name": name})
		if ct == "" {
			ct = mime.FormatMediaType(defaultContentType, nil)
		}
		m.Attach(name,
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			mail.SetHeader(map[string][]string{"Content-Type": {ct}}),
		)
		out.Attached++
	}

	return out, nil
}

// DecodeAttachment returns the raw bytes of a base64 payload, or a reason
// why it cannot be used. A leading data URI header and embedded whitespace are ignored.
func DecodeAttachment(content string) ([]byte, string) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)

	if s == "" {
		return nil, "empty content"
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, "invalid base64 content"
		}
	}
	if len(data) == 0 {
		return nil, "empty content"
	}
	return data, ""
}

// NormalizeContentType splits on the first "/" into major and minor type.
// Anything without two valid token halves becomes application/octet-stream.
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	major, minor, ok := strings.Cut(ct, "/")
	major, minor = strings.TrimSpace(major), strings.TrimSpace(minor)
	if !ok || major == "" || minor == "" {
		return defaultContentType
	}
	ct = strings.ToLower(major) + "/" + strings.ToLower(minor)
	if mime.FormatMediaType(ct, nil) == "" {
		return defaultContentType
	}
	return ct
}

// SanitizeFilename strips line breaks and quotes so the name cannot inject
// headers. An empty result falls back to attachment_<n>.
func SanitizeFilename(name string, index int) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '"':
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Sprintf("attachment_%d", index+1)
	}
	return name
}

// TotalDeclaredSize sums the client-declared attachment sizes. The sum
// saturates at math.MaxInt64 instead of wrapping.
func TotalDeclaredSize(atts []Attachment) int64 {
	var total int64
	for _, a := range atts {
		if a.Size <= 0 {
			continue
		}
		if a.Size > math.MaxInt64-total {
			return math.MaxInt64
		}
		total += a.Size
	}
	return total
}

func addresses(list []*mailAddress) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func formatList(m *mail.Message, list []*mailAddress) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, m.FormatAddress(a.Address, a.Name))
	}
	return out
}
