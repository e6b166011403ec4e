package mailer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/go-mail/mail"
)

const DefaultDialTimeout = 30 * time.Second

// SMTPSettings is everything needed to log in to one provider.
// Password is the decrypted app password and must never be logged.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// Transport delivers a composed message and returns its Message-ID.
type Transport interface {
	Send(ctx context.Context, settings SMTPSettings, msg *Message) (string, error)
}

// HostGuard vets a destination before any connection is made.
type HostGuard func(ctx context.Context, host string, port int) error

// SMTPOptions configures an SMTPTransport.
type SMTPOptions struct {
	Timeout time.Duration
	Guard   HostGuard
	// RootCAs overrides the system pool. Used for local servers with private CAs.
	RootCAs   *x509.CertPool
	LocalName string
	Logger    *slog.Logger
}

// SMTPTransport opens one connection per Send: dial, optional STARTTLS,
// authenticate, transmit, quit. Nothing is retried.
type SMTPTransport struct {
	timeout   time.Duration
	guard     HostGuard
	rootCAs   *x509.CertPool
	localName string
	logger    *slog.Logger
}

func NewSMTPTransport(opts SMTPOptions) *SMTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SMTPTransport{
		timeout:   opts.Timeout,
		guard:     opts.Guard,
		rootCAs:   opts.RootCAs,
		localName: opts.LocalName,
		logger:    opts.Logger,
	}
}

// Send delivers msg to msg.Envelope in a single SMTP transaction.
//
// With UseTLS the connection must upgrade via STARTTLS before credentials
// are sent; a server without STARTTLS is an error, never a plaintext fallback.
// Port 465 always uses implicit TLS.
func (t *SMTPTransport) Send(ctx context.Context, s SMTPSettings, msg *Message) (string, error) {
	logger := t.logger.With("host", s.Host, "port", s.Port, "message_id", msg.ID)

	if err := ctx.Err(); err != nil {
		return "", &TransportError{Stage: StageConnect, Host: s.Host, Err: err}
	}

	if t.guard != nil {
		if err := t.guard(ctx, s.Host, s.Port); err != nil {
			logger.Warn("smtp_destination_blocked", "error", err)
			return "", &TransportError{Stage: StageGuard, Host: s.Host, Err: err}
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	d.Timeout = t.timeout
	d.RetryFailure = false
	d.LocalName = t.localName
	d.TLSConfig = &tls.Config{
		ServerName: s.Host,
		RootCAs:    t.rootCAs,
		MinVersion: tls.VersionTLS12,
	}

	switch {
	case d.SSL:
		// NewDialer enables implicit TLS for port 465.
	case s.UseTLS:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	default:
		d.StartTLSPolicy = mail.NoStartTLS
	}

	sc, err := d.Dial()
	if err != nil {
		stage := classifyDialError(err)
		logger.Warn("smtp_dial_failed", "stage", stage, "error", err)
		return "", &TransportError{Stage: stage, Host: s.Host, Err: err}
	}

	if err := sc.Send(msg.From, msg.Envelope, msg); err != nil {
		_ = sc.Close()
		logger.Warn("smtp_send_failed", "recipients", len(msg.Envelope), "error", err)
		return "", &TransportError{Stage: StageSend, Host: s.Host, Err: err}
	}

	// The server already accepted the message; a failed QUIT does not undo that.
	if err := sc.Close(); err != nil {
		logger.Debug("smtp_quit_failed", "error", err)
	}

	hashes := make([]string, 0, len(msg.Envelope))
	for _, r := range msg.Envelope {
		hashes = append(hashes, HashRecipient(r))
	}
	logger.Info("smtp_message_sent",
		"recipients", len(msg.Envelope),
		"recipient_hashes", hashes,
		"attachments", msg.Attached,
	)

	return msg.ID, nil
}

// classifyDialError maps a go-mail Dial error onto the stage that failed.
func classifyDialError(err error) Stage {
	lower := strings.ToLower(err.Error())

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535, 538:
			return StageAuth
		}
	}

	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &recErr) ||
		strings.Contains(lower, "starttls") || strings.Contains(lower, "tls:") || strings.Contains(lower, "x509:") {
		return StageTLS
	}

	if strings.Contains(lower, "auth") || strings.Contains(lower, "unencrypted connection") {
		return StageAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return StageConnect
	}
	return StageConnect
}
