// Package smtpsink is a capturing SMTP server for local development and
// tests. Accepted messages are kept in memory and never relayed.
package smtpsink

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-smtp"
)

// Message is one accepted SMTP transaction.
type Message struct {
	From       string
	To         []string
	Data       []byte
	Username   string
	ReceivedAt time.Time
}

type Config struct {
	Addr   string
	Domain string

	// Username and Password, when set, make AUTH mandatory.
	Username string
	Password string

	// TLSConfig enables STARTTLS.
	TLSConfig *tls.Config

	// RejectRecipients are answered with 550 at RCPT time.
	RejectRecipients []string

	MaxMessageBytes int64

	// OnMessage, when set, is called for every accepted message.
	OnMessage func(Message)
}

type Server struct {
	cfg    Config
	srv    *smtp.Server
	logger *slog.Logger

	closed atomic.Bool

	mu       sync.Mutex
	ln       net.Listener
	messages []Message
}

func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 32 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	srv := smtp.NewServer(&backend{sink: s})
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = 100
	srv.AllowInsecureAuth = true
	srv.TLSConfig = cfg.TLSConfig
	s.srv = srv

	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("smtp_sink_listening", "addr", ln.Addr().String(), "tls", s.cfg.TLSConfig != nil)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) && !s.closed.Load() {
			s.logger.Error("smtp_sink_stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// HostPort splits Addr for dialers that take them separately.
func (s *Server) HostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return s.Addr(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Messages returns a snapshot of everything accepted so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Server) Close() error {
	s.closed.Store(true)
	return s.srv.Close()
}

func (s *Server) store(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

func (s *Server) rejects(rcpt string) bool {
	for _, r := range s.cfg.RejectRecipients {
		if strings.EqualFold(r, rcpt) {
			return true
		}
	}
	return false
}

type backend struct {
	sink *Server
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{sink: b.sink}, nil
}

type session struct {
	sink     *Server
	username string
	from     string
	to       []string
}

var (
	errAuthFailed = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
	errAuthRequired = &smtp.SMTPError{
		Code:         530,
		EnhancedCode: smtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errMailboxUnavailable = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "Mailbox unavailable",
	}
)

func (s *session) AuthPlain(username, password string) error {
	cfg := s.sink.cfg
	if cfg.Username != "" && (username != cfg.Username || password != cfg.Password) {
		s.sink.logger.Warn("smtp_sink_auth_failed", "username", username)
		return errAuthFailed
	}
	s.username = username
	return nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.sink.cfg.Username != "" && s.username == "" {
		return errAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.sink.rejects(to) {
		return errMailboxUnavailable
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	msg := Message{
		From:       s.from,
		To:         append([]string(nil), s.to...),
		Data:       body,
		Username:   s.username,
		ReceivedAt: time.Now(),
	}
	s.sink.store(msg)
	if s.sink.cfg.OnMessage != nil {
		s.sink.cfg.OnMessage(msg)
	}
	s.sink.logger.Info("smtp_sink_message_received", "recipients", len(s.to), "bytes", len(body))
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
