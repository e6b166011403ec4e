package mailing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/audit"
	"github.com/Jeffreasy/LaventeCareMailer/internal/auth"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/google/uuid"
)

const (
	testSubject = "Test Email from LaventeCare Mailer"
	testBody    = "This is a test email to verify your email configuration is working correctly."
)

// providerDefaults fills host and port for the well-known providers.
var providerDefaults = map[storage.Provider]struct {
	host string
	port int
}{
	storage.ProviderGmail:   {"smtp.gmail.com", 587},
	storage.ProviderOutlook: {"smtp.office365.com", 587},
}

// Vault encrypts and decrypts app passwords.
type Vault interface {
	Encrypt(plaintext string) (ciphertext, iv string, err error)
	Decrypt(ciphertext, iv string) (string, error)
}

// SetupInput is a credential as submitted by the user.
type SetupInput struct {
	Provider    storage.Provider
	Email       string
	AppPassword string
	Host        string
	Port        int
	// UseTLS defaults to true when nil.
	UseTLS *bool
}

// CredentialView is a credential without its secret.
type CredentialView struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Provider  storage.Provider `json:"email_provider"`
	Email     string           `json:"email_address"`
	Host      string           `json:"smtp_host"`
	Port      int              `json:"smtp_port"`
	UseTLS    bool             `json:"use_tls"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func viewOf(c *storage.Credential) *CredentialView {
	return &CredentialView{
		ID:        c.ID,
		UserID:    c.UserID,
		Provider:  c.Provider,
		Email:     c.Email,
		Host:      c.Host,
		Port:      c.Port,
		UseTLS:    c.UseTLS,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type CredentialService struct {
	store     storage.CredentialStore
	vault     Vault
	transport mailer.Transport
	guard     mailer.HostGuard
	audit     audit.Logger
	logger    *slog.Logger
}

// NewCredentialService wires the service. guard may be nil to allow any
// destination for custom providers.
func NewCredentialService(
	store storage.CredentialStore,
	vault Vault,
	transport mailer.Transport,
	guard mailer.HostGuard,
	auditLogger audit.Logger,
	logger *slog.Logger,
) *CredentialService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		store:     store,
		vault:     vault,
		transport: transport,
		guard:     guard,
		audit:     auditLogger,
		logger:    logger,
	}
}

// Setup validates, encrypts and stores a credential, replacing any earlier
// one for the same provider.
func (s *CredentialService) Setup(ctx context.Context, userID uuid.UUID, in SetupInput) (*CredentialView, error) {
	if !in.Provider.Valid() {
		return nil, invalid("email_provider", "must be one of gmail, outlook, custom")
	}

	email := strings.TrimSpace(in.Email)
	if err := mailer.ValidateAddress(email); err != nil || strings.ContainsAny(email, "<> ") {
		return nil, invalid("email_address", "invalid email address")
	}

	if err := auth.ValidateAppPassword(in.AppPassword); err != nil {
		return nil, invalid("app_password", fmt.Sprintf("must be at least %d characters long", auth.MinAppPasswordLength))
	}

	host, port := strings.TrimSpace(in.Host), in.Port
	if def, ok := providerDefaults[in.Provider]; ok {
		if host == "" {
			host = def.host
		}
		if port == 0 {
			port = def.port
		}
	} else if host == "" || port == 0 {
		return nil, invalid("smtp_host", "SMTP host and port required for custom provider")
	}

	if port < 1 || port > 65535 {
		return nil, invalid("smtp_port", "must be between 1 and 65535")
	}
	if strings.ContainsAny(host, " /\\@\r\n\t") {
		return nil, invalid("smtp_host", "invalid host name")
	}

	if in.Provider == storage.ProviderCustom && s.guard != nil {
		if err := s.guard(ctx, host, port); err != nil {
			s.logger.Warn("credential_destination_blocked", "user_id", userID, "host", host, "port", port)
			return nil, invalid("smtp_host", "destination is not allowed")
		}
	}

	useTLS := true
	if in.UseTLS != nil {
		useTLS = *in.UseTLS
	}

	ciphertext, iv, err := s.vault.Encrypt(in.AppPassword)
	if err != nil {
		return nil, fmt.Errorf("encrypt app password: %w", err)
	}

	cred := &storage.Credential{
		UserID:          userID,
		Provider:        in.Provider,
		Email:           email,
		Host:            host,
		Port:            port,
		UseTLS:          useTLS,
		EncryptedSecret: ciphertext,
		IV:              iv,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	s.audit.Log(ctx, userID, audit.EventCredentialSaved, "email_credential", map[string]string{
		"provider": string(cred.Provider),
		"host":     cred.Host,
	})
	s.logger.Info("credential_saved", "user_id", userID, "provider", cred.Provider, "host", cred.Host, "port", cred.Port)

	return viewOf(cred), nil
}

// Get returns the most recently updated credential.
func (s *CredentialService) Get(ctx context.Context, userID uuid.UUID) (*CredentialView, error) {
	cred, err := s.latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	return viewOf(cred), nil
}

// Resolve loads the active credential and decrypts its secret.
// Decryption failures are returned as *crypto.DecryptionError.
func (s *CredentialService) Resolve(ctx context.Context, userID uuid.UUID) (*storage.Credential, string, error) {
	cred, err := s.latest(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	secret, err := s.vault.Decrypt(cred.EncryptedSecret, cred.IV)
	if err != nil {
		s.logger.Error("credential_decrypt_failed", "user_id", userID, "provider", cred.Provider, "error", err)
		return nil, "", err
	}
	return cred, secret, nil
}

// Test sends a fixed message synchronously and returns its Message-ID.
func (s *CredentialService) Test(ctx context.Context, userID uuid.UUID, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if err := mailer.ValidateAddress(recipient); err != nil {
		return "", invalid("test_recipient", "invalid email address")
	}

	cred, secret, err := s.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	msg, err := mailer.Compose(mailer.ComposeInput{
		From:    cred.Email,
		To:      []string{recipient},
		Subject: testSubject,
		Body:    testBody,
	}, mailer.ComposeOptions{})
	if err != nil {
		return "", invalid("test_recipient", err.Error())
	}

	id, err := s.transport.Send(ctx, mailer.SMTPSettings{
		Host:     cred.Host,
		Port:     cred.Port,
		Username: cred.Email,
		Password: secret,
		UseTLS:   cred.UseTLS,
	}, msg)

	result := "success"
	if err != nil {
		result = "failed"
	}
	s.audit.Log(ctx, userID, audit.EventCredentialTested, "email_credential", map[string]string{
		"provider": string(cred.Provider),
		"result":   result,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the credential for provider, or every credential when
// provider is empty.
func (s *CredentialService) Delete(ctx context.Context, userID uuid.UUID, provider storage.Provider) error {
	if provider != "" && !provider.Valid() {
		return invalid("provider", "must be one of gmail, outlook, custom")
	}

	n, err := s.store.DeleteCredentials(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n == 0 {
		return ErrNotConfigured
	}

	s.audit.Log(ctx, userID, audit.EventCredentialDeleted, "email_credential", map[string]string{
		"provider": string(provider),
		"count":    fmt.Sprint(n),
	})
	return nil
}

func (s *CredentialService) latest(ctx context.Context, userID uuid.UUID) (*storage.Credential, error) {
	cred, err := s.store.LatestCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}
