package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/Jeffreasy/LaventeCareMailer/internal/audit"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is not active")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidName        = errors.New("name must be between 1 and 100 characters")
)

const maxNameLength = 100

// RegisterInput defines the data needed to register a new user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput defines the credentials for login.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// AuthResult contains the token to return to the client.
type AuthResult struct {
	AccessToken string
	TokenType   string
	User        *storage.User
}

// AuthService handles account signup, login and lookup.
// It is agnostic of HTTP transport and of the storage backend.
type AuthService struct {
	users          storage.UserStore
	passwordHasher PasswordHasher
	tokenProvider  TokenProvider
	audit          audit.Logger
	logger         *slog.Logger
}

func NewAuthService(
	users storage.UserStore,
	hasher PasswordHasher,
	tokenProvider TokenProvider,
	auditLogger audit.Logger,
	logger *slog.Logger,
) *AuthService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:          users,
		passwordHasher: hasher,
		tokenProvider:  tokenProvider,
		audit:          auditLogger,
		logger:         logger,
	}
}

// Register creates an active user and signs them in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	name := strings.TrimSpace(input.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameLength {
		return nil, ErrInvalidName
	}

	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	if ok, reason := ValidateStrength(input.Password); !ok {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, reason)
	}

	hash, err := s.passwordHasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	user := &storage.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       storage.UserActive,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	token, err := s.tokenProvider.GenerateAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	s.audit.Log(ctx, user.ID, audit.EventSignup, "user", map[string]string{"method": "password"})
	s.logger.Info("user_registered", "user_id", user.ID)

	return &AuthResult{AccessToken: token, TokenType: "bearer", User: user}, nil
}

// Login verifies the password and issues an access token. Unknown users,
// wrong passwords and blocked accounts all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	if user.Status != storage.UserActive {
		s.audit.Log(ctx, user.ID, audit.EventLoginFailed, "user", map[string]string{"reason": "inactive", "ip": input.IP})
		return nil, ErrInvalidCredentials
	}

	if err := s.passwordHasher.Compare(user.PasswordHash, input.Password); err != nil {
		s.audit.Log(ctx, user.ID, audit.EventLoginFailed, "user", map[string]string{"reason": "password", "ip": input.IP})
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokenProvider.GenerateAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	s.audit.Log(ctx, user.ID, audit.EventLoginSuccess, "user", map[string]string{
		"method":     "password",
		"ip":         input.IP,
		"user_agent": input.UserAgent,
	})

	return &AuthResult{AccessToken: token, TokenType: "bearer", User: user}, nil
}

// Me returns the active account behind a validated token.
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*storage.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Status != storage.UserActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// GetJWKS returns the JSON Web Key Set for token verification by third parties.
func (s *AuthService) GetJWKS() (*JWKS, error) {
	return s.tokenProvider.GetJWKS()
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if strings.ContainsAny(email, "\r\n") {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
