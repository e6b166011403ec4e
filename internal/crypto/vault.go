// Package crypto protects SMTP app passwords at rest.
// Uses AES-256-GCM with a key derived from the application secret via PBKDF2-SHA256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize           = 32
	DefaultIterations = 100000
	DefaultSalt       = "lavente-mailer-vault-salt"
)

// ErrDecryption is matched by every decrypt failure.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError carries the underlying cause of a failed decrypt.
// Callers should only ever show ErrDecryption's message to users.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Vault encrypts and decrypts credential secrets. It is immutable after
// construction and safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// Option tweaks key derivation.
type Option func(*vaultOptions)

type vaultOptions struct {
	salt       []byte
	iterations int
}

// WithSalt overrides the derivation salt.
func WithSalt(salt string) Option {
	return func(o *vaultOptions) {
		if salt != "" {
			o.salt = []byte(salt)
		}
	}
}

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(o *vaultOptions) {
		if n > 0 {
			o.iterations = n
		}
	}
}

// DeriveKey runs PBKDF2-HMAC-SHA256 and returns a 32 byte key.
func DeriveKey(secret string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(secret), salt, iterations, KeySize, sha256.New)
}

// NewVault derives the encryption key once from the application secret.
func NewVault(secret string, opts ...Option) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret must not be empty")
	}

	o := vaultOptions{salt: []byte(DefaultSalt), iterations: DefaultIterations}
	for _, opt := range opts {
		opt(&o)
	}

	block, err := aes.NewCipher(DeriveKey(secret, o.salt, o.iterations))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM mode: %w", err)
	}

	return &Vault{aead: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
// Both return values are standard base64 and must be stored together.
func (v *Vault) Encrypt(plaintext string) (ciphertext string, iv string, err error) {
	// A nonce must never repeat under the same key.
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt opens a value produced by Encrypt. Tampering, a wrong iv or a
// rotated application secret all yield a *DecryptionError.
func (v *Vault) Decrypt(ciphertext, iv string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("invalid ciphertext encoding: %w", err)}
	}

	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("invalid iv encoding: %w", err)}
	}
	if len(nonce) != v.aead.NonceSize() {
		return "", &DecryptionError{Err: fmt.Errorf("iv has %d bytes, expected %d", len(nonce), v.aead.NonceSize())}
	}

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}

	return string(plaintext), nil
}

// GenerateSecret returns a random 32 byte application secret in hex.
//
// Example:
//
//	secret, _ := crypto.GenerateSecret()
//	fmt.Println("SECRET_KEY=" + secret)
func GenerateSecret() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
