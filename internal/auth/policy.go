package auth

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength    = 8
	MaxPasswordLength    = 128
	MinAppPasswordLength = 8
)

var ErrWeakPassword = errors.New("password does not meet policy")

// ValidateStrength checks an account password. It has no side effects and
// reports the first rule that fails.
func ValidateStrength(password string) (bool, string) {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return false, fmt.Sprintf("password must be at least %d characters long", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return false, fmt.Sprintf("password must be at most %d characters long", MaxPasswordLength)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	switch {
	case !hasUpper:
		return false, "password must contain at least one uppercase letter"
	case !hasLower:
		return false, "password must contain at least one lowercase letter"
	case !hasDigit:
		return false, "password must contain at least one digit"
	case !hasSymbol:
		return false, "password must contain at least one special character"
	}

	return true, ""
}

// ValidateAppPassword checks a provider app password. Those are generated by
// the provider, so only a length floor applies.
func ValidateAppPassword(password string) error {
	if utf8.RuneCountInString(password) < MinAppPasswordLength {
		return fmt.Errorf("%w: app password must be at least %d characters long", ErrWeakPassword, MinAppPasswordLength)
	}
	return nil
}
