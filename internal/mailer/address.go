package mailer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
)

// mailAddress lets files importing go-mail refer to net/mail addresses.
type mailAddress = mail.Address

// sanitizeEmailAddress validates an address and rejects header injection.
func sanitizeEmailAddress(addr string) (*mail.Address, error) {
	if strings.ContainsAny(addr, "\r\n") {
		return nil, fmt.Errorf("%w: CRLF in address", ErrInvalidAddress)
	}

	parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if strings.ContainsAny(parsed.Name, "\r\n") {
		return nil, fmt.Errorf("%w: CRLF in display name", ErrInvalidAddress)
	}

	return parsed, nil
}

// ValidateAddress reports whether addr is a single valid RFC 5322 mailbox.
func ValidateAddress(addr string) error {
	_, err := sanitizeEmailAddress(addr)
	return err
}

func sanitizeList(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := sanitizeEmailAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// HashRecipient creates a SHA256 hash of an email address so transport logs
// can correlate deliveries without carrying the address itself.
func HashRecipient(email string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(hash[:])
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
