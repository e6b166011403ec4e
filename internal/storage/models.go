package storage

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderCustom  Provider = "custom"
)

// Valid reports whether p is a known provider tag.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGmail, ProviderOutlook, ProviderCustom:
		return true
	}
	return false
}

// Credential is a user's SMTP login for one provider. The app password is
// only ever held as EncryptedSecret plus IV.
type Credential struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Provider        Provider  `json:"provider"`
	Email           string    `json:"email"`
	Host            string    `json:"smtp_host"`
	Port            int       `json:"smtp_port"`
	UseTLS          bool      `json:"use_tls"`
	EncryptedSecret string    `json:"encrypted_secret"`
	IV              string    `json:"iv"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSuccess DeliveryStatus = "success"
	StatusPartial DeliveryStatus = "partial"
	StatusFailed  DeliveryStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// Recipients is the snapshot of addresses taken when a send is accepted.
type Recipients struct {
	To    []string `json:"to"`
	Cc    []string `json:"cc"`
	Bcc   []string `json:"bcc"`
	Total int      `json:"total"`
}

func NewRecipients(to, cc, bcc []string) Recipients {
	if cc == nil {
		cc = []string{}
	}
	if bcc == nil {
		bcc = []string{}
	}
	return Recipients{To: to, Cc: cc, Bcc: bcc, Total: len(to) + len(cc) + len(bcc)}
}

// DeliveryRecord tracks one send request from acceptance to its single
// terminal state.
type DeliveryRecord struct {
	ID               uuid.UUID      `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	SenderEmail      string         `json:"sender_email"`
	Recipients       Recipients     `json:"recipients"`
	Subject          string         `json:"subject"`
	BodyPreview      string         `json:"body_preview"`
	AttachmentsCount int            `json:"attachments_count"`
	Status           DeliveryStatus `json:"status"`
	SuccessCount     int            `json:"success_count"`
	MessageID        string         `json:"message_id,omitempty"`
	Detail           string         `json:"detail,omitempty"`
	Error            string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Outcome is the terminal write applied to a pending DeliveryRecord.
type Outcome struct {
	Status       DeliveryStatus
	SuccessCount int
	MessageID    string
	Detail       string
	Error        string
}
