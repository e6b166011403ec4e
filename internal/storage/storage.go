package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	// ErrNotPending is returned when a delivery record already reached a terminal state.
	ErrNotPending = errors.New("delivery record is not pending")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type CredentialStore interface {
	// UpsertCredential inserts or updates by (user, provider) and fills ID and timestamps.
	UpsertCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, userID uuid.UUID, provider Provider) (*Credential, error)
	// LatestCredential returns the most recently updated credential of the user.
	LatestCredential(ctx context.Context, userID uuid.UUID) (*Credential, error)
	// DeleteCredentials removes one provider, or all when provider is empty.
	DeleteCredentials(ctx context.Context, userID uuid.UUID, provider Provider) (int64, error)
}

type DeliveryStore interface {
	CreateDelivery(ctx context.Context, r *DeliveryRecord) error
	GetDelivery(ctx context.Context, userID, id uuid.UUID) (*DeliveryRecord, error)
	// CompleteDelivery applies the terminal outcome once; later calls get ErrNotPending.
	CompleteDelivery(ctx context.Context, id uuid.UUID, o Outcome) error
	// ListDeliveries returns the user's records newest first.
	ListDeliveries(ctx context.Context, userID uuid.UUID, skip, limit int) ([]DeliveryRecord, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	UserStore
	CredentialStore
	DeliveryStore
	Ping(ctx context.Context) error
	Close() error
}

// Open selects the backend by driver name.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		pool, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case "sqlite":
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func validateOutcome(o Outcome) error {
	if !o.Status.Terminal() {
		return fmt.Errorf("outcome status %q is not terminal", o.Status)
	}
	return nil
}
