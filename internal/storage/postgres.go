package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// NewPostgres creates a new connection pool to PostgreSQL.
func NewPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

// PostgresStore implements Store with raw SQL over pgxpool.
// Schema lives in migrations/ and is applied by cmd/migrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Status), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, status, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var status string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = UserStatus(status)
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) UpsertCredential(ctx context.Context, c *Credential) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_credentials
			(id, user_id, provider, email, smtp_host, smtp_port, use_tls, encrypted_secret, iv, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			email = EXCLUDED.email,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			use_tls = EXCLUDED.use_tls,
			encrypted_secret = EXCLUDED.encrypted_secret,
			iv = EXCLUDED.iv,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, c.ID, c.UserID, string(c.Provider), c.Email, c.Host, c.Port, c.UseTLS, c.EncryptedSecret, c.IV, now,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

const credentialColumns = `id, user_id, provider, email, smtp_host, smtp_port, use_tls, encrypted_secret, iv, created_at, updated_at`

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	var provider string
	err := row.Scan(&c.ID, &c.UserID, &provider, &c.Email, &c.Host, &c.Port, &c.UseTLS,
		&c.EncryptedSecret, &c.IV, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Provider = Provider(provider)
	return &c, nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, userID uuid.UUID, provider Provider) (*Credential, error) {
	return scanCredential(s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM email_credentials WHERE user_id = $1 AND provider = $2`,
		userID, string(provider)))
}

func (s *PostgresStore) LatestCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	return scanCredential(s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM email_credentials WHERE user_id = $1
		 ORDER BY updated_at DESC LIMIT 1`, userID))
}

func (s *PostgresStore) DeleteCredentials(ctx context.Context, userID uuid.UUID, provider Provider) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	if provider == "" {
		tag, err = s.pool.Exec(ctx, `DELETE FROM email_credentials WHERE user_id = $1`, userID)
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM email_credentials WHERE user_id = $1 AND provider = $2`,
			userID, string(provider))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete credentials: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CreateDelivery(ctx context.Context, r *DeliveryRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Status = StatusPending

	recipients, err := json.Marshal(r.Recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO email_logs
			(id, user_id, sender_email, recipients, subject, body_preview, attachments_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.UserID, r.SenderEmail, recipients, r.Subject, r.BodyPreview, r.AttachmentsCount,
		string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create email log: %w", err)
	}
	return nil
}

const deliveryColumns = `id, user_id, sender_email, recipients, subject, body_preview, attachments_count,
	status, success_count, message_id, detail, error_message, created_at, completed_at`

func scanDelivery(row pgx.Row) (*DeliveryRecord, error) {
	var r DeliveryRecord
	var recipients []byte
	var status string
	err := row.Scan(&r.ID, &r.UserID, &r.SenderEmail, &recipients, &r.Subject, &r.BodyPreview,
		&r.AttachmentsCount, &status, &r.SuccessCount, &r.MessageID, &r.Detail, &r.Error,
		&r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &r.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	r.Status = DeliveryStatus(status)
	return &r, nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, userID, id uuid.UUID) (*DeliveryRecord, error) {
	return scanDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM email_logs WHERE id = $1 AND user_id = $2`, id, userID))
}

func (s *PostgresStore) CompleteDelivery(ctx context.Context, id uuid.UUID, o Outcome) error {
	if err := validateOutcome(o); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE email_logs
		SET status = $2, success_count = $3, message_id = $4, detail = $5, error_message = $6, completed_at = $7
		WHERE id = $1 AND status = 'pending'
	`, id, string(o.Status), o.SuccessCount, o.MessageID, o.Detail, o.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete email log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, userID uuid.UUID, skip, limit int) ([]DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM email_logs WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC OFFSET $2 LIMIT $3`, userID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list email logs: %w", err)
	}
	defer rows.Close()

	out := []DeliveryRecord{}
	for rows.Next() {
		r, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
