package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on an embedded SQLite file. It backs local
// development and the test suite; the schema is created on open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" is accepted.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for SQLite: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One connection: keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create SQLite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS email_credentials (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		email TEXT NOT NULL,
		smtp_host TEXT NOT NULL,
		smtp_port INTEGER NOT NULL,
		use_tls BOOLEAN NOT NULL DEFAULT 1,
		encrypted_secret TEXT NOT NULL,
		iv TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(user_id, provider)
	);

	CREATE TABLE IF NOT EXISTS email_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		sender_email TEXT NOT NULL DEFAULT '',
		recipients TEXT NOT NULL,
		subject TEXT NOT NULL,
		body_preview TEXT NOT NULL DEFAULT '',
		attachments_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 0,
		message_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_email_logs_user_created ON email_logs(user_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID.String(), u.Name, u.Email, u.PasswordHash, string(u.Status), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	var id, status string
	err := row.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	u.Status = UserStatus(status)
	return &u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email)))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) UpsertCredential(ctx context.Context, c *Credential) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_credentials
			(id, user_id, provider, email, smtp_host, smtp_port, use_tls, encrypted_secret, iv, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			email = excluded.email,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			use_tls = excluded.use_tls,
			encrypted_secret = excluded.encrypted_secret,
			iv = excluded.iv,
			updated_at = excluded.updated_at
	`, c.ID.String(), c.UserID.String(), string(c.Provider), c.Email, c.Host, c.Port, c.UseTLS,
		c.EncryptedSecret, c.IV, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	// Re-read so an update keeps the original id and created_at.
	stored, err := s.GetCredential(ctx, c.UserID, c.Provider)
	if err != nil {
		return fmt.Errorf("failed to reload credential: %w", err)
	}
	*c = *stored
	return nil
}

func scanSQLiteCredential(row interface{ Scan(...any) error }) (*Credential, error) {
	var c Credential
	var id, userID, provider string
	err := row.Scan(&id, &userID, &provider, &c.Email, &c.Host, &c.Port, &c.UseTLS,
		&c.EncryptedSecret, &c.IV, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if c.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	c.Provider = Provider(provider)
	return &c, nil
}

func (s *SQLiteStore) GetCredential(ctx context.Context, userID uuid.UUID, provider Provider) (*Credential, error) {
	return scanSQLiteCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM email_credentials WHERE user_id = ? AND provider = ?`,
		userID.String(), string(provider)))
}

func (s *SQLiteStore) LatestCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	return scanSQLiteCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM email_credentials WHERE user_id = ?
		 ORDER BY updated_at DESC LIMIT 1`, userID.String()))
}

func (s *SQLiteStore) DeleteCredentials(ctx context.Context, userID uuid.UUID, provider Provider) (int64, error) {
	var res sql.Result
	var err error
	if provider == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM email_credentials WHERE user_id = ?`, userID.String())
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM email_credentials WHERE user_id = ? AND provider = ?`,
			userID.String(), string(provider))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete credentials: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CreateDelivery(ctx context.Context, r *DeliveryRecord) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_logs
			(id, user_id, sender_email, recipients, subject, body_preview, attachments_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID.String(), r.UserID.String(), r.SenderEmail, string(recipients), r.Subject, r.BodyPreview,
		r.AttachmentsCount, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create email log: %w", err)
	}
	return nil
}

func scanSQLiteDelivery(row interface{ Scan(...any) error }) (*DeliveryRecord, error) {
	var r DeliveryRecord
	var id, userID, recipients, status string
	var completedAt sql.NullTime
	err := row.Scan(&id, &userID, &r.SenderEmail, &recipients, &r.Subject, &r.BodyPreview,
		&r.AttachmentsCount, &status, &r.SuccessCount, &r.MessageID, &r.Detail, &r.Error,
		&r.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if r.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recipients), &r.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	r.Status = DeliveryStatus(status)
	return &r, nil
}

func (s *SQLiteStore) GetDelivery(ctx context.Context, userID, id uuid.UUID) (*DeliveryRecord, error) {
	return scanSQLiteDelivery(s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM email_logs WHERE id = ? AND user_id = ?`, id.String(), userID.String()))
}

func (s *SQLiteStore) CompleteDelivery(ctx context.Context, id uuid.UUID, o Outcome) error {
	if err := validateOutcome(o); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE email_logs
		SET status = ?, success_count = ?, message_id = ?, detail = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(o.Status), o.SuccessCount, o.MessageID, o.Detail, o.Error, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to complete email log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, userID uuid.UUID, skip, limit int) ([]DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM email_logs WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID.String(), limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list email logs: %w", err)
	}
	defer rows.Close()

	out := []DeliveryRecord{}
	for rows.Next() {
		r, err := scanSQLiteDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
