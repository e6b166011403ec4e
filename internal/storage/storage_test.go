package storage_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) storage.Store

func sqliteStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// postgresStore runs against TEST_DATABASE_URL after applying migrations.
func postgresStore(t *testing.T) storage.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	m, err := migrate.New("file://../../migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	ctx := context.Background()
	pool, err := storage.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "TRUNCATE users CASCADE")
	require.NoError(t, err)

	s := storage.NewPostgresStore(pool)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite":   sqliteStore,
		"postgres": postgresStore,
	}
}

func createUser(t *testing.T, s storage.Store, email string) *storage.User {
	t.Helper()
	u := &storage.User{Name: "Test User", Email: email, PasswordHash: "$argon2id$stub"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestStore_Users(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			u := createUser(t, s, "Alice@Example.com")
			assert.NotEqual(t, uuid.Nil, u.ID)
			assert.Equal(t, storage.UserActive, u.Status)

			got, err := s.GetUserByEmail(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)
			assert.Equal(t, "alice@example.com", got.Email)

			got, err = s.GetUserByID(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, "Test User", got.Name)

			err = s.CreateUser(ctx, &storage.User{Name: "Dup", Email: "alice@example.com", PasswordHash: "x"})
			assert.ErrorIs(t, err, storage.ErrConflict)

			_, err = s.GetUserByID(ctx, uuid.New())
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestStore_CredentialUpsertAndDelete(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			u := createUser(t, s, "bob@example.com")

			cred := &storage.Credential{
				UserID: u.ID, Provider: storage.ProviderGmail, Email: "bob@gmail.com",
				Host: "smtp.gmail.com", Port: 587, UseTLS: true, EncryptedSecret: "ct1", IV: "iv1",
			}
			require.NoError(t, s.UpsertCredential(ctx, cred))
			firstID := cred.ID

			// Second setup for the same provider updates in place.
			update := &storage.Credential{
				UserID: u.ID, Provider: storage.ProviderGmail, Email: "bob2@gmail.com",
				Host: "smtp.gmail.com", Port: 587, UseTLS: true, EncryptedSecret: "ct2", IV: "iv2",
			}
			require.NoError(t, s.UpsertCredential(ctx, update))
			assert.Equal(t, firstID, update.ID)

			got, err := s.GetCredential(ctx, u.ID, storage.ProviderGmail)
			require.NoError(t, err)
			assert.Equal(t, "bob2@gmail.com", got.Email)
			assert.Equal(t, "ct2", got.EncryptedSecret)

			time.Sleep(5 * time.Millisecond)
			outlook := &storage.Credential{
				UserID: u.ID, Provider: storage.ProviderOutlook, Email: "bob@outlook.com",
				Host: "smtp.office365.com", Port: 587, UseTLS: true, EncryptedSecret: "ct3", IV: "iv3",
			}
			require.NoError(t, s.UpsertCredential(ctx, outlook))

			latest, err := s.LatestCredential(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, storage.ProviderOutlook, latest.Provider)

			n, err := s.DeleteCredentials(ctx, u.ID, storage.ProviderOutlook)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			n, err = s.DeleteCredentials(ctx, u.ID, "")
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			_, err = s.LatestCredential(ctx, u.ID)
			assert.ErrorIs(t, err, storage.ErrNotFound)

			n, err = s.DeleteCredentials(ctx, u.ID, "")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStore_DeliveryLifecycle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			u := createUser(t, s, "carol@example.com")

			rec := &storage.DeliveryRecord{
				UserID:     u.ID,
				Recipients: storage.NewRecipients([]string{"a@x.com", "b@x.com"}, []string{"c@x.com"}, nil),
				Subject:    "Hello",
			}
			require.NoError(t, s.CreateDelivery(ctx, rec))
			assert.Equal(t, storage.StatusPending, rec.Status)

			got, err := s.GetDelivery(ctx, u.ID, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, got.Recipients.Total)
			assert.Equal(t, []string{"c@x.com"}, got.Recipients.Cc)
			assert.Nil(t, got.CompletedAt)

			outcome := storage.Outcome{Status: storage.StatusPartial, SuccessCount: 1, Detail: "sent to 1 of 2 recipients", MessageID: "<id@x>"}
			require.NoError(t, s.CompleteDelivery(ctx, rec.ID, outcome))

			// Exactly one terminal write.
			err = s.CompleteDelivery(ctx, rec.ID, storage.Outcome{Status: storage.StatusSuccess})
			assert.ErrorIs(t, err, storage.ErrNotPending)

			got, err = s.GetDelivery(ctx, u.ID, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, storage.StatusPartial, got.Status)
			assert.Equal(t, 1, got.SuccessCount)
			assert.Equal(t, "<id@x>", got.MessageID)
			assert.NotNil(t, got.CompletedAt)

			err = s.CompleteDelivery(ctx, rec.ID, storage.Outcome{Status: storage.StatusPending})
			assert.Error(t, err)

			// Other users cannot see it.
			other := createUser(t, s, "mallory@example.com")
			_, err = s.GetDelivery(ctx, other.ID, rec.ID)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestStore_ListDeliveries(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			u := createUser(t, s, "dave@example.com")
			other := createUser(t, s, "erin@example.com")

			base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
			var ids []uuid.UUID
			for i := 0; i < 5; i++ {
				rec := &storage.DeliveryRecord{
					UserID:     u.ID,
					Recipients: storage.NewRecipients([]string{"x@y.com"}, nil, nil),
					Subject:    "msg",
					CreatedAt:  base.Add(time.Duration(i) * time.Minute),
				}
				require.NoError(t, s.CreateDelivery(ctx, rec))
				ids = append(ids, rec.ID)
			}
			require.NoError(t, s.CreateDelivery(ctx, &storage.DeliveryRecord{
				UserID: other.ID, Recipients: storage.NewRecipients([]string{"z@y.com"}, nil, nil), Subject: "theirs",
			}))

			all, err := s.ListDeliveries(ctx, u.ID, 0, 50)
			require.NoError(t, err)
			require.Len(t, all, 5)
			for i, r := range all {
				assert.Equal(t, ids[4-i], r.ID, "newest first")
				assert.Equal(t, u.ID, r.UserID)
			}

			page, err := s.ListDeliveries(ctx, u.ID, 1, 2)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, ids[3], page[0].ID)
			assert.Equal(t, ids[2], page[1].ID)

			empty, err := s.ListDeliveries(ctx, u.ID, 10, 5)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}
