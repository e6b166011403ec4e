package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/cache"
	"github.com/google/uuid"
)

// CachedCredentials is a read-through cache for LatestCredential, which every
// background delivery calls. Entries hold the encrypted record only, never a
// decrypted secret. Writes go to the store first, then bump the user's
// generation and drop the entry. A cached entry is served only while its
// generation matches, so a read that raced a write cannot resurrect old data.
type CachedCredentials struct {
	CredentialStore
	cache  cache.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedCredentials(store CredentialStore, c cache.Client, ttl time.Duration, logger *slog.Logger) *CachedCredentials {
	return &CachedCredentials{
		CredentialStore: store,
		cache:           c,
		ttl:             ttl,
		logger:          logger,
	}
}

type cachedCredential struct {
	Generation string      `json:"generation"`
	Credential *Credential `json:"credential"`
}

func latestCredentialKey(userID uuid.UUID) string {
	return "credential:latest:" + userID.String()
}

func credentialGenerationKey(userID uuid.UUID) string {
	return "credential:gen:" + userID.String()
}

// generation returns the user's current write generation. ok is false when
// the cache could not answer, in which case nothing may be cached or served.
func (c *CachedCredentials) generation(ctx context.Context, userID uuid.UUID) (gen string, ok bool) {
	gen, err := c.cache.Get(ctx, credentialGenerationKey(userID))
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, cache.ErrNotFound):
		return "", true
	default:
		c.logger.Warn("credential_cache_read_failed", "user_id", userID, "error", err)
		return "", false
	}
}

func (c *CachedCredentials) LatestCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	key := latestCredentialKey(userID)
	gen, ok := c.generation(ctx, userID)

	if ok {
		raw, err := c.cache.Get(ctx, key)
		if err == nil {
			var entry cachedCredential
			if err := json.Unmarshal([]byte(raw), &entry); err == nil && entry.Credential != nil && entry.Generation == gen {
				return entry.Credential, nil
			}
			// Corrupt or stale entry: fall through to the store.
			_ = c.cache.Delete(ctx, key)
		} else if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn("credential_cache_read_failed", "user_id", userID, "error", err)
		}
	}

	cred, err := c.CredentialStore.LatestCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return cred, nil
	}
	if b, err := json.Marshal(cachedCredential{Generation: gen, Credential: cred}); err == nil {
		if err := c.cache.Set(ctx, key, string(b), c.ttl); err != nil {
			c.logger.Warn("credential_cache_write_failed", "user_id", userID, "error", err)
		}
	}
	return cred, nil
}

func (c *CachedCredentials) UpsertCredential(ctx context.Context, cred *Credential) error {
	if err := c.CredentialStore.UpsertCredential(ctx, cred); err != nil {
		return err
	}
	c.invalidate(ctx, cred.UserID)
	return nil
}

func (c *CachedCredentials) DeleteCredentials(ctx context.Context, userID uuid.UUID, provider Provider) (int64, error) {
	n, err := c.CredentialStore.DeleteCredentials(ctx, userID, provider)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, userID)
	return n, nil
}

func (c *CachedCredentials) invalidate(ctx context.Context, userID uuid.UUID) {
	// The generation outlives any entry written under the previous one.
	var genTTL time.Duration
	if c.ttl > 0 {
		genTTL = 2 * c.ttl
	}
	if err := c.cache.Set(ctx, credentialGenerationKey(userID), uuid.NewString(), genTTL); err != nil {
		c.logger.Warn("credential_cache_invalidate_failed", "user_id", userID, "error", err)
	}
	if err := c.cache.Delete(ctx, latestCredentialKey(userID)); err != nil {
		c.logger.Warn("credential_cache_invalidate_failed", "user_id", userID, "error", err)
	}
}
