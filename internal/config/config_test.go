package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 100000, cfg.Vault.Iterations)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.SMTP.DialTimeout)
	assert.True(t, cfg.Delivery.ForwardCopies)
	assert.Equal(t, AttachmentPolicySkip, cfg.Delivery.AttachmentPolicy)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DELIVERY_WORKERS", "8")
	t.Setenv("DELIVERY_FORWARD_COPIES", "false")
	t.Setenv("SMTP_DIAL_TIMEOUT", "5s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Delivery.Workers)
	assert.False(t, cfg.Delivery.ForwardCopies)
	assert.Equal(t, 5*time.Second, cfg.SMTP.DialTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailer.yaml")
	content := "port: \"7070\"\ncache_driver: redis\ncors_origins:\n  - https://app.example\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, []string{"https://app.example"}, cfg.CORSOrigins)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		t.Setenv("CONFIG_FILE", "")
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"unknown database driver", func(c *Config) { c.Database.Driver = "mysql" }, "DATABASE_DRIVER"},
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "memcached" }, "CACHE_DRIVER"},
		{"zero workers", func(c *Config) { c.Delivery.Workers = 0 }, "DELIVERY_WORKERS"},
		{"unknown attachment policy", func(c *Config) { c.Delivery.AttachmentPolicy = "lenient" }, "ATTACHMENT_DECODE_POLICY"},
		{"production without secret", func(c *Config) {
			c.Env = "production"
			c.Auth.JWTPrivateKey = "pem"
		}, "SECRET_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
