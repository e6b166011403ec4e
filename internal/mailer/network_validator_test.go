package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSMTPHost_BlockedHosts(t *testing.T) {
	tests := []struct {
		name  string
		host  string
		error string // Expected error substring
	}{
		{"Localhost String", "localhost", "localhost connections forbidden"},
		{"IPv4 Loopback", "127.0.0.1", "localhost connections forbidden"},
		{"IPv4 Loopback Range", "127.1.2.3", "localhost connections forbidden"},
		{"IPv6 Loopback Short", "::1", "localhost connections forbidden"},
		{"IPv6 Loopback Bracketed", "[::1]", "localhost connections forbidden"},
		{"IPv6 Loopback Full", "0:0:0:0:0:0:0:1", "localhost connections forbidden"},
		{"IPv4-mapped Loopback", "::ffff:127.0.0.1", "localhost connections forbidden"},
		{"Private Class A", "10.0.0.1", "private network blocked"},
		{"Private Class B", "172.16.0.1", "private network blocked"},
		{"Private Class C", "192.168.1.1", "private network blocked"},
		{"Cloud Metadata", "169.254.169.254", "private network blocked"},
		{"CG-NAT", "100.64.0.1", "private network blocked"},
		{"Broadcast", "255.255.255.255", "private network blocked"},
		{"Test Net 1", "192.0.2.1", "private network blocked"},
		{"IPv6 ULA", "fd00::1", "private network blocked"},
		{"Any", "0.0.0.0", "localhost connections forbidden"},
		{"Empty", "", "localhost connections forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSMTPHost(context.Background(), tt.host)
			assert.ErrorIs(t, err, ErrBlockedDestination)
			if err != nil {
				assert.Contains(t, err.Error(), tt.error)
			}
		})
	}
}

func TestValidateSMTPHost_AllowedHosts(t *testing.T) {
	// IP literals are checked without a DNS lookup.
	tests := []struct {
		name string
		host string
	}{
		{"Google DNS", "8.8.8.8"},
		{"Cloudflare DNS", "1.1.1.1"},
		{"Public IPv6", "2606:4700:4700::1111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSMTPHost(context.Background(), tt.host)
			assert.NoError(t, err)
		})
	}
}

func TestValidateSMTPPort(t *testing.T) {
	tests := []struct {
		name      string
		port      int
		shouldErr bool
	}{
		{"Standard SMTP", 25, false},
		{"SMTPS", 465, false},
		{"Submission", 587, false},
		{"Alt Submission", 2525, false},
		{"HTTP", 80, true},
		{"HTTPS", 443, true},
		{"SSH", 22, true},
		{"Postgres", 5432, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSMTPPort(tt.port)
			if tt.shouldErr {
				assert.ErrorIs(t, err, ErrBlockedPort)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEgressGuard(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, EgressGuard(ctx, "8.8.8.8", 587))
	assert.ErrorIs(t, EgressGuard(ctx, "8.8.8.8", 5432), ErrBlockedPort)
	assert.ErrorIs(t, EgressGuard(ctx, "10.1.1.1", 587), ErrBlockedDestination)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, EgressGuard(cancelled, "smtp.example.invalid", 587))
}
