package mailer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/smtpsink"
	"github.com/Jeffreasy/LaventeCareMailer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSink(t *testing.T, cfg smtpsink.Config) *smtpsink.Server {
	t.Helper()
	s := smtpsink.New(cfg, logger.Discard())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func composeFor(t *testing.T, to ...string) *mailer.Message {
	t.Helper()
	m, err := mailer.Compose(mailer.ComposeInput{
		From:    "alice@example.com",
		To:      to,
		Subject: "Transport test",
		Body:    "payload",
	}, mailer.ComposeOptions{})
	require.NoError(t, err)
	return m
}

func TestSMTPTransport_PlainDelivery(t *testing.T) {
	sink := startSink(t, smtpsink.Config{Username: "alice@example.com", Password: "app-password"})
	host, port := sink.HostPort()

	tr := mailer.NewSMTPTransport(mailer.SMTPOptions{Timeout: 5 * time.Second, Logger: logger.Discard()})
	msg := composeFor(t, "bob@example.net")

	id, err := tr.Send(context.Background(), mailer.SMTPSettings{
		Host: host, Port: port, Username: "alice@example.com", Password: "app-password",
	}, msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, id)

	got := sink.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "alice@example.com", got[0].From)
	assert.Equal(t, []string{"bob@example.net"}, got[0].To)
	assert.Equal(t, "alice@example.com", got[0].Username)

	parsed := parseRaw(t, got[0].Data)
	assert.Equal(t, msg.ID, parsed.Header.Get("Message-ID"))
	assert.Equal(t, "payload", parsed.Body)
}

func TestSMTPTransport_STARTTLS(t *testing.T) {
	tlsCfg, pool, err := smtpsink.SelfSignedTLS("127.0.0.1")
	require.NoError(t, err)

	sink := startSink(t, smtpsink.Config{Username: "u", Password: "p", TLSConfig: tlsCfg})
	host, port := sink.HostPort()

	tr := mailer.NewSMTPTransport(mailer.SMTPOptions{Timeout: 5 * time.Second, RootCAs: pool, Logger: logger.Discard()})
	_, err = tr.Send(context.Background(), mailer.SMTPSettings{
		Host: host, Port: port, Username: "u", Password: "p", UseTLS: true,
	}, composeFor(t, "bob@example.net"))
	require.NoError(t, err)
	assert.Len(t, sink.Messages(), 1)
}

func TestSMTPTransport_Failures(t *testing.T) {
	tests := []struct {
		name     string
		sink     smtpsink.Config
		settings func(host string, port int) mailer.SMTPSettings
		to       string
		stage    mailer.Stage
	}{
		{
			name: "no STARTTLS offered but TLS required",
			sink: smtpsink.Config{},
			settings: func(host string, port int) mailer.SMTPSettings {
				return mailer.SMTPSettings{Host: host, Port: port, Username: "u", Password: "p", UseTLS: true}
			},
			to:    "bob@example.net",
			stage: mailer.StageTLS,
		},
		{
			name: "wrong password",
			sink: smtpsink.Config{Username: "u", Password: "p"},
			settings: func(host string, port int) mailer.SMTPSettings {
				return mailer.SMTPSettings{Host: host, Port: port, Username: "u", Password: "wrong"}
			},
			to:    "bob@example.net",
			stage: mailer.StageAuth,
		},
		{
			name: "recipient rejected",
			sink: smtpsink.Config{RejectRecipients: []string{"gone@example.net"}},
			settings: func(host string, port int) mailer.SMTPSettings {
				return mailer.SMTPSettings{Host: host, Port: port, Username: "u", Password: "p"}
			},
			to:    "gone@example.net",
			stage: mailer.StageSend,
		},
		{
			name: "connection refused",
			sink: smtpsink.Config{},
			settings: func(host string, _ int) mailer.SMTPSettings {
				return mailer.SMTPSettings{Host: host, Port: 1, Username: "u", Password: "p"}
			},
			to:    "bob@example.net",
			stage: mailer.StageConnect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := startSink(t, tt.sink)
			host, port := sink.HostPort()

			tr := mailer.NewSMTPTransport(mailer.SMTPOptions{Timeout: 2 * time.Second, Logger: logger.Discard()})
			_, err := tr.Send(context.Background(), tt.settings(host, port), composeFor(t, tt.to))

			var tErr *mailer.TransportError
			require.ErrorAs(t, err, &tErr)
			assert.Equal(t, tt.stage, tErr.Stage)
			assert.Empty(t, sink.Messages())
		})
	}
}

func TestSMTPTransport_GuardRunsFirst(t *testing.T) {
	sink := startSink(t, smtpsink.Config{})
	host, port := sink.HostPort()

	blocked := errors.New("blocked")
	tr := mailer.NewSMTPTransport(mailer.SMTPOptions{
		Guard:  func(context.Context, string, int) error { return blocked },
		Logger: logger.Discard(),
	})

	_, err := tr.Send(context.Background(), mailer.SMTPSettings{Host: host, Port: port}, composeFor(t, "bob@example.net"))
	assert.ErrorIs(t, err, blocked)

	var tErr *mailer.TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, mailer.StageGuard, tErr.Stage)
	assert.Empty(t, sink.Messages())
}

func TestSMTPTransport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := mailer.NewSMTPTransport(mailer.SMTPOptions{Logger: logger.Discard()})
	_, err := tr.Send(ctx, mailer.SMTPSettings{Host: "127.0.0.1", Port: 25}, composeFor(t, "bob@example.net"))
	assert.ErrorIs(t, err, context.Canceled)
}
