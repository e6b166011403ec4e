package smtpsink_test

import (
	"net/smtp"
	"strings"
	"testing"

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

func TestSinkCapturesMessage(t *testing.T) {
	s := startSink(t, smtpsink.Config{})

	body := "Subject: hi\r\n\r\nhello\r\n"
	err := smtp.SendMail(s.Addr(), nil, "alice@example.com", []string{"bob@example.com", "carol@example.com"}, []byte(body))
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, msgs[0].To)
	assert.Contains(t, string(msgs[0].Data), "hello")
}

func TestSinkRequiresAuth(t *testing.T) {
	s := startSink(t, smtpsink.Config{Username: "user", Password: "secret"})
	host, _ := s.HostPort()

	err := smtp.SendMail(s.Addr(), nil, "a@example.com", []string{"b@example.com"}, []byte("x\r\n"))
	require.Error(t, err)

	err = smtp.SendMail(s.Addr(), smtp.PlainAuth("", "user", "wrong", host), "a@example.com", []string{"b@example.com"}, []byte("x\r\n"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "535"), err.Error())

	err = smtp.SendMail(s.Addr(), smtp.PlainAuth("", "user", "secret", host), "a@example.com", []string{"b@example.com"}, []byte("x\r\n"))
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Username)
}

func TestSinkRejectsRecipient(t *testing.T) {
	s := startSink(t, smtpsink.Config{RejectRecipients: []string{"gone@example.com"}})

	err := smtp.SendMail(s.Addr(), nil, "a@example.com", []string{"gone@example.com"}, []byte("x\r\n"))
	require.Error(t, err)
	assert.Empty(t, s.Messages())
}
