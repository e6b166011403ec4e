package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Jeffreasy/LaventeCareMailer/internal/smtpsink"
	"github.com/Jeffreasy/LaventeCareMailer/pkg/logger"
	"github.com/spf13/cobra"
)

func main() {
	var (
		addr     string
		username string
		password string
		useTLS   bool
		dir      string
		reject   []string
		logLevel string
	)

	root := &cobra.Command{
		Use:   "smtpsink",
		Short: "Local SMTP server that captures messages instead of relaying them",
		Long: "Point a custom email configuration at this server to exercise the\n" +
			"delivery pipeline without a real provider. Messages are logged and,\n" +
			"with --dir, written as .eml files.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.Setup("development", logLevel)

			cfg := smtpsink.Config{
				Addr:             addr,
				Username:         username,
				Password:         password,
				RejectRecipients: reject,
			}

			if useTLS {
				tlsCfg, _, err := smtpsink.SelfSignedTLS("127.0.0.1", "localhost")
				if err != nil {
					return err
				}
				cfg.TLSConfig = tlsCfg
			}

			if dir != "" {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				cfg.OnMessage = func(m smtpsink.Message) {
					name := filepath.Join(dir, fmt.Sprintf("%d.eml", m.ReceivedAt.UnixNano()))
					if err := os.WriteFile(name, m.Data, 0o640); err != nil {
						log.Error("smtp_sink_write_failed", "file", name, "error", err)
						return
					}
					log.Info("smtp_sink_message_saved", "file", name, "from", m.From, "to", m.To)
				}
			}

			sink := smtpsink.New(cfg, log)
			if err := sink.Start(); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			log.Info("smtp_sink_stopping", "captured", len(sink.Messages()))
			return sink.Close()
		},
	}

	flags := root.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:2525", "listen address")
	flags.StringVar(&username, "username", "", "require AUTH PLAIN with this username")
	flags.StringVar(&password, "password", "", "password for --username")
	flags.BoolVar(&useTLS, "tls", false, "offer STARTTLS with a throwaway self-signed certificate")
	flags.StringVar(&dir, "dir", "", "write captured messages to this directory")
	flags.StringSliceVar(&reject, "reject", nil, "recipients to refuse with 550")
	flags.StringVar(&logLevel, "log-level", "info", "log level")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
