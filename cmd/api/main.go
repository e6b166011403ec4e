package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api"
	"github.com/Jeffreasy/LaventeCareMailer/internal/audit"
	"github.com/Jeffreasy/LaventeCareMailer/internal/auth"
	"github.com/Jeffreasy/LaventeCareMailer/internal/cache"
	"github.com/Jeffreasy/LaventeCareMailer/internal/config"
	"github.com/Jeffreasy/LaventeCareMailer/internal/crypto"
	"github.com/Jeffreasy/LaventeCareMailer/internal/delivery"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailer"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailing"
	"github.com/Jeffreasy/LaventeCareMailer/internal/metrics"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/Jeffreasy/LaventeCareMailer/pkg/logger"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Env, cfg.LogLevel)
	log.Info("application_startup", "env", cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.Env,
		})
		if err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	if err := run(cfg, log); err != nil {
		log.Error("server_failed", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("database_connected", "driver", cfg.Database.Driver)

	cacheClient, err := cache.New(cache.Config{
		Driver:     cfg.Cache.Driver,
		Addr:       cfg.Cache.RedisAddr,
		DB:         cfg.Cache.RedisDB,
		Prefix:     "mailer",
		DefaultTTL: cfg.Cache.CredentialTTL,
	})
	if err != nil {
		return err
	}
	defer cacheClient.Close()
	credentials := storage.NewCachedCredentials(store, cacheClient, cfg.Cache.CredentialTTL, log)

	secret := cfg.Vault.SecretKey
	if secret == "" {
		// Validate already refused this in production.
		if secret, err = crypto.GenerateSecret(); err != nil {
			return err
		}
		log.Warn("secret_key_missing", "details", "ephemeral_key_stored_credentials_lost_on_restart")
	}
	vault, err := crypto.NewVault(secret,
		crypto.WithSalt(cfg.Vault.Salt),
		crypto.WithIterations(cfg.Vault.Iterations),
	)
	if err != nil {
		return err
	}

	privateKey := cfg.Auth.JWTPrivateKey
	if privateKey == "" {
		if privateKey, err = ephemeralRSAKey(); err != nil {
			return err
		}
		log.Warn("jwt_private_key_missing", "details", "dev_mode_ephemeral_key")
	}
	tokens, err := auth.NewJWTProvider(privateKey, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}
	deliveryMetrics, err := delivery.NewMetrics(reg)
	if err != nil {
		return err
	}
	httpMetrics, err := metrics.NewHTTP(reg)
	if err != nil {
		return err
	}

	var guard mailer.HostGuard
	if cfg.SMTP.EgressGuard {
		guard = mailer.EgressGuard
	}
	transport := mailer.NewSMTPTransport(mailer.SMTPOptions{
		Timeout: cfg.SMTP.DialTimeout,
		Guard:   guard,
		Logger:  log,
	})

	strict := cfg.Delivery.AttachmentPolicy == config.AttachmentPolicyStrict
	orchestrator := delivery.NewOrchestrator(credentials, store, vault, transport, delivery.Options{
		ForwardCopies:     cfg.Delivery.ForwardCopies,
		StrictAttachments: strict,
		Metrics:           deliveryMetrics,
		Logger:            log,
	})
	dispatcher := delivery.NewDispatcher(orchestrator, delivery.DispatcherConfig{
		Workers:   cfg.Delivery.Workers,
		QueueSize: cfg.Delivery.QueueSize,
		Metrics:   deliveryMetrics,
		Logger:    log,
	})
	dispatcher.Start(ctx)

	auditLogger := audit.NewJSONLogger(os.Stdout)

	deps := api.Deps{
		Auth:        auth.NewAuthService(store, auth.NewArgon2Hasher(), tokens, auditLogger, log),
		Tokens:      tokens,
		Credentials: mailing.NewCredentialService(credentials, vault, transport, guard, auditLogger, log),
		Sender: mailing.NewSendService(credentials, store, dispatcher, mailing.SendOptions{
			StrictAttachments: strict,
			Audit:             auditLogger,
			Logger:            log,
		}),
		Checks:      map[string]api.Pinger{"database": store, "cache": cacheClient},
		Metrics:     httpMetrics,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	}
	if cfg.MetricsEnabled {
		deps.MetricsHandler = metrics.Handler(reg)
	}
	server := api.NewServer(deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Covers a synchronous test send bounded by the SMTP dial timeout.
		WriteTimeout: cfg.SMTP.DialTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		_ = dispatcher.Shutdown(ctx)
		return err

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop intake first so no new jobs arrive while the queue drains.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			log.Error("dispatcher_drain_incomplete", "error", err)
		}

		log.Info("server_shutdown_complete")
		return nil
	}
}

func ephemeralRSAKey() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})), nil
}
