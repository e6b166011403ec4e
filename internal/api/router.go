// Package api is the HTTP boundary: routing, request decoding and the
// mapping of service errors to status codes.
package api

import (
	"log/slog"
	"net/http"

	customMiddleware "github.com/Jeffreasy/LaventeCareMailer/internal/api/middleware"
	"github.com/Jeffreasy/LaventeCareMailer/internal/auth"
	"github.com/Jeffreasy/LaventeCareMailer/internal/mailing"
	"github.com/Jeffreasy/LaventeCareMailer/internal/metrics"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxSendBytes bounds a send request body. Base64 inflates the
// 25 MiB attachment ceiling by a third, plus room for the JSON envelope.
const DefaultMaxSendBytes = 40 << 20

const defaultMaxBodyBytes = 1 << 20

// Deps are the collaborators the router needs. Metrics and MetricsHandler
// are optional.
type Deps struct {
	Auth        *auth.AuthService
	Tokens      auth.TokenProvider
	Credentials *mailing.CredentialService
	Sender      *mailing.SendService

	Checks         map[string]Pinger
	Metrics        *metrics.HTTP
	MetricsHandler http.Handler

	CORSOrigins  []string
	MaxSendBytes int64
	Logger       *slog.Logger
}

type Server struct {
	Router *chi.Mux

	auth        *auth.AuthService
	credentials *mailing.CredentialService
	sender      *mailing.SendService
	checks      map[string]Pinger
	logger      *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxSendBytes <= 0 {
		d.MaxSendBytes = DefaultMaxSendBytes
	}

	s := &Server{
		auth:        d.Auth,
		credentials: d.Credentials,
		sender:      d.Sender,
		checks:      d.Checks,
		logger:      d.Logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Sentry sits before recovery so it sees panics first.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(customMiddleware.RequestLogger(d.Logger))
	r.Use(customMiddleware.PanicRecovery(d.Logger))
	r.Use(customMiddleware.CORS(d.CORSOrigins))

	requireAuth := customMiddleware.RequireAuth(d.Tokens, d.Logger)
	smallBody := middleware.RequestSize(defaultMaxBodyBytes)

	r.Get("/health", s.HealthHandler())
	r.Get("/.well-known/jwks.json", s.JWKS)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(smallBody).Post("/auth/signup", s.Signup)
		r.With(smallBody).Post("/auth/login", s.Login)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/me", s.Me)

			r.With(smallBody).Post("/email-config/setup", s.SetupEmailConfig)
			r.Get("/email-config", s.GetEmailConfig)
			r.With(smallBody).Post("/email-config/test", s.TestEmailConfig)
			r.Delete("/email-config", s.DeleteEmailConfig)

			r.With(middleware.RequestSize(d.MaxSendBytes)).Post("/emails/send", s.SendEmail)
			r.Get("/emails/history", s.EmailHistory)
			r.Get("/emails/{id}", s.GetEmail)
		})
	})

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
