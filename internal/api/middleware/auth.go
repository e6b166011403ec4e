package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
	"github.com/Jeffreasy/LaventeCareMailer/internal/auth"
)

// RequireAuth validates the bearer token and puts the user id in the context.
func RequireAuth(provider auth.TokenProvider, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "invalid authorization format")
				return
			}

			claims, err := provider.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.Warn("invalid_token", "error", err, "ip", r.RemoteAddr)
				unauthorized(w, "invalid authentication credentials")
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID)
			SetSentryUser(ctx, claims.UserID.String(), r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	helpers.RespondError(w, http.StatusUnauthorized, message)
}
