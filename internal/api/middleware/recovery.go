package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
	"github.com/getsentry/sentry-go"
)

// PanicRecovery captures panics, logs them with a stack trace and answers
// with a generic 500.
func PanicRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("panic_recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"ip", r.RemoteAddr,
						"stack", string(debug.Stack()),
					)

					if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
						hub.Recover(err)
					}

					helpers.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
