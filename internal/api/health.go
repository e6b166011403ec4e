package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
)

const healthTimeout = 2 * time.Second

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness plus the reachability of every registered
// dependency. Failure details go to the log, not to the client.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := make(map[string]string, len(s.checks))
		healthy := true
		for name, p := range s.checks {
			if err := p.Ping(ctx); err != nil {
				s.logger.Error("health_check_failed", "check", name, "error", err)
				checks[name] = "unavailable"
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		if !healthy {
			helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"checks": checks,
			})
			return
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"checks": checks,
		})
	}
}
