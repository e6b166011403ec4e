package audit

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit log.
type EventType string

const (
	EventSignup            EventType = "SIGNUP"
	EventLoginSuccess      EventType = "LOGIN_SUCCESS"
	EventLoginFailed       EventType = "LOGIN_FAILED"
	EventCredentialSaved   EventType = "CREDENTIAL_SAVED"
	EventCredentialDeleted EventType = "CREDENTIAL_DELETED"
	EventCredentialTested  EventType = "CREDENTIAL_TESTED"
	EventDeliveryQueued    EventType = "DELIVERY_QUEUED"
)

// Logger defines the contract for append-only security events.
type Logger interface {
	Log(ctx context.Context, actorID uuid.UUID, action EventType, resource string, metadata map[string]string)
}

// JSONLogger writes structured events with a "log_type" marker so log
// aggregators can route them to a separate index.
type JSONLogger struct {
	logger *slog.Logger
}

// NewJSONLogger uses its own JSON handler so the audit format does not
// depend on the application log format.
func NewJSONLogger(w io.Writer) *JSONLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &JSONLogger{logger: slog.New(handler)}
}

func (l *JSONLogger) Log(ctx context.Context, actorID uuid.UUID, action EventType, resource string, metadata map[string]string) {
	fields := []any{
		slog.String("log_type", "AUDIT_TRAIL"),
		slog.String("actor_id", actorID.String()),
		slog.String("action", string(action)),
		slog.String("resource", resource),
		slog.Time("timestamp_utc", time.Now().UTC()),
	}

	for k, v := range metadata {
		fields = append(fields, slog.String("meta_"+k, v))
	}

	l.logger.InfoContext(ctx, "audit_event", fields...)
}

// Nop discards events. For tests and tools.
type Nop struct{}

func (Nop) Log(context.Context, uuid.UUID, EventType, string, map[string]string) {}
