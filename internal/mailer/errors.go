package mailer

import (
	"errors"
	"fmt"
)

var ErrInvalidAddress = errors.New("invalid email address")

// Stage names the step of an SMTP exchange that failed.
type Stage string

const (
	StageGuard   Stage = "guard"
	StageConnect Stage = "connect"
	StageTLS     Stage = "tls"
	StageAuth    Stage = "auth"
	StageSend    Stage = "send"
)

// TransportError wraps any failure while talking to the SMTP server.
type TransportError struct {
	Stage Stage
	Host  string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp %s failed for %s: %v", e.Stage, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AttachmentError is returned by Compose in strict mode when an attachment
// payload cannot be decoded.
type AttachmentError struct {
	Index    int
	Filename string
	Reason   string
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %d (%q): %s", e.Index, e.Filename, e.Reason)
}
