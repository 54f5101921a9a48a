package domain

import (
	"errors"
	"fmt"
	"time"
)

// Log severity levels accepted on ingestion.
const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
	LevelInfo  = "INFO"
	LevelDebug = "DEBUG"
)

// ErrInvalidEntry reports a log entry rejected during validation.
var ErrInvalidEntry = errors.New("invalid log entry")

// LogEntry is a single client-emitted log line. Immutable once created and
// serialized opaquely onto the broker wire.
type LogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
}

// Validate checks the wire constraints: non-empty message, timezone-aware
// timestamp, known severity level.
func (e LogEntry) Validate() error {
	if e.Message == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidEntry)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	switch e.Level {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return nil
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidEntry, e.Level)
	}
}
