package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one audited chat exchange. The session metadata remains the
// source of truth for transcripts; this log serves cross-session history.
type Interaction struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	DurationMs int64     `json:"duration_ms"`
}
