// File: api/schemas/watcher.go
package schemas

import (
	"errors"
	"time"
)

// ErrNotFound means the watched element is absent this cycle. The
// caller skips the element and retries next cycle.
var ErrNotFound = errors.New("element not found")

// ErrSessionLost means the browser connection itself is broken. The
// caller must re-establish the session before any element can be
// checked again.
var ErrSessionLost = errors.New("browser session lost")

// ElementState is the observable state of a button at one instant.
// Immutable once created; a new one replaces the old on each poll.
type ElementState struct {
	Text       string    `json:"text"`
	Enabled    bool      `json:"enabled"`
	ObservedAt time.Time `json:"observed_at"`
}

// Equal reports whether two states are indistinguishable to the
// watcher. Text is compared exactly, with no normalization; the
// observation timestamp does not participate.
func (s ElementState) Equal(other ElementState) bool {
	return s.Text == other.Text && s.Enabled == other.Enabled
}

// WatchedElement is a single button the user selected for monitoring.
// The ID is assigned at selection time and stays stable for the life of
// the session even when the page re-renders the underlying element.
type WatchedElement struct {
	ID       string `json:"id"`
	Selector string `json:"selector"`
	Label    string `json:"label"`
}

// ChangeEvent records one notify-worthy difference.
type ChangeEvent struct {
	ElementID  string        `json:"element_id"`
	Label      string        `json:"label"`
	Previous   *ElementState `json:"previous"`
	Current    ElementState  `json:"current"`
	DetectedAt time.Time     `json:"detected_at"`
}

// SessionStatus is the lifecycle state of a monitoring session.
type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusRunning SessionStatus = "running"
	StatusPaused  SessionStatus = "paused"
	StatusStopped SessionStatus = "stopped"
	StatusErrored SessionStatus = "errored"
)

// LogLevel classifies log events emitted by the session.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warning"
	LevelError LogLevel = "error"
)

// LogEvent is a free-text status line for whatever hosts the core.
type LogEvent struct {
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ButtonInfo describes one candidate button found on the page, used by
// the selection surface.
type ButtonInfo struct {
	Index    int    `json:"index"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Enabled  bool   `json:"enabled"`
}
