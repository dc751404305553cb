// File: api/schemas/interfaces.go
// Description: Interface contracts between the polling core and its
// collaborators. Defined here so components depend on schemas, not on
// each other's concrete types.

package schemas

import "context"

// Locator resolves a selector to the current observable state of the
// matching element. Errors are ErrNotFound (skip this cycle),
// ErrSessionLost (escalate to session recovery), or an unexpected
// driver error.
type Locator interface {
	Locate(ctx context.Context, selector string) (ElementState, error)
}

// PageSession is the browser surface the polling loop drives: the
// locator plus page lifecycle it needs for refresh and recovery.
type PageSession interface {
	Locator
	Refresh(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close()
}

// Notifier delivers a text message to the configured destination.
// Failures may be transient; delivery never blocks monitoring.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// EventSink receives the core's output stream: log lines and change
// events. Implementations must not block for long; the session calls
// them from the polling goroutine.
type EventSink interface {
	OnLog(event LogEvent)
	OnChange(event ChangeEvent)
}
