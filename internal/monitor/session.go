// File: internal/monitor/session.go
// Description: The polling session state machine. Owns the watch list
// and the snapshot store for the duration of a monitoring run, drives
// the locate -> detect -> notify cycle, and recovers from lost browser
// sessions with bounded backoff.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/api/schemas"
	"github.com/buttonwatcher/wbw/internal/config"
)

// ErrConfig is returned by Start when the session configuration is
// rejected. The session stays idle.
var ErrConfig = errors.New("invalid monitor configuration")

// recoveryState is the explicit bounded retry state for session
// recovery, kept on the Session so it is independently inspectable.
type recoveryState struct {
	Attempt   int
	NextRetry time.Time
}

// Session is a single monitoring run over one page. At most one poll
// cycle is in flight at any time; control calls (Pause, Resume, Stop,
// Add, Remove) are serialized with the cycle through the session mutex,
// which is never held across browser or network I/O.
type Session struct {
	cfg      config.MonitorConfig
	page     schemas.PageSession
	notifier schemas.Notifier
	sink     schemas.EventSink
	logger   *zap.Logger

	mu       sync.Mutex
	status   schemas.SessionStatus
	elements []schemas.WatchedElement
	resumeCh chan struct{}
	recovery recoveryState

	store  *SnapshotStore
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession builds an idle session from configuration. The notifier
// may be nil when notifications are disabled; the sink may be nil when
// no host wants the event stream.
func NewSession(
	cfg config.MonitorConfig,
	page schemas.PageSession,
	notifier schemas.Notifier,
	sink schemas.EventSink,
	logger *zap.Logger,
) *Session {
	if sink == nil {
		sink = CallbackSink{}
	}

	elements := make([]schemas.WatchedElement, 0, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		elements = append(elements, newWatchedElement(b.Selector, b.Label))
	}

	return &Session{
		cfg:      cfg,
		page:     page,
		notifier: notifier,
		sink:     sink,
		logger:   logger.Named("monitor"),
		status:   schemas.StatusIdle,
		elements: elements,
		store:    NewSnapshotStore(),
		done:     make(chan struct{}),
	}
}

func newWatchedElement(selector, label string) schemas.WatchedElement {
	if label == "" {
		label = selector
	}
	return schemas.WatchedElement{
		ID:       uuid.New().String(),
		Selector: selector,
		Label:    label,
	}
}

// Status returns the session's lifecycle state.
func (s *Session) Status() schemas.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Elements returns a copy of the current watch list.
func (s *Session) Elements() []schemas.WatchedElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.WatchedElement, len(s.elements))
	copy(out, s.elements)
	return out
}

// Start validates the configuration, establishes a baseline for every
// watched element, and launches the polling loop. On a configuration
// error the session stays idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != schemas.StatusIdle {
		s.mu.Unlock()
		return fmt.Errorf("session already started (status %s)", s.status)
	}
	if err := s.validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	elements := make([]schemas.WatchedElement, len(s.elements))
	copy(elements, s.elements)
	s.mu.Unlock()

	// Baseline pass: record the state observed at selection time so
	// the first comparison cycle never reports a change. A NotFound
	// here leaves the baseline absent; the element's first successful
	// observation later becomes its baseline.
	for _, el := range elements {
		state, err := s.page.Locate(ctx, el.Selector)
		switch {
		case err == nil:
			s.store.Set(el.ID, state)
		case errors.Is(err, schemas.ErrNotFound):
			s.emitLog(schemas.LevelWarn, fmt.Sprintf("Baseline for %q: element not found, will retry while polling", el.Label))
		case errors.Is(err, schemas.ErrSessionLost):
			if rerr := s.recoverSession(ctx); rerr != nil {
				if ctx.Err() == nil {
					s.fail(rerr)
				}
				// The run goroutine never starts on this path; close
				// done here so Wait cannot block forever.
				close(s.done)
				return rerr
			}
		default:
			s.emitLog(schemas.LevelWarn, fmt.Sprintf("Baseline for %q failed: %v", el.Label, err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.status = schemas.StatusRunning
	s.cancel = cancel
	s.mu.Unlock()

	s.emitLog(schemas.LevelInfo, fmt.Sprintf("Monitoring started: %d buttons, interval %s", len(elements), s.cfg.Interval))

	go s.run(runCtx)
	return nil
}

func (s *Session) validate() error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("%w: interval must be greater than zero", ErrConfig)
	}
	if len(s.elements) == 0 {
		return fmt.Errorf("%w: watch list is empty", ErrConfig)
	}
	for _, el := range s.elements {
		if strings.TrimSpace(el.Selector) == "" {
			return fmt.Errorf("%w: empty selector for %q", ErrConfig, el.Label)
		}
	}
	return nil
}

// run is the polling loop. Single goroutine; sole mutator of the
// snapshot store while running. Cycle N+1's sleep starts only after
// cycle N fully completes, so cycles never overlap.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// A pause suspends scheduling entirely; the loop parks here
		// until Resume or Stop. Resuming restarts the interval from
		// the current time, with no catch-up of missed cycles.
		if ch := s.pauseGate(); ch != nil {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				timer.Reset(s.cfg.Interval)
				continue
			}
		}

		if err := s.cycle(ctx); err != nil {
			// A cancelled context is a shutdown request, not a failure:
			// Stop (or the host's signal context) cancelled us while a
			// locate or a reconnect backoff was in flight.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			s.fail(err)
			return
		}

		timer.Reset(s.cfg.Interval)
	}
}

// pauseGate returns the channel to wait on when paused, nil otherwise.
func (s *Session) pauseGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == schemas.StatusPaused {
		return s.resumeCh
	}
	return nil
}

// cycle performs one pass over the watch list. A NotFound on one
// element never blocks the rest; a SessionLost aborts the remaining
// elements and triggers recovery. The returned error is fatal (recovery
// exhausted).
func (s *Session) cycle(ctx context.Context) error {
	if s.cfg.RefreshEachCycle {
		if err := s.page.Refresh(ctx); err != nil {
			if errors.Is(err, schemas.ErrSessionLost) {
				return s.recoverSession(ctx)
			}
			s.emitLog(schemas.LevelWarn, fmt.Sprintf("Page refresh failed: %v", err))
		}
	}

	for _, el := range s.Elements() {
		// Stop is observed between elements, never mid-call, so the
		// driver is not left in an inconsistent state.
		if s.stopRequested(ctx) {
			return nil
		}

		state, err := s.page.Locate(ctx, el.Selector)
		switch {
		case errors.Is(err, schemas.ErrNotFound):
			// Absent this cycle; keep the stored state and move on.
			s.emitLog(schemas.LevelWarn, fmt.Sprintf("Button %q not found this cycle, skipping", el.Label))
			continue
		case errors.Is(err, schemas.ErrSessionLost):
			return s.recoverSession(ctx)
		case err != nil:
			s.emitLog(schemas.LevelWarn, fmt.Sprintf("Checking %q failed: %v", el.Label, err))
			continue
		}

		prev := s.store.Get(el.ID)
		event := Detect(el, prev, state)
		s.store.Set(el.ID, state)

		if event != nil {
			s.sink.OnChange(*event)
			s.deliver(ctx, *event)
		}
	}
	return nil
}

func (s *Session) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == schemas.StatusStopped
}

// deliver sends the change notification. Failures are logged and
// dropped; a failed notification never halts monitoring.
func (s *Session) deliver(ctx context.Context, event schemas.ChangeEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, formatChangeMessage(event)); err != nil {
		s.emitLog(schemas.LevelWarn, fmt.Sprintf("Notification for %q dropped: %v", event.Label, err))
	}
}

// formatChangeMessage renders a change the way the notification channel
// shows it to the user.
func formatChangeMessage(event schemas.ChangeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Button %q changed:\n", event.Label)
	if event.Previous != nil {
		fmt.Fprintf(&b, "From: %q (%s)\n", event.Previous.Text, enabledWord(event.Previous.Enabled))
	}
	fmt.Fprintf(&b, "To: %q (%s)", event.Current.Text, enabledWord(event.Current.Enabled))
	return b.String()
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// recoverSession re-establishes the browser session with bounded
// retries and exponential backoff. The attempt count and next retry
// time live in s.recovery so the retry budget is explicit state, not
// nested error handling.
func (s *Session) recoverSession(ctx context.Context) error {
	attempts := s.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 5
	}
	backoff := s.cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		s.mu.Lock()
		s.recovery = recoveryState{Attempt: attempt, NextRetry: time.Now().Add(backoff)}
		s.mu.Unlock()

		s.emitLog(schemas.LevelWarn, fmt.Sprintf("Browser session lost, reconnect attempt %d/%d in %s", attempt, attempts, backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err := s.page.Reconnect(ctx); err != nil {
			s.emitLog(schemas.LevelWarn, fmt.Sprintf("Reconnect attempt %d failed: %v", attempt, err))
			backoff *= 2
			continue
		}

		s.mu.Lock()
		s.recovery = recoveryState{}
		s.mu.Unlock()
		s.emitLog(schemas.LevelInfo, "Browser session recovered, monitoring continues")
		return nil
	}

	return fmt.Errorf("session recovery failed after %d attempts: %w", attempts, schemas.ErrSessionLost)
}

// fail transitions to Errored and surfaces exactly one fatal event,
// unless the session was stopped by the user first.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.status == schemas.StatusStopped {
		s.mu.Unlock()
		return
	}
	s.status = schemas.StatusErrored
	s.mu.Unlock()

	msg := fmt.Sprintf("Monitoring stopped: %v", err)
	s.emitLog(schemas.LevelError, msg)

	if s.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if nerr := s.notifier.Notify(notifyCtx, msg); nerr != nil {
			s.logger.Warn("Failed to deliver fatal notification", zap.Error(nerr))
		}
	}
}

// Pause suspends scheduling of future cycles. The in-flight cycle, if
// any, completes first.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != schemas.StatusRunning {
		return fmt.Errorf("cannot pause from status %s", s.status)
	}
	s.status = schemas.StatusPaused
	s.resumeCh = make(chan struct{})
	return nil
}

// Resume restarts scheduling from the current time. Missed cycles are
// not caught up.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != schemas.StatusPaused {
		return fmt.Errorf("cannot resume from status %s", s.status)
	}
	s.status = schemas.StatusRunning
	close(s.resumeCh)
	s.resumeCh = nil
	return nil
}

// Stop ends the session. The current element check finishes but no
// further checks are issued; the browser session is then released.
// Stop is terminal and idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.status {
	case schemas.StatusStopped, schemas.StatusErrored, schemas.StatusIdle:
		if s.status == schemas.StatusIdle {
			s.status = schemas.StatusStopped
		}
		s.mu.Unlock()
		return
	case schemas.StatusPaused:
		close(s.resumeCh)
		s.resumeCh = nil
	}
	s.status = schemas.StatusStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done

	s.page.Close()
	s.emitLog(schemas.LevelInfo, "Monitoring stopped")
}

// Wait blocks until the polling loop has exited.
func (s *Session) Wait() {
	<-s.done
}

// Add appends an element to the watch list, effective starting with the
// next cycle. Its first observation becomes its baseline, so it is
// never reported as changed on inclusion.
func (s *Session) Add(selector, label string) schemas.WatchedElement {
	el := newWatchedElement(selector, label)
	s.mu.Lock()
	s.elements = append(s.elements, el)
	s.mu.Unlock()
	s.emitLog(schemas.LevelInfo, fmt.Sprintf("Watching new button %q", el.Label))
	return el
}

// Remove drops an element from the watch list, effective starting with
// the next cycle. Removing an element that was never baselined, or an
// unknown id, is a no-op.
func (s *Session) Remove(id string) {
	s.mu.Lock()
	kept := s.elements[:0]
	var removed *schemas.WatchedElement
	for _, el := range s.elements {
		if el.ID == id {
			e := el
			removed = &e
			continue
		}
		kept = append(kept, el)
	}
	s.elements = kept
	s.mu.Unlock()

	if removed != nil {
		s.store.Delete(id)
		s.emitLog(schemas.LevelInfo, fmt.Sprintf("Stopped watching button %q", removed.Label))
	}
}

func (s *Session) emitLog(level schemas.LogLevel, message string) {
	event := schemas.LogEvent{Level: level, Message: message, At: time.Now()}
	switch level {
	case schemas.LevelWarn:
		s.logger.Warn(message)
	case schemas.LevelError:
		s.logger.Error(message)
	default:
		s.logger.Info(message)
	}
	s.sink.OnLog(event)
}
