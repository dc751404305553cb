// File: internal/monitor/session_test.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/api/schemas"
	"github.com/buttonwatcher/wbw/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

// fakePage simulates the browser surface. Each selector maps to a
// current state; tests mutate the page between cycles. Errors can be
// injected ahead of normal behavior to script failures.
type fakePage struct {
	mu            sync.Mutex
	states        map[string]schemas.ElementState
	missing       map[string]bool
	locateErrs    []error // consumed first, one per Locate call
	reconnectErrs []error // consumed one per Reconnect call; nil entry = success

	locates    []string
	reconnects int
	closed     bool
}

func newFakePage() *fakePage {
	return &fakePage{
		states:  make(map[string]schemas.ElementState),
		missing: make(map[string]bool),
	}
}

func (p *fakePage) setState(selector, text string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[selector] = schemas.ElementState{Text: text, Enabled: enabled, ObservedAt: time.Now()}
	p.missing[selector] = false
}

func (p *fakePage) setMissing(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missing[selector] = true
}

func (p *fakePage) injectLocateErr(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locateErrs = append(p.locateErrs, errs...)
}

func (p *fakePage) scriptReconnects(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnectErrs = append(p.reconnectErrs, errs...)
}

func (p *fakePage) locateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locates)
}

func (p *fakePage) reconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}

func (p *fakePage) Locate(_ context.Context, selector string) (schemas.ElementState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locates = append(p.locates, selector)

	if len(p.locateErrs) > 0 {
		err := p.locateErrs[0]
		p.locateErrs = p.locateErrs[1:]
		return schemas.ElementState{}, err
	}
	if p.missing[selector] {
		return schemas.ElementState{}, fmt.Errorf("%w: selector %q", schemas.ErrNotFound, selector)
	}
	state, ok := p.states[selector]
	if !ok {
		return schemas.ElementState{}, fmt.Errorf("%w: selector %q", schemas.ErrNotFound, selector)
	}
	return state, nil
}

func (p *fakePage) Refresh(context.Context) error { return nil }

func (p *fakePage) Reconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnects++
	if len(p.reconnectErrs) > 0 {
		err := p.reconnectErrs[0]
		p.reconnectErrs = p.reconnectErrs[1:]
		return err
	}
	return nil
}

func (p *fakePage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// fakeNotifier records delivered messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

// recordingSink captures the session's event stream.
type recordingSink struct {
	mu      sync.Mutex
	logs    []schemas.LogEvent
	changes []schemas.ChangeEvent
}

func (s *recordingSink) OnLog(event schemas.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, event)
}

func (s *recordingSink) OnChange(event schemas.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, event)
}

func (s *recordingSink) changeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

func (s *recordingSink) changeEvents() []schemas.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.ChangeEvent, len(s.changes))
	copy(out, s.changes)
	return out
}

func (s *recordingSink) errorLogCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if l.Level == schemas.LevelError {
			n++
		}
	}
	return n
}

// -- Helpers --

func testMonitorConfig(buttons ...config.WatchedButton) config.MonitorConfig {
	return config.MonitorConfig{
		URL:               "https://example.com",
		Interval:          5 * time.Millisecond,
		Buttons:           buttons,
		RefreshEachCycle:  false,
		ReconnectAttempts: 3,
		ReconnectBackoff:  time.Millisecond,
	}
}

func newTestSession(t *testing.T, cfg config.MonitorConfig, page *fakePage, notifier schemas.Notifier, sink schemas.EventSink) *Session {
	t.Helper()
	return NewSession(cfg, page, notifier, sink, zap.NewNop())
}

// waitForCycles blocks until at least n more locate calls have happened.
func waitForLocates(t *testing.T, page *fakePage, n int) {
	t.Helper()
	base := page.locateCount()
	require.Eventually(t, func() bool {
		return page.locateCount() >= base+n
	}, 2*time.Second, time.Millisecond)
}

// -- Configuration rejection --

func TestStartRejectsBadConfig(t *testing.T) {
	page := newFakePage()

	t.Run("zero interval", func(t *testing.T) {
		cfg := testMonitorConfig(config.WatchedButton{Selector: "#a"})
		cfg.Interval = 0
		s := newTestSession(t, cfg, page, nil, nil)
		err := s.Start(context.Background())
		require.ErrorIs(t, err, ErrConfig)
		assert.Equal(t, schemas.StatusIdle, s.Status())
	})

	t.Run("empty watch list", func(t *testing.T) {
		s := newTestSession(t, testMonitorConfig(), page, nil, nil)
		err := s.Start(context.Background())
		require.ErrorIs(t, err, ErrConfig)
		assert.Equal(t, schemas.StatusIdle, s.Status())
	})

	t.Run("blank selector", func(t *testing.T) {
		s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "   ", Label: "x"}), page, nil, nil)
		err := s.Start(context.Background())
		require.ErrorIs(t, err, ErrConfig)
		assert.Equal(t, schemas.StatusIdle, s.Status())
	})

	t.Run("double start", func(t *testing.T) {
		p := newFakePage()
		p.setState("#a", "Buy", true)
		s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a"}), p, nil, nil)
		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()
		err := s.Start(context.Background())
		require.Error(t, err)
	})
}

// -- Baseline and idempotence --

func TestUnchangedPageProducesNoEvents(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Sold Out", false)
	sink := &recordingSink{}
	notifier := &fakeNotifier{}

	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "Tickets"}), page, notifier, sink)
	require.NoError(t, s.Start(context.Background()))

	// Let several full cycles run against an unchanged page.
	waitForLocates(t, page, 5)
	s.Stop()

	assert.Equal(t, 0, sink.changeCount(), "baseline plus unchanged cycles must produce zero events")
	assert.Empty(t, notifier.sent())
	assert.Equal(t, schemas.StatusStopped, s.Status())
}

func TestSoldOutToBuyNowScenario(t *testing.T) {
	page := newFakePage()
	page.setState("#btn1", "Sold Out", false)
	sink := &recordingSink{}
	notifier := &fakeNotifier{}

	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#btn1", Label: "btn1"}), page, notifier, sink)
	require.NoError(t, s.Start(context.Background()))

	// Flip the page state after baselining.
	page.setState("#btn1", "Buy Now", true)

	require.Eventually(t, func() bool {
		return sink.changeCount() >= 1
	}, 2*time.Second, time.Millisecond)

	// Let extra cycles run to prove the event is not repeated.
	waitForLocates(t, page, 3)
	s.Stop()

	events := sink.changeEvents()
	require.Len(t, events, 1, "exactly one change event for one transition")
	ev := events[0]
	require.NotNil(t, ev.Previous)
	assert.Equal(t, "Sold Out", ev.Previous.Text)
	assert.False(t, ev.Previous.Enabled)
	assert.Equal(t, "Buy Now", ev.Current.Text)
	assert.True(t, ev.Current.Enabled)

	require.Len(t, notifier.sent(), 1, "exactly one notification for one change")
	msg := notifier.sent()[0]
	assert.Contains(t, msg, "btn1")
	assert.Contains(t, msg, "Sold Out")
	assert.Contains(t, msg, "Buy Now")
}

// -- NotFound isolation --

func TestNotFoundDoesNotBlockOtherElements(t *testing.T) {
	page := newFakePage()
	page.setMissing("#gone")
	page.setState("#there", "Register", true)
	sink := &recordingSink{}

	s := newTestSession(t, testMonitorConfig(
		config.WatchedButton{Selector: "#gone", Label: "Gone"},
		config.WatchedButton{Selector: "#there", Label: "There"},
	), page, nil, sink)
	require.NoError(t, s.Start(context.Background()))

	page.setState("#there", "Closed", false)

	require.Eventually(t, func() bool {
		return sink.changeCount() >= 1
	}, 2*time.Second, time.Millisecond)
	s.Stop()

	events := sink.changeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "There", events[0].Label, "the present element must be checked despite its missing sibling")
}

func TestElementReappearsAgainstOldBaseline(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Sold Out", false)
	sink := &recordingSink{}

	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "A"}), page, nil, sink)
	require.NoError(t, s.Start(context.Background()))

	// Element vanishes for a while; stored state must be kept.
	page.setMissing("#a")
	waitForLocates(t, page, 3)
	assert.Equal(t, 0, sink.changeCount())

	// It comes back changed: compared against the pre-disappearance baseline.
	page.setState("#a", "Buy Now", true)
	require.Eventually(t, func() bool {
		return sink.changeCount() == 1
	}, 2*time.Second, time.Millisecond)
	s.Stop()

	ev := sink.changeEvents()[0]
	require.NotNil(t, ev.Previous)
	assert.Equal(t, "Sold Out", ev.Previous.Text)
}

// -- Lifecycle: pause, resume, stop --

func TestPauseSuspendsPolling(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Buy", true)
	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a"}), page, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	waitForLocates(t, page, 2)
	require.NoError(t, s.Pause())
	assert.Equal(t, schemas.StatusPaused, s.Status())

	// Allow any in-flight cycle to drain, then verify no further checks.
	time.Sleep(20 * time.Millisecond)
	before := page.locateCount()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, page.locateCount(), before+1, "paused session must not schedule new cycles")

	require.NoError(t, s.Resume())
	assert.Equal(t, schemas.StatusRunning, s.Status())
	waitForLocates(t, page, 2)

	s.Stop()
	assert.Equal(t, schemas.StatusStopped, s.Status())
}

func TestPauseResumeTransitionsGuarded(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Buy", true)
	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a"}), page, nil, nil)

	require.Error(t, s.Pause(), "cannot pause an idle session")
	require.Error(t, s.Resume(), "cannot resume an idle session")

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Resume(), "cannot resume a running session")
	require.NoError(t, s.Pause())
	require.Error(t, s.Pause(), "cannot pause twice")
	s.Stop()
}

func TestStopIssuesNoFurtherChecks(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Buy", true)
	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a"}), page, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	waitForLocates(t, page, 2)
	s.Stop() // blocks until the loop has exited

	after := page.locateCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, page.locateCount(), "no element checks after Stop returns")
	assert.True(t, page.closed, "stop must release the browser session")
	assert.Equal(t, schemas.StatusStopped, s.Status())

	// Stop is idempotent.
	s.Stop()
	assert.Equal(t, schemas.StatusStopped, s.Status())
}

// -- Session recovery --

func TestSessionLostRecoversAndKeepsRunning(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Sold Out", false)
	sink := &recordingSink{}

	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "A"}), page, nil, sink)
	require.NoError(t, s.Start(context.Background()))

	// First reconnect attempt fails, second succeeds.
	page.scriptReconnects(fmt.Errorf("still down"), nil)
	page.injectLocateErr(fmt.Errorf("%w: websocket closed", schemas.ErrSessionLost))

	require.Eventually(t, func() bool {
		return page.reconnectCount() >= 2
	}, 2*time.Second, time.Millisecond)

	// Still running after recovery; the unchanged element is not
	// re-reported.
	waitForLocates(t, page, 3)
	assert.Equal(t, schemas.StatusRunning, s.Status())
	assert.Equal(t, 0, sink.changeCount(), "recovery must not double-report unchanged elements")

	s.Stop()
}

func TestSessionLostAbortsRemainingCycle(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "A", true)
	page.setState("#b", "B", true)
	s := newTestSession(t, testMonitorConfig(
		config.WatchedButton{Selector: "#a", Label: "A"},
		config.WatchedButton{Selector: "#b", Label: "B"},
	), page, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	// Wait for baselines (2 locates) plus at least one full cycle.
	waitForLocates(t, page, 2)

	// Inject a session loss on the next locate; the cycle must abort
	// before reaching the second element.
	countAtInjection := page.locateCount()
	page.injectLocateErr(fmt.Errorf("%w: websocket closed", schemas.ErrSessionLost))

	require.Eventually(t, func() bool {
		return page.reconnectCount() >= 1
	}, 2*time.Second, time.Millisecond)

	locatesDuringLoss := page.locateCount() - countAtInjection
	assert.LessOrEqual(t, locatesDuringLoss, 2, "the failing cycle must not continue past the lost element")

	s.Stop()
}

func TestSessionLostExhaustionTransitionsToErrored(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Buy", true)
	sink := &recordingSink{}
	notifier := &fakeNotifier{}

	cfg := testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "A"})
	cfg.ReconnectAttempts = 2
	s := newTestSession(t, cfg, page, notifier, sink)
	require.NoError(t, s.Start(context.Background()))

	page.scriptReconnects(fmt.Errorf("down"), fmt.Errorf("still down"))
	page.injectLocateErr(fmt.Errorf("%w: websocket closed", schemas.ErrSessionLost))

	require.Eventually(t, func() bool {
		return s.Status() == schemas.StatusErrored
	}, 2*time.Second, time.Millisecond)
	s.Wait()

	assert.Equal(t, 2, page.reconnectCount(), "retry budget must be honored exactly")
	assert.Equal(t, 1, sink.errorLogCount(), "exactly one fatal event on exhaustion")

	// No further cycles after the fatal transition.
	after := page.locateCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, page.locateCount())

	// The fatal condition is surfaced through the notifier as well.
	require.Len(t, notifier.sent(), 1)
	assert.Contains(t, notifier.sent()[0], "Monitoring stopped")
}

func TestCancelledContextStopsWithoutFatal(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "Buy", true)
	sink := &recordingSink{}
	notifier := &fakeNotifier{}

	cfg := testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "A"})
	cfg.ReconnectBackoff = 250 * time.Millisecond
	s := newTestSession(t, cfg, page, notifier, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	// Lose the session so the loop enters its reconnect backoff, then
	// cancel while it sleeps there.
	page.scriptReconnects(
		fmt.Errorf("down"), fmt.Errorf("down"), fmt.Errorf("down"),
	)
	page.injectLocateErr(fmt.Errorf("%w: websocket closed", schemas.ErrSessionLost))
	waitForLocates(t, page, 1)
	cancel()
	s.Wait()

	// A user-initiated cancel must not be reported as a fatal failure.
	assert.NotEqual(t, schemas.StatusErrored, s.Status())
	assert.Equal(t, 0, sink.errorLogCount())
	assert.Empty(t, notifier.sent())

	s.Stop()
	assert.Equal(t, schemas.StatusStopped, s.Status())
}

func TestWaitReturnsAfterBaselineFailure(t *testing.T) {
	page := newFakePage()
	sink := &recordingSink{}

	cfg := testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "A"})
	cfg.ReconnectAttempts = 1
	s := newTestSession(t, cfg, page, nil, sink)

	// The baseline locate loses the session and the reconnect budget is
	// exhausted immediately, so Start fails before the loop ever runs.
	page.injectLocateErr(fmt.Errorf("%w: websocket closed", schemas.ErrSessionLost))
	page.scriptReconnects(fmt.Errorf("down"))

	err := s.Start(context.Background())
	require.ErrorIs(t, err, schemas.ErrSessionLost)
	assert.Equal(t, schemas.StatusErrored, s.Status())
	assert.Equal(t, 1, sink.errorLogCount())

	waitDone := make(chan struct{})
	go func() {
		s.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after a failed Start")
	}
}

// -- Watch list mutation --

func TestAddEstablishesBaselineBeforeReporting(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "A", true)
	page.setState("#new", "Coming Soon", false)
	sink := &recordingSink{}

	s := newTestSession(t, testMonitorConfig(config.WatchedButton{Selector: "#a", Label: "A"}), page, nil, sink)
	require.NoError(t, s.Start(context.Background()))

	el := s.Add("#new", "New button")
	require.NotEmpty(t, el.ID)

	// The added element's first observation is its baseline: no event.
	waitForLocates(t, page, 4)
	assert.Equal(t, 0, sink.changeCount())

	// A subsequent change is reported.
	page.setState("#new", "Available", true)
	require.Eventually(t, func() bool {
		return sink.changeCount() == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "New button", sink.changeEvents()[0].Label)

	s.Stop()
}

func TestRemoveTakesEffectNextCycle(t *testing.T) {
	page := newFakePage()
	page.setState("#a", "A", true)
	page.setState("#b", "B", true)
	sink := &recordingSink{}

	s := newTestSession(t, testMonitorConfig(
		config.WatchedButton{Selector: "#a", Label: "A"},
		config.WatchedButton{Selector: "#b", Label: "B"},
	), page, nil, sink)
	require.NoError(t, s.Start(context.Background()))

	var removeID string
	for _, el := range s.Elements() {
		if el.Selector == "#b" {
			removeID = el.ID
		}
	}
	require.NotEmpty(t, removeID)
	s.Remove(removeID)

	// Drain any in-flight cycle, then verify #b is never checked again
	// even when it changes.
	time.Sleep(20 * time.Millisecond)
	page.setState("#b", "Changed", false)
	waitForLocates(t, page, 3)
	s.Stop()

	assert.Equal(t, 0, sink.changeCount())
	require.Len(t, s.Elements(), 1)
	assert.Equal(t, "#a", s.Elements()[0].Selector)

	// Removing an unknown id is a no-op.
	s.Remove("no-such-id")
}
