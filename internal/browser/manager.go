// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/api/schemas"
	"github.com/buttonwatcher/wbw/internal/config"
)

// Manager handles the lifecycle of the headless browser process and the
// single page the watcher is bound to.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	mu sync.Mutex

	// allocatorCtx manages the browser process. The tab context is
	// derived from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	tabCtx          context.Context
	tabCancel       context.CancelFunc

	// currentURL is the page the manager last navigated to; Reconnect
	// returns here after relaunching.
	currentURL string
}

// NewManager launches the browser process and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}
	if err := m.launch(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launch prepares allocator options and starts the browser process.
// Callers must hold no lock; launch is used by NewManager and Reconnect.
func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Probe with a short deadline to confirm the browser is alive.
	// The cache is disabled so each poll observes the served page, not
	// a stale copy.
	probeCtx, cancelProbe := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancelProbe()
	err := chromedp.Run(probeCtx,
		chromedp.Navigate("about:blank"),
		network.Enable(),
		network.SetCacheDisabled(true),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.mu.Lock()
	m.allocatorCtx = allocCtx
	m.allocatorCancel = allocCancel
	m.tabCtx = tabCtx
	m.tabCancel = tabCancel
	m.mu.Unlock()

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the flags for a quiet, configurable
// browser instance.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// Overrides the default; a false flag is left off the command
		// line, so the page is not told it talks to an automated browser.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
	)

	// Custom arguments from the config file.
	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// TabContext returns the chromedp context for the watched page.
func (m *Manager) TabContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabCtx
}

// Navigate loads the given URL in the watched tab and remembers it for
// later reconnects.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	tabCtx := m.tabCtx
	m.mu.Unlock()

	navCtx, cancel := context.WithTimeout(tabCtx, m.navigationTimeout())
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return classifyDriverError(fmt.Errorf("failed to navigate to %s: %w", url, err), tabCtx)
	}

	m.mu.Lock()
	m.currentURL = url
	m.mu.Unlock()
	return nil
}

// Refresh reloads the current page. Used between poll cycles so the
// observed button state is current.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	tabCtx := m.tabCtx
	m.mu.Unlock()

	navCtx, cancel := context.WithTimeout(tabCtx, m.navigationTimeout())
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Reload()); err != nil {
		return classifyDriverError(fmt.Errorf("failed to reload page: %w", err), tabCtx)
	}
	return nil
}

// HealthCheck verifies the browser connection by asking the tab for its
// location. A failure here means the session is lost.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	tabCtx := m.tabCtx
	m.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(tabCtx, 5*time.Second)
	defer cancel()

	var url string
	if err := chromedp.Run(checkCtx, chromedp.Location(&url)); err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
	}
	return nil
}

// Reconnect tears the browser down and relaunches it, returning to the
// last navigated URL. Used by the polling session's recovery path.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	url := m.currentURL
	m.mu.Unlock()

	m.logger.Warn("Reconnecting browser session...", zap.String("url", url))
	m.shutdown()

	if err := m.launch(ctx); err != nil {
		return fmt.Errorf("relaunch failed: %w", err)
	}
	if url != "" {
		if err := m.Navigate(ctx, url); err != nil {
			return fmt.Errorf("re-navigation failed: %w", err)
		}
	}
	m.logger.Info("Browser session re-established.")
	return nil
}

// Close terminates the browser process.
func (m *Manager) Close() {
	m.logger.Info("Shutting down browser process...")
	m.shutdown()
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	tabCancel, allocCancel := m.tabCancel, m.allocatorCancel
	allocCtx := m.allocatorCtx
	m.tabCancel, m.allocatorCancel = nil, nil
	m.mu.Unlock()

	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
		// Wait for the allocator to confirm termination.
		<-allocCtx.Done()
	}
}

func (m *Manager) navigationTimeout() time.Duration {
	if m.cfg.NavigationTimeout > 0 {
		return m.cfg.NavigationTimeout
	}
	return 60 * time.Second
}
