// File: internal/browser/locator.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/api/schemas"
)

// locateResult mirrors the object returned by the in-page lookup script.
type locateResult struct {
	Found   bool   `json:"found"`
	Text    string `json:"text"`
	Enabled bool   `json:"enabled"`
}

// Locate re-resolves the selector on the live page and returns the
// element's current state. The selector is evaluated fresh each call,
// so a page re-render between cycles does not invalidate it.
//
// Errors: schemas.ErrNotFound when no element matches (including a
// lookup that exceeds the per-element timeout), schemas.ErrSessionLost
// when the browser connection is gone.
func (m *Manager) Locate(ctx context.Context, selector string) (schemas.ElementState, error) {
	m.mu.Lock()
	tabCtx := m.tabCtx
	m.mu.Unlock()

	// Bound the lookup so one hung element cannot starve the rest of
	// the cycle.
	locCtx, cancel := context.WithTimeout(tabCtx, m.elementTimeout())
	defer cancel()

	// Selectors are either plain CSS or the "@button:N" index form,
	// which addresses the Nth button on the page in document order.
	script := fmt.Sprintf(`(() => {
		const sel = %q;
		let el = null;
		const m = sel.match(/^@button:(\d+)$/);
		if (m) {
			el = document.querySelectorAll("button")[Number(m[1])] || null;
		} else {
			el = document.querySelector(sel);
		}
		if (!el) return { found: false, text: "", enabled: false };
		return { found: true, text: el.innerText, enabled: !el.disabled };
	})()`, selector)

	var res locateResult
	if err := chromedp.Run(locCtx, chromedp.Evaluate(script, &res)); err != nil {
		classified := classifyLocateError(err, tabCtx, locCtx)
		m.logger.Debug("Element lookup failed",
			zap.String("selector", selector), zap.Error(classified))
		return schemas.ElementState{}, classified
	}

	if !res.Found {
		return schemas.ElementState{}, fmt.Errorf("%w: selector %q", schemas.ErrNotFound, selector)
	}

	return schemas.ElementState{
		Text:       res.Text,
		Enabled:    res.Enabled,
		ObservedAt: time.Now(),
	}, nil
}

func (m *Manager) elementTimeout() time.Duration {
	if m.cfg.ElementTimeout > 0 {
		return m.cfg.ElementTimeout
	}
	return 10 * time.Second
}
