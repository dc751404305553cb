// File: internal/browser/buttons.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/buttonwatcher/wbw/api/schemas"
)

// ListButtons enumerates the candidate buttons on the current page so a
// user can pick which ones to watch.
func (m *Manager) ListButtons(ctx context.Context) ([]schemas.ButtonInfo, error) {
	m.mu.Lock()
	tabCtx := m.tabCtx
	m.mu.Unlock()

	htmlCtx, cancel := context.WithTimeout(tabCtx, m.elementTimeout())
	defer cancel()

	var html string
	if err := chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, classifyDriverError(fmt.Errorf("failed to read page HTML: %w", err), tabCtx)
	}
	return parseButtons(html)
}

// parseButtons extracts button descriptors from a page's HTML.
func parseButtons(html string) ([]schemas.ButtonInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	var buttons []schemas.ButtonInfo
	doc.Find("button").Each(func(i int, sel *goquery.Selection) {
		_, disabled := sel.Attr("disabled")
		buttons = append(buttons, schemas.ButtonInfo{
			Index:    i,
			Selector: buttonSelector(sel, i),
			Text:     strings.TrimSpace(sel.Text()),
			Enabled:  !disabled,
		})
	})
	return buttons, nil
}

// buttonSelector builds the most stable selector available for a
// button: its id when present, otherwise the "@button:N" index form
// understood by the locator (Nth button on the page in document order).
func buttonSelector(sel *goquery.Selection, index int) string {
	if id, ok := sel.Attr("id"); ok && id != "" {
		return "#" + id
	}
	return fmt.Sprintf("@button:%d", index)
}
