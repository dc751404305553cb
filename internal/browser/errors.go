// File: internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/buttonwatcher/wbw/api/schemas"
)

// classifyDriverError maps a chromedp failure to the watcher's error
// taxonomy. A dead tab context always means the session is lost.
func classifyDriverError(err error, tabCtx context.Context) error {
	if err == nil {
		return nil
	}
	if tabCtx.Err() != nil || looksLikeConnectionLoss(err) {
		return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
	}
	return err
}

// classifyLocateError additionally treats a per-element deadline as
// NotFound: a slow or hung lookup is skipped this cycle, not escalated.
func classifyLocateError(err error, tabCtx, locCtx context.Context) error {
	if tabCtx.Err() != nil || looksLikeConnectionLoss(err) {
		return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(locCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: lookup timed out: %v", schemas.ErrNotFound, err)
	}
	return err
}

// looksLikeConnectionLoss inspects the error text for the signatures of
// a broken devtools connection. chromedp does not expose typed errors
// for these, so string matching is the only option.
func looksLikeConnectionLoss(err error) bool {
	msg := err.Error()
	for _, needle := range []string{
		"websocket",
		"connection refused",
		"connection reset",
		"broken pipe",
		"context canceled",
		"browser closed",
		"target closed",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
