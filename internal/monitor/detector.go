// File: internal/monitor/detector.go
package monitor

import (
	"time"

	"github.com/buttonwatcher/wbw/api/schemas"
)

// Detect compares a fresh observation against the stored one and
// decides whether the difference is notify-worthy.
//
// A nil prev means this is the element's first observation: it becomes
// the baseline and is never reported as a change. Text is compared
// exactly, with no whitespace or case normalization; any difference in
// text or enabled state produces exactly one event. There is no
// debouncing.
func Detect(el schemas.WatchedElement, prev *schemas.ElementState, curr schemas.ElementState) *schemas.ChangeEvent {
	if prev == nil {
		return nil
	}
	if prev.Equal(curr) {
		return nil
	}

	previous := *prev
	return &schemas.ChangeEvent{
		ElementID:  el.ID,
		Label:      el.Label,
		Previous:   &previous,
		Current:    curr,
		DetectedAt: time.Now(),
	}
}
