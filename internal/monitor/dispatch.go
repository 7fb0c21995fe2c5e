package monitor

import (
	"fmt"
	"sync"
	"time"
)

type dispatchRecord struct {
	text string
	at   time.Time
}

// DispatchTracker records the last input sent to each pane, for display
// highlighting. One overwritable entry per target: last writer wins is the
// desired outcome under concurrent sends, not a race to guard against.
type DispatchTracker struct {
	mu      sync.RWMutex
	records map[string]dispatchRecord
	now     func() time.Time
}

// NewDispatchTracker creates an empty tracker.
func NewDispatchTracker() *DispatchTracker {
	return &DispatchTracker{
		records: make(map[string]dispatchRecord),
		now:     time.Now,
	}
}

// Track stores the text and current time for a pane, overwriting any prior entry.
func (d *DispatchTracker) Track(session, pane, text string) {
	d.mu.Lock()
	d.records[key(session, pane)] = dispatchRecord{text: text, at: d.now()}
	d.mu.Unlock()
}

// HighlightFor returns a display string embedding the tracked text and a
// short age label, or false when nothing is tracked for the pane.
func (d *DispatchTracker) HighlightFor(session, pane string) (string, bool) {
	d.mu.RLock()
	rec, ok := d.records[key(session, pane)]
	now := d.now()
	d.mu.RUnlock()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("▶ %s (%s)", rec.text, ageLabel(now.Sub(rec.at))), true
}

// Clear removes the tracked entry for a pane.
func (d *DispatchTracker) Clear(session, pane string) {
	d.mu.Lock()
	delete(d.records, key(session, pane))
	d.mu.Unlock()
}

func ageLabel(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	}
}
