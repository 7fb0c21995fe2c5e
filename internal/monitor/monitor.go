// Package monitor tracks per-pane output snapshots and derives an activity
// signal by diffing the rendered tail window between polls.
package monitor

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/panewatch/internal/logging"
)

var monLog = logging.ForComponent(logging.CompMonitor)

// DefaultSnapshotLines is the tail window compared between polls. Comparing
// only the rendered last lines (rather than hashing the full scrollback)
// keeps each poll tick allocation-light across many panes while tolerating
// cursor-blink and redraw churn in non-accumulating terminal UIs.
const DefaultSnapshotLines = 20

// PollFunc is invoked once per poll interval against all known panes.
type PollFunc func()

type snapshot struct {
	tail      string
	updatedAt time.Time
}

// Monitor owns the background poll loop and the per-pane snapshot store.
// It is an explicitly constructed instance, not a process-wide singleton, so
// tests can run several independent monitors.
type Monitor struct {
	lines int

	mu        sync.RWMutex
	snapshots map[string]snapshot

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// New creates a monitor comparing the last `lines` lines of pane output.
func New(lines int) *Monitor {
	if lines <= 0 {
		lines = DefaultSnapshotLines
	}
	return &Monitor{
		lines:     lines,
		snapshots: make(map[string]snapshot),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func key(session, pane string) string {
	return session + ":" + pane
}

// Start launches the background poll loop. Each interval it invokes poll;
// panics inside the callback are recovered and logged so the loop survives
// indefinitely. Start is a no-op when called twice.
func (m *Monitor) Start(interval time.Duration, poll PollFunc) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop(interval, poll)
}

func (m *Monitor) loop(interval time.Duration, poll PollFunc) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.safePoll(poll)
		}
	}
}

func (m *Monitor) safePoll(poll PollFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			monLog.Error("poll_panic", slog.String("recover", fmt.Sprintf("%v", rec)))
		}
	}()
	poll()
}

// Stop signals cooperative termination and waits for the loop to exit,
// bounded by timeout. Safe to call multiple times and before Start.
func (m *Monitor) Stop(timeout time.Duration) {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return
	}

	select {
	case <-m.done:
	case <-time.After(timeout):
		monLog.Warn("poll_loop_stop_timeout", slog.Duration("timeout", timeout))
	}
}

// RecordAndDiff stores the normalized tail of raw output for a pane and
// reports whether the content changed since the previous snapshot.
//
// A failed capture returns false without touching stored state. The first
// observation for a key returns false: there is no baseline to diff against.
func (m *Monitor) RecordAndDiff(session, pane, raw string, captureOK bool) bool {
	if !captureOK {
		return false
	}

	tail := normalizeTail(raw, m.lines)
	k := key(session, pane)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.snapshots[k]
	m.snapshots[k] = snapshot{tail: tail, updatedAt: time.Now()}

	return existed && prev.tail != tail
}

// LastOutput returns the stored tail for a pane, or false when none exists.
func (m *Monitor) LastOutput(session, pane string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[key(session, pane)]
	return s.tail, ok
}

// LastUpdated returns when the pane's snapshot was last overwritten.
func (m *Monitor) LastUpdated(session, pane string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[key(session, pane)]
	return s.updatedAt, ok
}

// Clear removes the stored snapshot for a pane. The next RecordAndDiff for
// that key re-baselines and reports no activity.
func (m *Monitor) Clear(session, pane string) {
	m.mu.Lock()
	delete(m.snapshots, key(session, pane))
	m.mu.Unlock()
}

// normalizeTail reduces content to its trimmed last n lines.
func normalizeTail(content string, n int) string {
	content = strings.TrimRight(content, "\n")
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
