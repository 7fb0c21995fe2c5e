// Package tmux provides the session output source: capturing pane content,
// sending input, and resolving pane role metadata through the tmux CLI.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/panewatch/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// ErrCaptureTimeout indicates tmux did not respond within the capture deadline.
var ErrCaptureTimeout = errors.New("tmux capture timed out")

// RolePaneOption is the tmux pane option holding the role binding.
// Set at session creation time, e.g.:
//
//	tmux set-option -p -t work:0 @panewatch_role PO
const RolePaneOption = "@panewatch_role"

const (
	captureDeadline = 3 * time.Second
	captureCacheTTL = 500 * time.Millisecond
)

type cachedCapture struct {
	content string
	at      time.Time
}

// Mux talks to the tmux server. One instance is shared by the poll loop and
// request handlers; concurrent captures of the same target are deduplicated.
type Mux struct {
	sf singleflight.Group

	cacheMu sync.RWMutex
	cache   map[string]cachedCapture
}

// NewMux creates a tmux output source.
func NewMux() *Mux {
	return &Mux{cache: make(map[string]cachedCapture)}
}

// IsAvailable checks whether a tmux binary and server are reachable.
func IsAvailable() error {
	if _, err := exec.LookPath("tmux"); err != nil {
		return fmt.Errorf("tmux not found in PATH: %w", err)
	}
	return nil
}

// target formats a session/pane pair as a tmux target.
func target(session, pane string) string {
	if pane == "" {
		return session
	}
	return session + ":" + pane
}

// Capture returns the currently visible content of a pane. Concurrent calls
// for the same target share one tmux invocation, and results are cached
// briefly so the poll loop and request handlers don't double-capture.
func (m *Mux) Capture(ctx context.Context, session, pane string) (string, error) {
	tgt := target(session, pane)

	m.cacheMu.RLock()
	if c, ok := m.cache[tgt]; ok && time.Since(c.at) < captureCacheTTL {
		m.cacheMu.RUnlock()
		return c.content, nil
	}
	m.cacheMu.RUnlock()

	v, err, _ := m.sf.Do(tgt, func() (interface{}, error) {
		// Double-check cache inside singleflight
		m.cacheMu.RLock()
		if c, ok := m.cache[tgt]; ok && time.Since(c.at) < captureCacheTTL {
			m.cacheMu.RUnlock()
			return c.content, nil
		}
		m.cacheMu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, captureDeadline)
		defer cancel()
		// -J joins wrapped lines so content hashes don't change on resize
		cmd := exec.CommandContext(cctx, "tmux", "capture-pane", "-t", tgt, "-p", "-J")
		output, err := cmd.Output()
		if err != nil {
			if cctx.Err() == context.DeadlineExceeded {
				return "", ErrCaptureTimeout
			}
			return "", fmt.Errorf("capture pane %s: %w", tgt, err)
		}

		content := string(output)
		m.cacheMu.Lock()
		m.cache[tgt] = cachedCapture{content: content, at: time.Now()}
		m.cacheMu.Unlock()
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SendInput sends literal text followed by Enter to a pane.
// Two separate tmux calls with a short delay: tmux 3.2+ wraps send-keys -l in
// bracketed paste sequences, and an Enter arriving in the same PTY buffer as
// the paste-end marker gets swallowed by async TUI frameworks.
func (m *Mux) SendInput(ctx context.Context, session, pane, text string) error {
	tgt := target(session, pane)
	m.invalidate(tgt)

	// -l sends the string as literal text, not key names
	send := exec.CommandContext(ctx, "tmux", "send-keys", "-l", "-t", tgt, "--", text)
	if err := send.Run(); err != nil {
		return fmt.Errorf("send input to %s: %w", tgt, err)
	}

	time.Sleep(100 * time.Millisecond)

	enter := exec.CommandContext(ctx, "tmux", "send-keys", "-t", tgt, "Enter")
	if err := enter.Run(); err != nil {
		return fmt.Errorf("send enter to %s: %w", tgt, err)
	}
	return nil
}

// ResolveRole reads the pane's role binding. Any failure (missing option,
// dead pane, tmux error) returns the empty string; callers treat that as an
// unknown role.
func (m *Mux) ResolveRole(ctx context.Context, session, pane string) string {
	tgt := target(session, pane)

	cctx, cancel := context.WithTimeout(ctx, captureDeadline)
	defer cancel()
	cmd := exec.CommandContext(cctx, "tmux", "show-options", "-p", "-t", tgt, "-v", RolePaneOption)
	output, err := cmd.Output()
	if err != nil {
		tmuxLog.Debug("role_lookup_failed",
			slog.String("target", tgt),
			slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(string(output))
}

// ListPanes returns "session pane" pairs for every pane known to the server.
func (m *Mux) ListPanes(ctx context.Context) ([][2]string, error) {
	cctx, cancel := context.WithTimeout(ctx, captureDeadline)
	defer cancel()
	cmd := exec.CommandContext(cctx, "tmux", "list-panes", "-a", "-F", "#{session_name} #{pane_index}")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list panes: %w", err)
	}

	var panes [][2]string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		panes = append(panes, [2]string{fields[0], fields[1]})
	}
	return panes, nil
}

func (m *Mux) invalidate(tgt string) {
	m.cacheMu.Lock()
	delete(m.cache, tgt)
	m.cacheMu.Unlock()
}
