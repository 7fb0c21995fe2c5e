package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/panewatch/internal/monitor"
)

// OutputSource is the external session output capability. The multiplexer
// protocol itself lives behind this interface; the service only consumes
// capture results.
type OutputSource interface {
	RoleResolver
	Capture(ctx context.Context, session, pane string) (string, error)
	SendInput(ctx context.Context, session, pane, text string) error
}

// PaneLister optionally enumerates every known pane for the poll loop.
type PaneLister interface {
	ListPanes(ctx context.Context) ([][2]string, error)
}

// State is the composite synchronous read for one pane.
type State struct {
	Output        string    `json:"output"`
	IsActive      bool      `json:"is_active"`
	HighlightText string    `json:"highlight_text,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
}

// SendResult reports a composite send operation.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Enqueue statuses for completion signals.
const (
	SignalAccepted  = "accepted"
	SignalSkipped   = "skipped"
	SignalDuplicate = "duplicate"
	SignalRejected  = "rejected"
)

// EnqueueResult is returned immediately from OnCompletionSignal.
type EnqueueResult struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// CompletionSignal is the externally triggered "unit of work finished" event.
type CompletionSignal struct {
	Session     string `json:"session"`
	Pane        string `json:"pane"`
	RawOutput   string `json:"output,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	RoleHint    string `json:"role,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Service wires the monitor, router, dedup cache and task runner into the
// operations exposed to the web layer and the hooks watcher.
type Service struct {
	source   OutputSource
	mon      *monitor.Monitor
	dispatch *monitor.DispatchTracker
	router   *Router
	dedup    *DedupCache
	runner   *Runner

	// seen tracks panes observed through any operation so the poll loop can
	// cover them even without a pane lister.
	seenMu sync.Mutex
	seen   map[[2]string]struct{}
}

// NewService assembles the notification pipeline.
func NewService(source OutputSource, mon *monitor.Monitor, dispatch *monitor.DispatchTracker, router *Router, dedup *DedupCache, runner *Runner) *Service {
	return &Service{
		source:   source,
		mon:      mon,
		dispatch: dispatch,
		router:   router,
		dedup:    dedup,
		runner:   runner,
		seen:     make(map[[2]string]struct{}),
	}
}

// PollTick captures and diffs every known pane. It is invoked once per poll
// interval by the monitor's loop.
func (s *Service) PollTick(ctx context.Context) {
	for _, p := range s.knownPanes(ctx) {
		session, pane := p[0], p[1]
		content, err := s.source.Capture(ctx, session, pane)
		s.mon.RecordAndDiff(session, pane, content, err == nil)
	}
}

// GetState returns the composite pane state: current output, whether the
// content changed since the previous observation, and the dispatch highlight.
func (s *Service) GetState(ctx context.Context, session, pane string) State {
	s.remember(session, pane)

	content, err := s.source.Capture(ctx, session, pane)
	active := s.mon.RecordAndDiff(session, pane, content, err == nil)
	if err != nil {
		// Capture failure degrades to empty output, never an error upward.
		notifyLog.Debug("capture_failed",
			slog.String("session", session),
			slog.String("pane", pane),
			slog.String("error", err.Error()))
		content = ""
	}

	st := State{Output: content, IsActive: active}
	if highlight, ok := s.dispatch.HighlightFor(session, pane); ok {
		st.HighlightText = highlight
	}
	if at, ok := s.mon.LastUpdated(session, pane); ok {
		st.LastUpdated = at
	}
	return st
}

// Send delivers input to a pane and records it for display highlighting.
func (s *Service) Send(ctx context.Context, session, pane, text string) SendResult {
	s.remember(session, pane)

	if strings.TrimSpace(text) == "" {
		return SendResult{Success: false, Message: "text is required"}
	}
	if err := s.source.SendInput(ctx, session, pane, text); err != nil {
		return SendResult{Success: false, Message: err.Error()}
	}
	s.dispatch.Track(session, pane, text)
	return SendResult{Success: true, Message: "sent"}
}

// ClearHistory drops the stored snapshot, dispatch entry and dedup hash for
// a pane. After a reset the next completion is a fresh observation even if
// its content matches what was seen before.
func (s *Service) ClearHistory(session, pane string) {
	s.mon.Clear(session, pane)
	s.dispatch.Clear(session, pane)
	s.dedup.Forget(session, pane)
}

// OnCompletionSignal runs the skip and dedup gates synchronously, then
// enqueues an asynchronous notification task. A rejected or duplicate event
// never consumes a worker slot.
func (s *Service) OnCompletionSignal(ctx context.Context, sig CompletionSignal) EnqueueResult {
	s.remember(sig.Session, sig.Pane)

	raw := sig.RawOutput
	if raw == "" {
		captured, err := s.source.Capture(ctx, sig.Session, sig.Pane)
		if err != nil {
			notifyLog.Warn("completion_capture_failed",
				slog.String("session", sig.Session),
				slog.String("pane", sig.Pane),
				slog.String("request_id", sig.RequestID),
				slog.String("error", err.Error()))
			return EnqueueResult{Status: SignalSkipped, RequestID: sig.RequestID}
		}
		raw = captured
	}

	if s.router.ShouldSkip(ctx, sig.Session, sig.Pane, sig.RoleHint) {
		return EnqueueResult{Status: SignalSkipped, RequestID: sig.RequestID}
	}

	content := FilterInjectedMarkers(TrimToLastTurn(raw))
	if s.dedup.IsDuplicate(sig.Session, sig.Pane, ContentHash(content)) {
		return EnqueueResult{Status: SignalDuplicate, RequestID: sig.RequestID}
	}

	task := Task{
		Session:     sig.Session,
		Pane:        sig.Pane,
		Content:     content,
		Instruction: sig.Instruction,
		RequestID:   sig.RequestID,
		EnqueuedAt:  time.Now(),
	}
	if err := s.runner.Enqueue(task); err != nil {
		notifyLog.Error("enqueue_failed",
			slog.String("session", sig.Session),
			slog.String("pane", sig.Pane),
			slog.String("request_id", sig.RequestID),
			slog.String("error", err.Error()))
		return EnqueueResult{Status: SignalRejected, RequestID: sig.RequestID}
	}
	return EnqueueResult{Status: SignalAccepted, RequestID: sig.RequestID}
}

func (s *Service) remember(session, pane string) {
	s.seenMu.Lock()
	s.seen[[2]string{session, pane}] = struct{}{}
	s.seenMu.Unlock()
}

func (s *Service) knownPanes(ctx context.Context) [][2]string {
	if lister, ok := s.source.(PaneLister); ok {
		if panes, err := lister.ListPanes(ctx); err == nil {
			return panes
		}
	}

	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	panes := make([][2]string, 0, len(s.seen))
	for p := range s.seen {
		panes = append(panes, p)
	}
	return panes
}

// FormatLabel renders a pane target as a human-readable spoken label.
func FormatLabel(session, pane string) string {
	if pane == "" {
		return session
	}
	return fmt.Sprintf("%s, pane %s", session, pane)
}

func encodeAudio(audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}
