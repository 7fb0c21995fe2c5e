package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
	"github.com/asheshgoplani/panewatch/internal/monitor"
)

// fakeSource is a scriptable OutputSource.
type fakeSource struct {
	mu         sync.Mutex
	output     string
	captureErr error
	role       string
	sendErr    error
	sent       []string
}

func (f *fakeSource) Capture(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return "", f.captureErr
	}
	return f.output, nil
}

func (f *fakeSource) SendInput(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSource) ResolveRole(_ context.Context, _, _ string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

type serviceFixture struct {
	svc     *Service
	source  *fakeSource
	sum     *fakeSummarizer
	hub     *broadcast.Hub
	results chan TaskResult
}

func newFixture(t *testing.T, allowlist, blocklist []string) *serviceFixture {
	t.Helper()

	source := &fakeSource{role: "PO"}
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)

	sum := &fakeSummarizer{}
	results := make(chan TaskResult, 8)
	runner := NewRunner(RunnerOptions{
		Workers:    1,
		RetryDelay: time.Millisecond,
		OnResult:   func(res TaskResult) { results <- res },
	}, sum, &fakeSynth{}, hub)
	runner.Start()
	t.Cleanup(runner.Stop)

	mon := monitor.New(20)
	svc := NewService(
		source,
		mon,
		monitor.NewDispatchTracker(),
		NewRouter(allowlist, blocklist, source),
		NewDedupCache(newMemKV(), time.Minute),
		runner,
	)
	return &serviceFixture{svc: svc, source: source, sum: sum, hub: hub, results: results}
}

func (fx *serviceFixture) awaitResult(t *testing.T) TaskResult {
	t.Helper()
	select {
	case res := <-fx.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no task result")
		return TaskResult{}
	}
}

// Identical captures must never report activity.
func TestGetStateIdenticalContentInactive(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.output = "line1\nline2"

	st1 := fx.svc.GetState(context.Background(), "work", "0")
	st2 := fx.svc.GetState(context.Background(), "work", "0")

	require.False(t, st1.IsActive, "first observation has no baseline")
	require.False(t, st2.IsActive, "identical content is not activity")
	require.Equal(t, "line1\nline2", st2.Output)
}

func TestGetStateDetectsChange(t *testing.T) {
	fx := newFixture(t, nil, nil)

	fx.source.output = "before"
	fx.svc.GetState(context.Background(), "work", "0")

	fx.source.output = "after"
	st := fx.svc.GetState(context.Background(), "work", "0")
	require.True(t, st.IsActive)
}

func TestGetStateCaptureFailureDegrades(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.captureErr = errors.New("pane is gone")

	st := fx.svc.GetState(context.Background(), "work", "0")
	require.False(t, st.IsActive)
	require.Empty(t, st.Output)
}

func TestSendTracksDispatch(t *testing.T) {
	fx := newFixture(t, nil, nil)

	res := fx.svc.Send(context.Background(), "work", "0", "make test")
	require.True(t, res.Success)
	require.Equal(t, []string{"make test"}, fx.source.sent)

	st := fx.svc.GetState(context.Background(), "work", "0")
	require.Contains(t, st.HighlightText, "make test")
}

func TestSendFailure(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.sendErr = errors.New("session not found")

	res := fx.svc.Send(context.Background(), "work", "0", "ls")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "session not found")

	st := fx.svc.GetState(context.Background(), "work", "0")
	require.Empty(t, st.HighlightText, "failed sends must not be highlighted")
}

// Blocklisted role: skipped, nothing broadcast.
func TestCompletionSignalBlockedRoleSkips(t *testing.T) {
	fx := newFixture(t, nil, []string{"DK"})
	fx.source.role = "DK"

	ch, cancel := fx.hub.Subscribe()
	defer cancel()

	res := fx.svc.OnCompletionSignal(context.Background(), CompletionSignal{
		Session: "work", Pane: "0", RawOutput: "finished", RequestID: "req-1",
	})
	require.Equal(t, SignalSkipped, res.Status)
	require.Zero(t, fx.sum.callCount())

	select {
	case <-ch:
		t.Fatal("skipped signal must not broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

// Identical extracted content within the TTL: only one task reaches the summarizer.
func TestCompletionSignalDeduplicates(t *testing.T) {
	fx := newFixture(t, nil, nil)

	sig := CompletionSignal{Session: "work", Pane: "0", RawOutput: "finished", RequestID: "req-1"}
	res1 := fx.svc.OnCompletionSignal(context.Background(), sig)
	require.Equal(t, SignalAccepted, res1.Status)
	fx.awaitResult(t)

	sig.RequestID = "req-2"
	res2 := fx.svc.OnCompletionSignal(context.Background(), sig)
	require.Equal(t, SignalDuplicate, res2.Status)

	require.Equal(t, 1, fx.sum.callCount(), "duplicate must not reach the summarizer")
}

func TestCompletionSignalChangedContentAccepted(t *testing.T) {
	fx := newFixture(t, nil, nil)

	fx.svc.OnCompletionSignal(context.Background(), CompletionSignal{
		Session: "work", Pane: "0", RawOutput: "first run",
	})
	fx.awaitResult(t)

	res := fx.svc.OnCompletionSignal(context.Background(), CompletionSignal{
		Session: "work", Pane: "0", RawOutput: "second run",
	})
	require.Equal(t, SignalAccepted, res.Status)
	fx.awaitResult(t)
}

func TestCompletionSignalCapturesWhenOutputMissing(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.output = "captured output"

	res := fx.svc.OnCompletionSignal(context.Background(), CompletionSignal{
		Session: "work", Pane: "0",
	})
	require.Equal(t, SignalAccepted, res.Status)
	fx.awaitResult(t)
}

func TestCompletionSignalCaptureFailureSkips(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.captureErr = errors.New("no server")

	res := fx.svc.OnCompletionSignal(context.Background(), CompletionSignal{
		Session: "work", Pane: "0",
	})
	require.Equal(t, SignalSkipped, res.Status)
}

func TestCompletionSignalRoleHintUsed(t *testing.T) {
	fx := newFixture(t, []string{"PO"}, nil)
	fx.source.role = "" // resolver would fail

	res := fx.svc.OnCompletionSignal(context.Background(), CompletionSignal{
		Session: "work", Pane: "0", RawOutput: "done", RoleHint: "PO",
	})
	require.Equal(t, SignalAccepted, res.Status)
	fx.awaitResult(t)
}

func TestPollTickCoversSeenPanes(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.output = "initial"
	fx.svc.GetState(context.Background(), "work", "0")

	fx.source.output = "changed"
	fx.svc.PollTick(context.Background())

	// The tick recorded the new content; the next read diffs against it.
	fx.source.output = "changed"
	st := fx.svc.GetState(context.Background(), "work", "0")
	require.False(t, st.IsActive)
}

func TestClearHistoryResetsBaseline(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.source.output = "content"
	fx.svc.GetState(context.Background(), "work", "0")
	fx.svc.Send(context.Background(), "work", "0", "cmd")

	fx.svc.ClearHistory("work", "0")

	fx.source.output = "totally different"
	st := fx.svc.GetState(context.Background(), "work", "0")
	require.False(t, st.IsActive, "first observation after clear has no baseline")
	require.Empty(t, st.HighlightText)
}

func TestClearHistoryResetsDedup(t *testing.T) {
	fx := newFixture(t, nil, nil)
	sig := CompletionSignal{Session: "work", Pane: "0", RawOutput: "build passed", RequestID: "req-1"}

	require.Equal(t, SignalAccepted, fx.svc.OnCompletionSignal(context.Background(), sig).Status)
	fx.awaitResult(t)

	sig.RequestID = "req-2"
	require.Equal(t, SignalDuplicate, fx.svc.OnCompletionSignal(context.Background(), sig).Status)

	fx.svc.ClearHistory("work", "0")

	sig.RequestID = "req-3"
	res := fx.svc.OnCompletionSignal(context.Background(), sig)
	require.Equal(t, SignalAccepted, res.Status, "identical content after clear is a fresh observation")
	fx.awaitResult(t)
	require.Equal(t, 2, fx.sum.callCount())
}

func TestFormatLabel(t *testing.T) {
	require.Equal(t, "work, pane 0", FormatLabel("work", "0"))
	require.Equal(t, "work", FormatLabel("work", ""))
}
