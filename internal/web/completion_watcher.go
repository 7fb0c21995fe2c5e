package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/panewatch/internal/logging"
	"github.com/asheshgoplani/panewatch/internal/notify"
)

var hooksLog = logging.ForComponent(logging.CompHooks)

// CompletionWatcher watches the hooks directory for completion marker files.
// Agent-side hooks drop a JSON file per finished unit of work; the watcher
// feeds each marker into the notification pipeline and removes it.
type CompletionWatcher struct {
	hooksDir string
	watcher  *fsnotify.Watcher
	svc      NotificationService

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewCompletionWatcher creates a watcher for hooksDir. Call Start to begin
// watching.
func NewCompletionWatcher(hooksDir string, svc NotificationService) (*CompletionWatcher, error) {
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &CompletionWatcher{
		hooksDir: hooksDir,
		watcher:  watcher,
		svc:      svc,
		stopped:  make(chan struct{}),
	}, nil
}

// Start blocks consuming marker files until Stop or ctx cancellation.
// Must be called in a goroutine.
func (w *CompletionWatcher) Start(ctx context.Context) {
	if err := w.watcher.Add(w.hooksDir); err != nil {
		hooksLog.Warn("completion_watcher_add_failed",
			slog.String("dir", w.hooksDir),
			slog.String("error", err.Error()))
		return
	}

	// Markers dropped before startup are still pending work.
	w.consumeExisting(ctx)

	// Coalesce rapid file events before processing.
	var debounceTimer *time.Timer
	pendingFiles := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			pendingMu.Lock()
			pendingFiles[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				pendingMu.Lock()
				files := make([]string, 0, len(pendingFiles))
				for f := range pendingFiles {
					files = append(files, f)
				}
				pendingFiles = make(map[string]bool)
				pendingMu.Unlock()

				for _, f := range files {
					w.consumeMarker(ctx, f)
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			hooksLog.Warn("completion_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts down the watcher.
func (w *CompletionWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		_ = w.watcher.Close()
	})
}

func (w *CompletionWatcher) consumeExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.hooksDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		w.consumeMarker(ctx, filepath.Join(w.hooksDir, entry.Name()))
	}
}

// consumeMarker parses one completion file, feeds it into the pipeline and
// removes it. Malformed files are removed too so they cannot wedge the
// directory.
func (w *CompletionWatcher) consumeMarker(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var sig notify.CompletionSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		hooksLog.Warn("completion_marker_invalid",
			slog.String("file", filepath.Base(path)),
			slog.String("error", err.Error()))
		_ = os.Remove(path)
		return
	}
	if sig.Session == "" || sig.Pane == "" {
		hooksLog.Warn("completion_marker_incomplete",
			slog.String("file", filepath.Base(path)))
		_ = os.Remove(path)
		return
	}

	res := w.svc.OnCompletionSignal(ctx, sig)
	hooksLog.Debug("completion_marker_consumed",
		slog.String("file", filepath.Base(path)),
		slog.String("session", sig.Session),
		slog.String("pane", sig.Pane),
		slog.String("status", res.Status))

	_ = os.Remove(path)
}
