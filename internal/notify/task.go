package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
	"github.com/asheshgoplani/panewatch/internal/logging"
	"github.com/asheshgoplani/panewatch/internal/speech"
)

var notifyLog = logging.ForComponent(logging.CompNotify)

// TaskStatus is the lifecycle state of a notification task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskRetrying  TaskStatus = "retrying"
	TaskExpired   TaskStatus = "expired"
)

// Task is one accepted completion event awaiting notification. Content is
// the already-extracted (trimmed and filtered) output; the skip and dedup
// checks ran before enqueue, so a task that reaches a worker is always
// eligible.
type Task struct {
	Session     string
	Pane        string
	Content     string
	Instruction string
	RequestID   string
	EnqueuedAt  time.Time
}

// TaskResult is the structured outcome of one task execution.
type TaskResult struct {
	Status      TaskStatus
	Session     string
	Pane        string
	RequestID   string
	SummaryText string
	Err         string
}

// RunnerOptions configures the worker pool and per-task policy.
type RunnerOptions struct {
	Workers      int
	QueueSize    int
	HardTimeout  time.Duration
	SoftTimeout  time.Duration
	QueueExpiry  time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	SummaryLines int
	SpeechSpeed  float64

	// OnResult, when set, observes every task outcome. Used by tests and the
	// web layer's status counters.
	OnResult func(TaskResult)
}

// Runner executes notification tasks on a fixed worker pool, decoupled from
// the poll loop and request-serving paths. Each worker runs one task at a
// time; tasks for different panes may run concurrently.
type Runner struct {
	opts        RunnerOptions
	summarizer  speech.Summarizer
	synthesizer speech.Synthesizer
	hub         *broadcast.Hub

	jobs chan Task
	wg   sync.WaitGroup

	stopOnce sync.Once
	stopMu   sync.RWMutex
	stopped  chan struct{}
}

// NewRunner creates a runner. Call Start to launch the workers.
func NewRunner(opts RunnerOptions, summarizer speech.Summarizer, synthesizer speech.Synthesizer, hub *broadcast.Hub) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SummaryLines <= 0 {
		opts.SummaryLines = 40
	}
	if opts.SpeechSpeed <= 0 {
		opts.SpeechSpeed = 1.0
	}
	return &Runner{
		opts:        opts,
		summarizer:  summarizer,
		synthesizer: synthesizer,
		hub:         hub,
		jobs:        make(chan Task, opts.QueueSize),
		stopped:     make(chan struct{}),
	}
}

// Start launches the worker pool.
func (r *Runner) Start() {
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop drains the queue and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.stopMu.Lock()
		close(r.stopped)
		close(r.jobs)
		r.stopMu.Unlock()
	})
	r.wg.Wait()
}

// Enqueue submits a task without blocking the caller. When the queue is full
// the task is rejected rather than stalling the completion-signal path.
// The stopMu read lock makes the stopped check and the send atomic with
// Stop closing the queue, so a late caller gets an error instead of a
// send on a closed channel.
func (r *Runner) Enqueue(task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()
	select {
	case <-r.stopped:
		return fmt.Errorf("notification runner is stopped")
	default:
	}
	select {
	case r.jobs <- task:
		return nil
	default:
		return fmt.Errorf("notification queue is full")
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for task := range r.jobs {
		result := r.execute(task)
		r.report(result)
	}
}

func (r *Runner) report(result TaskResult) {
	switch result.Status {
	case TaskSucceeded:
		notifyLog.Info("notification_delivered",
			slog.String("session", result.Session),
			slog.String("pane", result.Pane),
			slog.String("request_id", result.RequestID))
	case TaskExpired:
		notifyLog.Info("notification_expired_unexecuted",
			slog.String("session", result.Session),
			slog.String("pane", result.Pane),
			slog.String("request_id", result.RequestID))
	default:
		notifyLog.Error("notification_failed",
			slog.String("session", result.Session),
			slog.String("pane", result.Pane),
			slog.String("request_id", result.RequestID),
			slog.String("error", truncate(result.Err, 300)))
	}
	if r.opts.OnResult != nil {
		r.opts.OnResult(result)
	}
}

// execute runs one task to completion. Any panic or error is converted into
// a structured failure result; a bad notification must never take down the
// worker.
func (r *Runner) execute(task Task) (result TaskResult) {
	result = TaskResult{
		Status:    TaskRunning,
		Session:   task.Session,
		Pane:      task.Pane,
		RequestID: task.RequestID,
	}
	defer func() {
		if rec := recover(); rec != nil {
			result.Status = TaskFailed
			result.Err = fmt.Sprintf("panic: %v", rec)
		}
	}()

	// A stale "task finished" notification is confusing once delivered;
	// discard anything that sat in the queue too long.
	if r.opts.QueueExpiry > 0 && time.Since(task.EnqueuedAt) > r.opts.QueueExpiry {
		result.Status = TaskExpired
		return result
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if r.opts.HardTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.HardTimeout)
		defer cancel()
	}
	if r.opts.SoftTimeout > 0 {
		soft := time.AfterFunc(r.opts.SoftTimeout, func() {
			notifyLog.Warn("notification_task_slow",
				slog.String("session", task.Session),
				slog.String("pane", task.Pane),
				slog.String("request_id", task.RequestID),
				slog.Duration("soft_timeout", r.opts.SoftTimeout))
		})
		defer soft.Stop()
	}

	content := LastLines(task.Content, r.opts.SummaryLines)

	summary, err := r.withRetries(ctx, task, "summarize", func() (string, error) {
		return r.summarizer.Summarize(ctx, task.Instruction, content)
	})
	if err != nil {
		result.Status = TaskFailed
		result.Err = err.Error()
		return result
	}
	result.SummaryText = summary

	summaryAudio, err := r.withRetries(ctx, task, "synthesize_summary", func() (string, error) {
		audio, synthErr := r.synthesizer.Synthesize(ctx, summary, r.opts.SpeechSpeed)
		return string(audio), synthErr
	})
	if err != nil {
		result.Status = TaskFailed
		result.Err = err.Error()
		return result
	}

	label := FormatLabel(task.Session, task.Pane)
	// Label audio is decorative; a failure here degrades to silence for the
	// label without failing the whole notification.
	labelAudio, err := r.synthesizer.Synthesize(ctx, label, r.opts.SpeechSpeed)
	if err != nil {
		if speech.IsConfigError(err) {
			result.Status = TaskFailed
			result.Err = err.Error()
			return result
		}
		notifyLog.Warn("label_synthesis_failed",
			slog.String("session", task.Session),
			slog.String("error", truncate(err.Error(), 300)))
		labelAudio = nil
	}

	payload := broadcast.Payload{
		Type:         "notification",
		Session:      task.Session,
		Pane:         task.Pane,
		SummaryText:  summary,
		SummaryAudio: encodeAudio([]byte(summaryAudio)),
		LabelText:    label,
		LabelAudio:   encodeAudio(labelAudio),
		TimestampMS:  time.Now().UnixMilli(),
	}
	if err := r.hub.Publish(payload); err != nil {
		// A notification that cannot be delivered must leave a trace.
		result.Status = TaskFailed
		result.Err = fmt.Sprintf("broadcast: %v", err)
		return result
	}

	result.Status = TaskSucceeded
	return result
}

// withRetries runs op with the configured retry budget and fixed delay.
// Configuration errors are hard failures that retrying cannot fix.
func (r *Runner) withRetries(ctx context.Context, task Task, op string, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			notifyLog.Info("notification_task_retrying",
				slog.String("op", op),
				slog.String("session", task.Session),
				slog.String("request_id", task.RequestID),
				slog.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(r.opts.RetryDelay):
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if speech.IsConfigError(err) || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%s: %w", op, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
