// Package broadcast fans completed notification payloads out to every live
// subscriber. There is a single logical channel: subscribers receive every
// session's payloads and filter client-side.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/panewatch/internal/logging"
)

var bcastLog = logging.ForComponent(logging.CompBroadcast)

// ErrClosed is returned by Publish after the hub has been closed.
var ErrClosed = errors.New("broadcast hub is closed")

// Payload is the immutable result of one completed notification task.
type Payload struct {
	Type         string `json:"type"` // always "notification"
	Session      string `json:"session"`
	Pane         string `json:"pane"`
	SummaryText  string `json:"summary_text"`
	SummaryAudio string `json:"summary_audio,omitempty"` // base64-encoded audio
	LabelText    string `json:"label_text"`
	LabelAudio   string `json:"label_audio,omitempty"`
	TimestampMS  int64  `json:"timestamp_ms"`
}

// subscriberBuffer bounds how far a slow subscriber may lag before payloads
// are dropped for it. Delivery is at-most-once; there is no replay.
const subscriberBuffer = 16

// Hub is an in-process publish/subscribe fan-out.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Payload]struct{}
	closed      bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Payload]struct{})}
}

// Publish delivers the payload to every current subscriber. A subscriber
// whose buffer is full misses this payload rather than blocking the caller.
func (h *Hub) Publish(p Payload) error {
	if p.Type == "" {
		p.Type = "notification"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for ch := range h.subscribers {
		select {
		case ch <- p:
		default:
			bcastLog.Warn("subscriber_lagging_payload_dropped",
				slog.String("session", p.Session),
				slog.String("pane", p.Pane))
		}
	}
	return nil
}

// Subscribe registers a new observer. Only payloads published after the call
// are delivered. The returned cancel function unregisters the subscriber and
// closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Payload, func()) {
	ch := make(chan Payload, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close unregisters all subscribers and makes further publishes fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
