package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsStatusMessage struct {
	Type     string    `json:"type"` // status, error
	Event    string    `json:"event,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	ReadOnly bool      `json:"readOnly,omitempty"`
	Time     time.Time `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConn serializes writes from the hub goroutine and the read loop.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := &wsConn{conn: conn}
	s.trackWSConn(wc)
	defer s.untrackWSConn(wc)
	defer conn.Close()

	_ = wc.writeJSON(wsStatusMessage{
		Type:     "status",
		Event:    "connected",
		ReadOnly: s.cfg.ReadOnly,
		Time:     time.Now().UTC(),
	})

	payloads, cancel := s.hub.Subscribe()
	defer cancel()

	// Forward hub payloads until the subscription or the server context ends.
	// Closing the connection unblocks the read loop below.
	go func() {
		defer conn.Close()
		for {
			select {
			case payload, ok := <-payloads:
				if !ok {
					return
				}
				if err := wc.writeJSON(payload); err != nil {
					return
				}
			case <-s.baseCtx.Done():
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = wc.writeJSON(wsStatusMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = wc.writeJSON(wsStatusMessage{
				Type:  "status",
				Event: "pong",
				Time:  time.Now().UTC(),
			})
		default:
			_ = wc.writeJSON(wsStatusMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping",
				Time:    time.Now().UTC(),
			})
		}
	}
}

func (s *Server) trackWSConn(c *wsConn) {
	s.wsConnsMu.Lock()
	s.wsConns[c] = struct{}{}
	s.wsConnsMu.Unlock()
}

func (s *Server) untrackWSConn(c *wsConn) {
	s.wsConnsMu.Lock()
	delete(s.wsConns, c)
	s.wsConnsMu.Unlock()
}

func (s *Server) closeWSConns() {
	s.wsConnsMu.Lock()
	for c := range s.wsConns {
		_ = c.conn.Close()
	}
	s.wsConnsMu.Unlock()
}
