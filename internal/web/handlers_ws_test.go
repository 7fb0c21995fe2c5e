package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
)

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dialWS(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(rawURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) wsStatusMessage {
	t.Helper()
	var msg wsStatusMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestNotificationsWSConnectAndReceive(t *testing.T) {
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	srv := NewServer(Config{}, &fakeService{}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn := dialWS(t, wsURL(ts, "/ws/notifications"))

	st := readStatus(t, conn)
	require.Equal(t, "status", st.Type)
	require.Equal(t, "connected", st.Event)

	require.NoError(t, hub.Publish(broadcast.Payload{
		Session:     "work",
		Pane:        "0",
		SummaryText: "The tests passed.",
		LabelText:   "work, pane 0",
	}))

	var payload broadcast.Payload
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&payload))
	require.Equal(t, "work", payload.Session)
	require.Equal(t, "0", payload.Pane)
	require.Equal(t, "The tests passed.", payload.SummaryText)
}

func TestNotificationsWSFanOut(t *testing.T) {
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	srv := NewServer(Config{}, &fakeService{}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn1 := dialWS(t, wsURL(ts, "/ws/notifications"))
	conn2 := dialWS(t, wsURL(ts, "/ws/notifications"))
	readStatus(t, conn1)
	readStatus(t, conn2)

	require.NoError(t, hub.Publish(broadcast.Payload{Session: "work", Pane: "1"}))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var payload broadcast.Payload
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&payload))
		require.Equal(t, "1", payload.Pane)
	}
}

func TestNotificationsWSPing(t *testing.T) {
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	srv := NewServer(Config{}, &fakeService{}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn := dialWS(t, wsURL(ts, "/ws/notifications"))
	readStatus(t, conn)

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "ping"}))
	st := readStatus(t, conn)
	require.Equal(t, "pong", st.Event)
}

func TestNotificationsWSRejectsBadToken(t *testing.T) {
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	srv := NewServer(Config{Token: "secret"}, &fakeService{}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/notifications"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dialWS(t, wsURL(ts, "/ws/notifications?token=secret"))
	st := readStatus(t, conn)
	require.Equal(t, "connected", st.Event)
}

func TestAllowWSOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "localhost:8620", true},
		{"same host", "http://localhost:8620", "localhost:8620", true},
		{"case insensitive", "http://LOCALHOST:8620", "localhost:8620", true},
		{"different host", "http://evil.example", "localhost:8620", false},
		{"garbage origin", "::bad::", "localhost:8620", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, allowWSOrigin(r))
		})
	}
}
