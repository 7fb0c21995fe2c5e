package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
	"github.com/asheshgoplani/panewatch/internal/notify"
)

type fakeService struct {
	mu           sync.Mutex
	state        notify.State
	sendResult   notify.SendResult
	signalStatus string
	signals      []notify.CompletionSignal
	cleared      [][2]string
}

func (f *fakeService) GetState(_ context.Context, _, _ string) notify.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeService) Send(_ context.Context, _, _, _ string) notify.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendResult
}

func (f *fakeService) ClearHistory(session, pane string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, [2]string{session, pane})
}

func (f *fakeService) OnCompletionSignal(_ context.Context, sig notify.CompletionSignal) notify.EnqueueResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	status := f.signalStatus
	if status == "" {
		status = notify.SignalAccepted
	}
	return notify.EnqueueResult{Status: status, RequestID: sig.RequestID}
}

func (f *fakeService) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func newTestServer(t *testing.T, cfg Config, svc *fakeService) (*Server, *httptest.Server) {
	t.Helper()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)

	srv := NewServer(cfg, svc, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, Config{}, &fakeService{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["ok"])
}

func TestStateRequiresParams(t *testing.T) {
	_, ts := newTestServer(t, Config{}, &fakeService{})

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateReturnsServiceState(t *testing.T) {
	svc := &fakeService{state: notify.State{Output: "hello", IsActive: true}}
	_, ts := newTestServer(t, Config{}, svc)

	resp, err := http.Get(ts.URL + "/api/state?session=work&pane=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st notify.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "hello", st.Output)
	require.True(t, st.IsActive)
}

func TestTokenAuth(t *testing.T) {
	_, ts := newTestServer(t, Config{Token: "secret"}, &fakeService{})

	resp, err := http.Get(ts.URL + "/api/state?session=work&pane=0")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/state?session=work&pane=0", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/state?session=work&pane=0&token=secret")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/state?session=work&pane=0&token=wrong")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendReadOnly(t *testing.T) {
	_, ts := newTestServer(t, Config{ReadOnly: true}, &fakeService{})

	body := bytes.NewBufferString(`{"session":"work","pane":"0","text":"ls"}`)
	resp, err := http.Post(ts.URL+"/api/send", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendSuccess(t *testing.T) {
	svc := &fakeService{sendResult: notify.SendResult{Success: true, Message: "sent"}}
	_, ts := newTestServer(t, Config{}, svc)

	body := bytes.NewBufferString(`{"session":"work","pane":"0","text":"ls"}`)
	resp, err := http.Post(ts.URL+"/api/send", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res notify.SendResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.True(t, res.Success)
}

func TestSendDeliveryFailure(t *testing.T) {
	svc := &fakeService{sendResult: notify.SendResult{Success: false, Message: "session not found"}}
	_, ts := newTestServer(t, Config{}, svc)

	body := bytes.NewBufferString(`{"session":"work","pane":"0","text":"ls"}`)
	resp, err := http.Post(ts.URL+"/api/send", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCompletionAccepted(t *testing.T) {
	svc := &fakeService{}
	_, ts := newTestServer(t, Config{}, svc)

	body := bytes.NewBufferString(`{"session":"work","pane":"0","output":"done","request_id":"r1"}`)
	resp, err := http.Post(ts.URL+"/api/completion", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var res notify.EnqueueResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Equal(t, notify.SignalAccepted, res.Status)
	require.Equal(t, "r1", res.RequestID)
	require.Equal(t, 1, svc.signalCount())
}

func TestCompletionRejectedMapsToUnavailable(t *testing.T) {
	svc := &fakeService{signalStatus: notify.SignalRejected}
	_, ts := newTestServer(t, Config{}, svc)

	body := bytes.NewBufferString(`{"session":"work","pane":"0"}`)
	resp, err := http.Post(ts.URL+"/api/completion", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCompletionRequiresSessionAndPane(t *testing.T) {
	svc := &fakeService{}
	_, ts := newTestServer(t, Config{}, svc)

	body := bytes.NewBufferString(`{"output":"done"}`)
	resp, err := http.Post(ts.URL+"/api/completion", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, svc.signalCount())
}

func TestClear(t *testing.T) {
	svc := &fakeService{}
	_, ts := newTestServer(t, Config{}, svc)

	body := bytes.NewBufferString(`{"session":"work","pane":"0"}`)
	resp, err := http.Post(ts.URL+"/api/clear", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, [][2]string{{"work", "0"}}, svc.cleared)
}

func TestPushConfigDisabled(t *testing.T) {
	_, ts := newTestServer(t, Config{}, &fakeService{})

	resp, err := http.Get(ts.URL + "/api/push/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg pushConfigResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	require.False(t, cfg.Enabled)
}

func TestPushSubscribeNotConfigured(t *testing.T) {
	_, ts := newTestServer(t, Config{}, &fakeService{})

	body := bytes.NewBufferString(`{"endpoint":"https://push.example/e1","keys":{"p256dh":"k","auth":"a"}}`)
	resp, err := http.Post(ts.URL+"/api/push/subscribe", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
