package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/panewatch/internal/notify"
)

func TestPostJSONRoundTrip(t *testing.T) {
	var gotAuth string
	var gotSig notify.CompletionSignal
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSig))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(notify.EnqueueResult{Status: notify.SignalAccepted, RequestID: gotSig.RequestID})
	}))
	defer ts.Close()

	addr := strings.TrimPrefix(ts.URL, "http://")
	sig := notify.CompletionSignal{Session: "work", Pane: "0", RequestID: "r1"}

	var res notify.EnqueueResult
	require.NoError(t, postJSON(addr, "secret", "/api/completion", sig, &res))
	require.Equal(t, notify.SignalAccepted, res.Status)
	require.Equal(t, "r1", res.RequestID)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "work", gotSig.Session)
}

func TestPostJSONSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"unauthorized"}}`))
	}))
	defer ts.Close()

	addr := strings.TrimPrefix(ts.URL, "http://")
	err := postJSON(addr, "", "/api/send", map[string]string{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
	require.Contains(t, err.Error(), "401")
}

func TestPostJSONConnectionRefused(t *testing.T) {
	err := postJSON("127.0.0.1:1", "", "/api/send", map[string]string{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "is the daemon running")
}
