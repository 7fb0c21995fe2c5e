package tmux

import "testing"

func TestTarget(t *testing.T) {
	tests := []struct {
		session string
		pane    string
		want    string
	}{
		{"work", "0", "work:0"},
		{"work", "", "work"},
		{"deploy-eu", "2", "deploy-eu:2"},
	}
	for _, tt := range tests {
		if got := target(tt.session, tt.pane); got != tt.want {
			t.Errorf("target(%q, %q) = %q, want %q", tt.session, tt.pane, got, tt.want)
		}
	}
}

func TestCaptureCacheInvalidation(t *testing.T) {
	m := NewMux()
	m.cacheMu.Lock()
	m.cache["work:0"] = cachedCapture{content: "stale"}
	m.cacheMu.Unlock()

	m.invalidate("work:0")

	m.cacheMu.RLock()
	_, ok := m.cache["work:0"]
	m.cacheMu.RUnlock()
	if ok {
		t.Fatal("expected cache entry to be removed")
	}
}
