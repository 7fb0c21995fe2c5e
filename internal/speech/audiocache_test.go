package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingSynth struct {
	calls int
	fail  error
}

func (s *countingSynth) Synthesize(_ context.Context, text string, _ float64) ([]byte, error) {
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	return []byte("audio:" + text), nil
}

func TestShortPhraseCachedOnSecondCall(t *testing.T) {
	inner := &countingSynth{}
	c := NewCachingSynthesizer(inner, t.TempDir(), 64)

	// "Recording started" is 17 chars, well under the threshold
	first, err := c.Synthesize(context.Background(), "Recording started", 1.0)
	require.NoError(t, err)
	second, err := c.Synthesize(context.Background(), "Recording started", 1.0)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, inner.calls, "second call must come from cache")
}

func TestLongSummaryNeverCached(t *testing.T) {
	inner := &countingSynth{}
	c := NewCachingSynthesizer(inner, t.TempDir(), 64)

	long := strings.Repeat("the deployment finished successfully ", 17) // ~600 chars

	_, err := c.Synthesize(context.Background(), long, 1.0)
	require.NoError(t, err)
	_, err = c.Synthesize(context.Background(), long, 1.0)
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls, "long text must bypass the cache")
}

func TestDifferentSpeedsAreDifferentEntries(t *testing.T) {
	inner := &countingSynth{}
	c := NewCachingSynthesizer(inner, t.TempDir(), 64)

	_, _ = c.Synthesize(context.Background(), "done", 1.0)
	_, _ = c.Synthesize(context.Background(), "done", 1.5)

	require.Equal(t, 2, inner.calls)
}

func TestEmptyDirDisablesCaching(t *testing.T) {
	inner := &countingSynth{}
	c := NewCachingSynthesizer(inner, "", 64)

	_, _ = c.Synthesize(context.Background(), "hi", 1.0)
	_, _ = c.Synthesize(context.Background(), "hi", 1.0)

	require.Equal(t, 2, inner.calls)
}

func TestCacheWriteFailureStillReturnsAudio(t *testing.T) {
	inner := &countingSynth{}
	// A file path as cache dir makes MkdirAll fail
	badDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(badDir, []byte("x"), 0o644))
	c := NewCachingSynthesizer(inner, badDir, 64)

	audio, err := c.Synthesize(context.Background(), "hi", 1.0)
	require.NoError(t, err)
	require.Equal(t, []byte("audio:hi"), audio)
}

func TestSynthesisErrorPropagates(t *testing.T) {
	inner := &countingSynth{fail: errors.New("transport down")}
	c := NewCachingSynthesizer(inner, t.TempDir(), 64)

	_, err := c.Synthesize(context.Background(), "hi", 1.0)
	require.Error(t, err)
}

func TestConfigErrorMatching(t *testing.T) {
	err := &ConfigError{Provider: "openai", Reason: "api key is not set"}
	require.True(t, IsConfigError(err))
	require.True(t, IsConfigError(wrap(err)))
	require.False(t, IsConfigError(errors.New("timeout")))
	require.Contains(t, err.Error(), "provider")
}

func wrap(err error) error {
	return errors.Join(errors.New("outer"), err)
}
