package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/panewatch/internal/logging"
)

var speechLog = logging.ForComponent(logging.CompSpeech)

// CachingSynthesizer wraps a Synthesizer with a content-addressed file cache.
// Only text at or below MaxPhraseLength is cached: session labels and short
// status phrases repeat constantly, while long unique summaries would only
// grow the cache without ever hitting. Cache errors fail silent; a fresh
// synthesis is always returned.
type CachingSynthesizer struct {
	inner           Synthesizer
	dir             string
	maxPhraseLength int
}

// NewCachingSynthesizer creates the cache wrapper. An empty dir disables
// caching entirely.
func NewCachingSynthesizer(inner Synthesizer, dir string, maxPhraseLength int) *CachingSynthesizer {
	return &CachingSynthesizer{inner: inner, dir: dir, maxPhraseLength: maxPhraseLength}
}

// Synthesize returns cached audio when available, otherwise synthesizes and
// caches eligible phrases.
func (c *CachingSynthesizer) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	cacheable := c.dir != "" && len(text) <= c.maxPhraseLength

	var path string
	if cacheable {
		path = filepath.Join(c.dir, c.cacheKey(text, speed)+".audio")
		if audio, err := os.ReadFile(path); err == nil {
			return audio, nil
		}
	}

	audio, err := c.inner.Synthesize(ctx, text, speed)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := c.store(path, audio); err != nil {
			speechLog.Warn("audio_cache_write_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return audio, nil
}

// cacheKey hashes text and speed; the same phrase at a different speed is
// different audio.
func (c *CachingSynthesizer) cacheKey(text string, speed float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%.2f", text, speed)))
	return hex.EncodeToString(h[:])
}

func (c *CachingSynthesizer) store(path string, audio []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, audio, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
