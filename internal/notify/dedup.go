package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// KV is the key-value store backing the dedup cache.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error
}

// DedupCache suppresses repeat notifications for unchanged content within a
// TTL window, keyed per (session, pane).
type DedupCache struct {
	kv  KV
	ttl time.Duration
}

// NewDedupCache creates a dedup cache with the given suppression window.
func NewDedupCache(kv KV, ttl time.Duration) *DedupCache {
	return &DedupCache{kv: kv, ttl: ttl}
}

// IsDuplicate reports whether the same content hash was already seen for this
// pane within the TTL. New or changed hashes are stored (overwriting the
// prior entry) and reported as not duplicate.
//
// Backend errors fail open: silently dropping every notification during a
// cache outage is a worse failure mode than an occasional duplicate.
func (d *DedupCache) IsDuplicate(session, pane, contentHash string) bool {
	key := dedupKey(session, pane)

	prev, ok, err := d.kv.Get(key)
	if err != nil {
		notifyLog.Warn("dedup_backend_get_failed",
			slog.String("session", session),
			slog.String("pane", pane),
			slog.String("error", err.Error()))
		return false
	}
	if ok && prev == contentHash {
		return true
	}

	if err := d.kv.Set(key, contentHash, d.ttl); err != nil {
		notifyLog.Warn("dedup_backend_set_failed",
			slog.String("session", session),
			slog.String("pane", pane),
			slog.String("error", err.Error()))
	}
	return false
}

// Forget drops the stored hash for a pane, so the next completion notifies
// even when its content matches the last one seen before the reset.
func (d *DedupCache) Forget(session, pane string) {
	if err := d.kv.Delete(dedupKey(session, pane)); err != nil {
		notifyLog.Warn("dedup_backend_delete_failed",
			slog.String("session", session),
			slog.String("pane", pane),
			slog.String("error", err.Error()))
	}
}

func dedupKey(session, pane string) string {
	return "dedup:" + session + ":" + pane
}

// ContentHash returns a fixed-length hash of content, used purely for
// equality comparison.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
