package statedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *StateDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKVRoundTrip(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Set("k", "v1", 0))
	v, ok, err := db.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	// Overwrite
	require.NoError(t, db.Set("k", "v2", 0))
	v, ok, _ = db.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v)

	require.NoError(t, db.Delete("k"))
	_, ok, _ = db.Get("k")
	require.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	db := openTestDB(t)

	base := time.Now()
	db.now = func() time.Time { return base }
	require.NoError(t, db.Set("k", "v", 10*time.Second))

	_, ok, err := db.Get("k")
	require.NoError(t, err)
	require.True(t, ok, "entry must be visible before expiry")

	db.now = func() time.Time { return base.Add(11 * time.Second) }
	_, ok, err = db.Get("k")
	require.NoError(t, err)
	require.False(t, ok, "entry must be gone after expiry")
}

func TestZeroTTLNeverExpires(t *testing.T) {
	db := openTestDB(t)

	base := time.Now()
	db.now = func() time.Time { return base }
	require.NoError(t, db.Set("k", "v", 0))

	db.now = func() time.Time { return base.Add(1000 * time.Hour) }
	_, ok, err := db.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)

	base := time.Now()
	db.now = func() time.Time { return base }
	require.NoError(t, db.Set("expired", "v", time.Second))
	require.NoError(t, db.Set("fresh", "v", time.Hour))
	require.NoError(t, db.Set("forever", "v", 0))

	db.now = func() time.Time { return base.Add(time.Minute) }
	n, err := db.Prune()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, ok, _ := db.Get("fresh")
	require.True(t, ok)
	_, ok, _ = db.Get("forever")
	require.True(t, ok)
}

func TestPrunePeriodicallyRemovesExpiredRows(t *testing.T) {
	db := openTestDB(t)

	base := time.Now()
	db.now = func() time.Time { return base }
	require.NoError(t, db.Set("expired", "v", time.Second))
	require.NoError(t, db.Set("forever", "v", 0))
	db.now = func() time.Time { return base.Add(time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go db.PrunePeriodically(ctx, 5*time.Millisecond)

	rowCount := func(key string) int {
		var n int
		require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE key = ?`, key).Scan(&n))
		return n
	}
	require.Eventually(t, func() bool { return rowCount("expired") == 0 },
		time.Second, 10*time.Millisecond, "expired row must be reclaimed")
	require.Equal(t, 1, rowCount("forever"))
}
