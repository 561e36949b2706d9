package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendThenRecentOldestFirst(t *testing.T) {
	s := newTestStore(t)

	for _, line := range []string{"first", "second", "third"} {
		require.NoError(t, s.Append("sess-a", line))
	}

	got, err := s.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestRecentHonorsLimit(t *testing.T) {
	s := newTestStore(t)

	for _, line := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Append("sess-a", line))
	}

	got, err := s.Recent(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, got, "limit keeps the newest lines")
}

func TestRecentForSessionFilters(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("sess-a", "from a"))
	require.NoError(t, s.Append("sess-b", "from b"))
	require.NoError(t, s.Append("sess-a", "more a"))

	got, err := s.RecentForSession("sess-a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"from a", "more a"}, got)

	got, err = s.RecentForSession("sess-b", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"from b"}, got)
}

func TestRecentOnEmptyStore(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenSeesEarlierSessions(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append("sess-a", "persisted"))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	got, err := s2.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted"}, got)
}

func TestPruneRemovesOnlyOldLines(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("sess-a", "keep me"))

	// Backdate one row past the retention window.
	_, err := s.db.Exec(
		`INSERT INTO lines (session_id, line, created_at) VALUES (?, ?, ?)`,
		"sess-a", "ancient", time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)

	removed, err := s.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := s.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep me"}, got)
}
