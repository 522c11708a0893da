package telegram

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSessions(t *testing.T, dir string) *SessionStore {
	t.Helper()
	s, err := OpenSessionStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStoreLoadBeforeStore(t *testing.T) {
	s := openTestSessions(t, t.TempDir())

	_, err := s.LoadSession(context.Background())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestSessions(t, dir)

	blob := []byte(`{"dc":2,"auth_key":"secret"}`)
	require.NoError(t, s.StoreSession(context.Background(), blob))

	got, err := s.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Survives reopen.
	require.NoError(t, s.Close())
	s2 := openTestSessions(t, dir)
	got, err = s2.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestSessionStoreCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	openTestSessions(t, dir)

	_, err := os.Stat(filepath.Join(dir, "sessions", "magpie.session"))
	assert.NoError(t, err)
}

func TestPeerCacheRoundTrip(t *testing.T) {
	s := openTestSessions(t, t.TempDir())

	require.NoError(t, s.PutPeer(42, 777, "Leak Watch", "leakwatch"))

	hash, title, found, err := s.GetPeer(42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(777), hash)
	assert.Equal(t, "Leak Watch", title)
}

func TestPeerCacheMiss(t *testing.T) {
	s := openTestSessions(t, t.TempDir())

	_, _, found, err := s.GetPeer(9000)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPeerCacheOverwrite(t *testing.T) {
	s := openTestSessions(t, t.TempDir())

	require.NoError(t, s.PutPeer(42, 1, "Old", ""))
	require.NoError(t, s.PutPeer(42, 2, "New", "renamed"))

	hash, title, found, err := s.GetPeer(42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), hash)
	assert.Equal(t, "New", title)
}
