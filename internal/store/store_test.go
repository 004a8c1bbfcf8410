package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckpointAndColdLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	body := []byte(`{"currentRoom":2,"timeLeft":540,"gamePhase":"active"}`)
	require.NoError(t, s.Checkpoint(ctx, "alpha", body))

	loaded, found, err := s.ColdLoad(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, body, loaded)
}

func TestColdLoadMissingSession(t *testing.T) {
	s := openTestStore(t)

	loaded, found, err := s.ColdLoad(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, loaded)
}

func TestCheckpointBumpsVersionAndChecksum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []byte(`{"currentRoom":1,"timeLeft":600,"gamePhase":"briefing"}`)
	require.NoError(t, s.Checkpoint(ctx, "alpha", first))

	rec, found, err := s.LoadRecord(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), rec.SnapshotVersion)
	sum := sha256.Sum256(first)
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.Checksum)

	second := []byte(`{"currentRoom":2,"timeLeft":500,"gamePhase":"active"}`)
	require.NoError(t, s.Checkpoint(ctx, "alpha", second))

	rec, found, err = s.LoadRecord(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), rec.SnapshotVersion)
	sum = sha256.Sum256(second)
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.Checksum)

	loaded, found, err := s.ColdLoad(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second, loaded)
}

func TestJoinCodeIssuedOnceAndStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Checkpoint(ctx, "alpha", []byte(`{}`)))
	rec, found, err := s.LoadRecord(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, rec.JoinCode, 8)
	assert.Equal(t, "active", rec.Status)

	// Subsequent checkpoints keep the original code.
	require.NoError(t, s.Checkpoint(ctx, "alpha", []byte(`{"currentRoom":1}`)))
	after, _, err := s.LoadRecord(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, rec.JoinCode, after.JoinCode)

	// Distinct sessions get distinct codes.
	require.NoError(t, s.Checkpoint(ctx, "beta", []byte(`{}`)))
	other, _, err := s.LoadRecord(ctx, "beta")
	require.NoError(t, err)
	assert.NotEqual(t, rec.JoinCode, other.JoinCode)
}

func TestAppendEventAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, "alpha", "join", []byte(`{"role":"navigator"}`)))
	require.NoError(t, s.AppendEvent(ctx, "alpha", "state_diff_patch", []byte(`{"currentRoom":2}`)))
	require.NoError(t, s.AppendEvent(ctx, "beta", "chat", []byte(`{"message":"hi"}`)))

	n, err := s.EventCount(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.EventCount(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(context.Background(), "alpha", []byte(`{}`)))
	require.NoError(t, s.Close())

	// Reopening applies the schema again and keeps existing rows.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.ColdLoad(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, found)
}
