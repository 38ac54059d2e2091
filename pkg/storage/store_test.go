package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "artifacts.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PutAndGet(t *testing.T) {
	store := setupTestStore(t, time.Hour)
	ctx := context.Background()

	id, err := store.Put(ctx, "sess-1", "report.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	artifact, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", artifact.SessionID)
	assert.Equal(t, "report.csv", artifact.Filename)
	assert.Equal(t, []byte("a,b\n1,2\n"), artifact.Content)
	assert.Equal(t, int64(8), artifact.Size)
}

func TestStore_EmptyContentRejected(t *testing.T) {
	store := setupTestStore(t, time.Hour)

	_, err := store.Put(context.Background(), "sess-1", "empty.txt", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestStore_UnknownHandle(t *testing.T) {
	store := setupTestStore(t, time.Hour)

	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestStore_ExpiredArtifactInvisible(t *testing.T) {
	store := setupTestStore(t, 10*time.Millisecond)
	ctx := context.Background()

	id, err := store.Put(ctx, "sess-1", "soon-gone.txt", []byte("x"))
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestStore_ListSession(t *testing.T) {
	store := setupTestStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.Put(ctx, "sess-1", "one.txt", []byte("1"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "sess-1", "two.txt", []byte("2"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "sess-2", "other.txt", []byte("3"))
	require.NoError(t, err)

	artifacts, err := store.ListSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for _, a := range artifacts {
		assert.Equal(t, "sess-1", a.SessionID)
		assert.Nil(t, a.Content, "listing does not load content")
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	store := setupTestStore(t, 10*time.Millisecond)
	ctx := context.Background()

	_, err := store.Put(ctx, "sess-1", "a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "sess-1", "b.txt", []byte("b"))
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_DeleteSession(t *testing.T) {
	store := setupTestStore(t, time.Hour)
	ctx := context.Background()

	id, err := store.Put(ctx, "sess-1", "a.txt", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, "sess-1"))

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}
