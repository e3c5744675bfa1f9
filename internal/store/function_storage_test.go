package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *FunctionStorage {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewFunctionStorage(db)
}

func TestFunctionStorageSetGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "k1", []byte("v1"), 0))
	v, err := s.Get(ctx, "owner-1", "fn-1", "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}

func TestFunctionStorageGetMissingReturnsNil(t *testing.T) {
	s := newTestStorage(t)
	v, err := s.Get(context.Background(), "owner-1", "fn-1", "absent")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestFunctionStorageNamespaceIsolation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "k", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "owner-1", "fn-2", "k", []byte("b"), 0))
	require.NoError(t, s.Set(ctx, "owner-2", "fn-1", "k", []byte("c"), 0))

	v1, err := s.Get(ctx, "owner-1", "fn-1", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), v1)

	v2, err := s.Get(ctx, "owner-1", "fn-2", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), v2)

	v3, err := s.Get(ctx, "owner-2", "fn-1", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("c"), v3)
}

func TestFunctionStorageDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "k", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "owner-1", "fn-1", "k"))

	v, err := s.Get(ctx, "owner-1", "fn-1", "k")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestFunctionStorageTTLExpiry(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "k", []byte("v"), 1))
	time.Sleep(1200 * time.Millisecond)

	v, err := s.Get(ctx, "owner-1", "fn-1", "k")
	require.NoError(t, err)
	require.Nil(t, v)

	// the lazy Get above should have deleted the expired entry outright.
	keys, err := s.List(ctx, "owner-1", "fn-1", "", 10)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFunctionStorageList(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "a/1", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "a/2", []byte("2"), 0))
	require.NoError(t, s.Set(ctx, "owner-1", "fn-1", "b/1", []byte("3"), 0))

	keys, err := s.List(ctx, "owner-1", "fn-1", "a/", 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a/1", "a/2"}, keys)
}

func TestFunctionStorageListRespectsLimit(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, "owner-1", "fn-1", string(rune('a'+i)), []byte("v"), 0))
	}

	keys, err := s.List(ctx, "owner-1", "fn-1", "", 3)
	require.NoError(t, err)
	require.Len(t, keys, 3)
}
