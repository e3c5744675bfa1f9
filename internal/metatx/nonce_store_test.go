package metatx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/store"
)

func newTestNonceStore(t *testing.T) *NonceStore {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewNonceStore(db)
}

func TestNonceStoreNextStartsAtOne(t *testing.T) {
	s := newTestNonceStore(t)
	n, err := s.Next("neo3", "sender-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestNonceStoreAdvanceAndNext(t *testing.T) {
	s := newTestNonceStore(t)
	unlock := s.Lock("neo3", "sender-1")
	require.NoError(t, s.Advance("neo3", "sender-1", 5))
	unlock()

	current, err := s.Current("neo3", "sender-1")
	require.NoError(t, err)
	require.Equal(t, uint64(5), current)

	next, err := s.Next("neo3", "sender-1")
	require.NoError(t, err)
	require.Equal(t, uint64(6), next)
}
