package csek

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/recoverykit/sealer"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := kvdb.Create(
		kvdb.BoltBackendName, filepath.Join(t.TempDir(), "csek.db"),
		true, kvdb.DefaultDBTimeout, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	store, err := NewStore(db)
	require.NoError(t, err)

	return store
}

// TestGenerate checks that generated keys are sealing keys and unique.
func TestGenerate(t *testing.T) {
	t.Parallel()

	a, err := Generate()
	require.NoError(t, err)
	require.Len(t, a, sealer.KeySize)

	b, err := Generate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

// TestStore checks put, get, replace and delete of sealed keys.
func TestStore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	created := time.Unix(1_700_000_000, 42)

	got, err := store.Get("attempt-1")
	require.NoError(t, err)
	require.True(t, got.IsNone())

	first := &Sealed{Key: []byte{1, 2, 3}, CreatedAt: created}
	require.NoError(t, store.Put("attempt-1", first))

	got, err = store.Get("attempt-1")
	require.NoError(t, err)
	sealed := got.UnwrapOr(Sealed{})
	require.Equal(t, first.Key, sealed.Key)
	require.True(t, created.Equal(sealed.CreatedAt))

	second := &Sealed{Key: []byte{4, 5}, CreatedAt: created}
	require.NoError(t, store.Put("attempt-1", second))
	got, err = store.Get("attempt-1")
	require.NoError(t, err)
	require.Equal(t, second.Key, got.UnwrapOr(Sealed{}).Key)

	require.NoError(t, store.Delete("attempt-1"))
	got, err = store.Get("attempt-1")
	require.NoError(t, err)
	require.True(t, got.IsNone())

	require.NoError(t, store.Delete("attempt-1"))
	require.ErrorIs(t, store.Put("", first), ErrEmptyAttemptID)
}
