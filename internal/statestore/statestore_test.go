package statestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBolt_PutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get("query-x", "checkpoint")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put("query-x", "checkpoint", []byte("42")))

	val, ok, err := store.Get("query-x", "checkpoint")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("42"), val)

	require.NoError(t, store.Delete("query-x", "checkpoint"))
	_, ok, err = store.Get("query-x", "checkpoint")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenBolt_NamespacesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("ns-a", "key", []byte("a")))
	require.NoError(t, store.Put("ns-b", "key", []byte("b")))

	valA, _, err := store.Get("ns-a", "key")
	require.NoError(t, err)
	valB, _, err := store.Get("ns-b", "key")
	require.NoError(t, err)

	assert.Equal(t, []byte("a"), valA)
	assert.Equal(t, []byte("b"), valB)
}

func TestOpenBolt_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("ns", "key", []byte("value")))
	require.NoError(t, store.Close())

	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	defer reopened.Close()

	val, ok, err := reopened.Get("ns", "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), val)
}
