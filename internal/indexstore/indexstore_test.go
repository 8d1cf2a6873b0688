package indexstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"default", "default"},
		{"tenant/prod", "tenant_prod"},
		{`tenant\prod`, "tenant_prod"},
		{"../escape", "__escape"},
		{"..", "_"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeID(tc.in), "input %q", tc.in)
	}
}

func TestDirFor(t *testing.T) {
	got := DirFor("data", "tenant/prod")
	assert.Equal(t, filepath.Join("data", "tenant_prod", "index"), got)
}

func TestSaveLoadSnapshotRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	rows := map[string]component.ResultRow{
		"a": {"name": "Alpha"},
		"b": {"name": "Beta"},
	}
	require.NoError(t, store.SaveSnapshot("item-names", rows))

	loaded, found, err := store.LoadSnapshot("item-names")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rows, loaded)
}

func TestLoadSnapshot_MissingQuery(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.LoadSnapshot("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot("q", map[string]component.ResultRow{"c": {"name": "Gamma"}}))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	rows, found, err := reopened.LoadSnapshot("q")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Gamma", rows["c"]["name"])
}
