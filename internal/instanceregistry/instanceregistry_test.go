package instanceregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/instance"
)

func TestAddGetRemove(t *testing.T) {
	r := New()
	inst := instance.New("default", nil, false, 64, 64)

	require.NoError(t, r.Add(inst))
	assert.Equal(t, 1, r.Len())

	got, err := r.Get("default")
	require.NoError(t, err)
	assert.Same(t, inst, got)

	require.NoError(t, r.Remove("default"))
	assert.Equal(t, 0, r.Len())

	_, err = r.Get("default")
	require.Error(t, err)
}

func TestAdd_DuplicateRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(instance.New("default", nil, false, 64, 64)))

	err := r.Add(instance.New("default", nil, false, 64, 64))
	require.Error(t, err)
}

func TestGetDefault_ReturnsFirstInserted(t *testing.T) {
	r := New()
	first := instance.New("first", nil, false, 64, 64)
	second := instance.New("second", nil, false, 64, 64)

	require.NoError(t, r.Add(first))
	require.NoError(t, r.Add(second))

	def, err := r.GetDefault()
	require.NoError(t, err)
	assert.Same(t, first, def)
}

func TestGetDefault_EmptyRegistryFails(t *testing.T) {
	r := New()
	_, err := r.GetDefault()
	require.Error(t, err)
}

func TestList_PreservesInsertionOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(instance.New("b", nil, false, 64, 64)))
	require.NoError(t, r.Add(instance.New("a", nil, false, 64, 64)))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
}
