package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/plugins/mock"
	"github.com/drasi-project/drasi-server/internal/plugins/noop"
)

func TestRegisterAndGetSource(t *testing.T) {
	r := New()
	r.RegisterSource(mock.Descriptor{})

	d, err := r.GetSource("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", d.Kind())
}

// TestGetSource_UnknownKind covers spec.md §8 scenario (f): a lookup miss
// names the requested kind and alphabetically enumerates registered kinds.
func TestGetSource_UnknownKind(t *testing.T) {
	r := New()
	r.RegisterSource(mock.Descriptor{})
	r.RegisterSource(noop.SourceDescriptor{})

	_, err := r.GetSource("nonexistent")
	require.Error(t, err)

	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Contains(t, apiErr.Message, "Unknown source kind")
	assert.Contains(t, apiErr.Message, "nonexistent")
	assert.Contains(t, apiErr.Message, "mock, noop")
}

func TestRegisterSource_LastWins(t *testing.T) {
	r := New()
	r.RegisterSource(mock.Descriptor{})
	r.RegisterSource(mock.Descriptor{})

	d, err := r.GetSource("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", d.Kind())
}

func TestListSourceKinds_Sorted(t *testing.T) {
	r := New()
	r.RegisterSource(noop.SourceDescriptor{})
	r.RegisterSource(mock.Descriptor{})

	assert.Equal(t, []string{"mock", "noop"}, r.ListSourceKinds())
}

func TestGetReaction_UnknownKind(t *testing.T) {
	r := New()
	r.RegisterReaction(noop.ReactionDescriptor{})

	_, err := r.GetReaction("missing")
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}

func TestGetBootstrapper_UnknownKind(t *testing.T) {
	r := New()
	_, err := r.GetBootstrapper("missing")
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}

func TestSourceInfos(t *testing.T) {
	r := New()
	r.RegisterSource(mock.Descriptor{})

	infos := r.SourceInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, "mock", infos[0].Kind)
	assert.Equal(t, 1, infos[0].ConfigVersion)
}
