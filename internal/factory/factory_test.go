package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/plugins/mock"
	"github.com/drasi-project/drasi-server/internal/plugins/noop"
	"github.com/drasi-project/drasi-server/internal/registry"
)

// TestCreateSource_ResultKindMatchesRequestedKind covers spec.md §8
// invariant 5: a created component's Kind() matches the requested kind.
func TestCreateSource_ResultKindMatchesRequestedKind(t *testing.T) {
	reg := registry.New()
	reg.RegisterSource(mock.Descriptor{})

	src, err := CreateSource(reg, SourceConfig{Kind: "mock", ID: "items"})
	require.NoError(t, err)
	assert.Equal(t, "mock", src.Kind())
	assert.Equal(t, "items", src.ID())
}

// TestCreateSource_UnknownKind covers spec.md §8 scenario (f) at the
// factory boundary.
func TestCreateSource_UnknownKind(t *testing.T) {
	reg := registry.New()
	reg.RegisterSource(mock.Descriptor{})

	_, err := CreateSource(reg, SourceConfig{Kind: "nonexistent", ID: "x"})
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}

func TestCreateReaction_ResultKindMatchesRequestedKind(t *testing.T) {
	reg := registry.New()
	reg.RegisterReaction(noop.ReactionDescriptor{})

	r, err := CreateReaction(reg, ReactionConfig{Kind: "noop", ID: "r1", Queries: []string{"q1"}})
	require.NoError(t, err)
	assert.Equal(t, "noop", r.Kind())
	assert.Equal(t, []string{"q1"}, r.QueryIDs())
}

func TestCreateReaction_UnknownKind(t *testing.T) {
	reg := registry.New()
	_, err := CreateReaction(reg, ReactionConfig{Kind: "nonexistent", ID: "r1"})
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}

func TestCreateStateStoreProvider_UnknownKind(t *testing.T) {
	_, err := CreateStateStoreProvider(StateStoreConfig{Kind: "dynamodb", Path: "/tmp/x"})
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}
