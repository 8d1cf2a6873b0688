package configvalue

import (
	"os"
	"testing"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolve_Static(t *testing.T) {
	v := Static("literal")
	got, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "literal", got)
}

func TestResolve_EnvironmentVariable_SetWins(t *testing.T) {
	t.Setenv("TEST_HOST", "db.example.com")
	def := "127.0.0.1"
	v := EnvironmentVariable("TEST_HOST", &def)

	got, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", got)
}

func TestResolve_EnvironmentVariable_UnsetFallsBackToDefault(t *testing.T) {
	require.NoError(t, os.Unsetenv("TEST_HOST"))
	def := "127.0.0.1"
	v := EnvironmentVariable("TEST_HOST", &def)

	got, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", got)
}

func TestResolve_EnvironmentVariable_EmptyCountsAsUnset(t *testing.T) {
	t.Setenv("TEST_HOST", "")
	def := "127.0.0.1"
	v := EnvironmentVariable("TEST_HOST", &def)

	got, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", got)
}

func TestResolve_EnvironmentVariable_UnsetNoDefaultFails(t *testing.T) {
	require.NoError(t, os.Unsetenv("TEST_HOST_MISSING"))
	v := EnvironmentVariable("TEST_HOST_MISSING", nil)

	_, err := v.Resolve(nil)
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeValidation))
}

type fakeSecrets struct {
	values map[string]string
}

func (f fakeSecrets) ResolveSecret(name string) (string, error) {
	v, ok := f.values[name]
	if !ok {
		return "", assert.AnError
	}
	return v, nil
}

func TestResolve_Secret(t *testing.T) {
	v := Secret("db-password")
	secrets := fakeSecrets{values: map[string]string{"db-password": "hunter2"}}

	got, err := v.Resolve(secrets)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestResolve_Secret_NoResolverFails(t *testing.T) {
	v := Secret("db-password")

	_, err := v.Resolve(nil)
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeValidation))
}

func TestResolve_Secret_LookupFailureFails(t *testing.T) {
	v := Secret("missing")
	secrets := fakeSecrets{values: map[string]string{}}

	_, err := v.Resolve(secrets)
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeValidation))
}

func TestResolveInt(t *testing.T) {
	v := Static("42")
	n, err := v.ResolveInt(nil)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestResolveInt_NotAnInteger(t *testing.T) {
	v := Static("nope")
	_, err := v.ResolveInt(nil)
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}

func TestResolveBool(t *testing.T) {
	v := Static("true")
	b, err := v.ResolveBool(nil)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestUnmarshalYAML_Literal(t *testing.T) {
	var v Value
	require.NoError(t, yaml.Unmarshal([]byte(`"127.0.0.1"`), &v))
	assert.Equal(t, KindStatic, v.Kind())

	got, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", got)
}

func TestUnmarshalYAML_Environment(t *testing.T) {
	var v Value
	require.NoError(t, yaml.Unmarshal([]byte(`{env: TEST_HOST, default: "127.0.0.1"}`), &v))
	assert.Equal(t, KindEnvironmentVariable, v.Kind())
}

func TestUnmarshalYAML_Secret(t *testing.T) {
	var v Value
	require.NoError(t, yaml.Unmarshal([]byte(`{secret: db-password}`), &v))
	assert.Equal(t, KindSecret, v.Kind())
}

func TestUnmarshalYAML_InvalidShape(t *testing.T) {
	var v Value
	err := yaml.Unmarshal([]byte(`{foo: bar}`), &v)
	require.Error(t, err)
}

func TestMarshalYAML_RoundTrip(t *testing.T) {
	def := "127.0.0.1"
	v := EnvironmentVariable("TEST_HOST", &def)

	out, err := yaml.Marshal(v)
	require.NoError(t, err)

	var roundTripped Value
	require.NoError(t, yaml.Unmarshal(out, &roundTripped))
	assert.Equal(t, KindEnvironmentVariable, roundTripped.Kind())

	got, err := roundTripped.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", got)
}
