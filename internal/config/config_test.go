package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/persistence"
)

func TestInterpolate_ReplacesSetVariable(t *testing.T) {
	t.Setenv("DRASI_TEST_VAR", "hello")
	out, err := Interpolate("logLevel: ${DRASI_TEST_VAR}")
	require.NoError(t, err)
	assert.Equal(t, "logLevel: hello", out)
}

func TestInterpolate_FallsBackToDefault(t *testing.T) {
	require.NoError(t, os.Unsetenv("DRASI_TEST_VAR_UNSET"))
	out, err := Interpolate("logLevel: ${DRASI_TEST_VAR_UNSET:-info}")
	require.NoError(t, err)
	assert.Equal(t, "logLevel: info", out)
}

func TestInterpolate_UnsetNoDefaultFails(t *testing.T) {
	require.NoError(t, os.Unsetenv("DRASI_TEST_VAR_UNSET"))
	_, err := Interpolate("logLevel: ${DRASI_TEST_VAR_UNSET}")
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeInvalidConfig))
}

// TestValidateTopLevelFields_RejectsUnknownSnakeCaseField covers spec.md §8
// scenario (e): an unknown snake_case top-level field is rejected by name.
func TestValidateTopLevelFields_RejectsUnknownSnakeCaseField(t *testing.T) {
	raw := map[string]interface{}{"log_level": "info"}
	err := ValidateTopLevelFields(raw)
	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Contains(t, apiErr.Message, "log_level")
}

func TestValidateTopLevelFields_AcceptsCamelCase(t *testing.T) {
	raw := map[string]interface{}{"logLevel": "info", "persistConfig": true}
	assert.NoError(t, ValidateTopLevelFields(raw))
}

func TestDecodeStrict_RejectsUnknownField(t *testing.T) {
	var dst persistence.FileDTO
	_, err := DecodeStrict([]byte("log_level: info\n"), &dst)
	require.Error(t, err)
}

func TestDecodeStrict_AcceptsKnownFields(t *testing.T) {
	var dst persistence.FileDTO
	raw, err := DecodeStrict([]byte("id: default\nlogLevel: info\n"), &dst)
	require.NoError(t, err)
	assert.Equal(t, "default", dst.ID)
	assert.Equal(t, "info", raw["logLevel"])
}

func TestValidateTemplate_RejectsSyntaxError(t *testing.T) {
	err := ValidateTemplate("reaction-body", "{{ .Name ")
	require.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("reaction-body", "hello {{ .Name }}", struct{ Name string }{Name: "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

// TestValidateServerSettings_RejectsZeroPort covers spec.md §8's boundary
// behavior "Port 0 in server settings ⇒ validation error".
func TestValidateServerSettings_RejectsZeroPort(t *testing.T) {
	err := ValidateServerSettings("0.0.0.0", 0)
	require.Error(t, err)
	assert.True(t, apierrors.As(err, apierrors.CodeValidation))
}

func TestValidateServerSettings_AcceptsValidPort(t *testing.T) {
	assert.NoError(t, ValidateServerSettings("0.0.0.0", 8080))
}
