package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvSubstitutesVariables(t *testing.T) {
	t.Setenv("SAGE_TEST_KEY", "secret-value")

	out := ExpandEnv([]byte(`api_key: "{{.SAGE_TEST_KEY}}"`))
	assert.Equal(t, `api_key: "secret-value"`, string(out))
}

func TestExpandEnvMissingVariableIsEmpty(t *testing.T) {
	out := ExpandEnv([]byte(`value: "{{.SAGE_DEFINITELY_UNSET_VAR_42}}"`))
	assert.Equal(t, `value: ""`, string(out))
}

func TestExpandEnvPreservesDollarSigns(t *testing.T) {
	in := `pattern: "^secret.*$"
password: "p@ss$word"`
	out := ExpandEnv([]byte(in))
	assert.Equal(t, in, string(out))
}

func TestExpandEnvMalformedTemplatePassthrough(t *testing.T) {
	in := `value: "{{.unclosed"`
	out := ExpandEnv([]byte(in))
	assert.Equal(t, in, string(out))
}
