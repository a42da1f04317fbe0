package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveChildJobID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := DeriveChildJobID("job-1", "number theory", "factor 91")
		b := DeriveChildJobID("job-1", "number theory", "factor 91")
		assert.Equal(t, a, b)
	})

	t.Run("distinct tasks yield distinct ids", func(t *testing.T) {
		a := DeriveChildJobID("job-1", "number theory", "factor 91")
		b := DeriveChildJobID("job-1", "number theory", "factor 93")
		assert.NotEqual(t, a, b)
	})

	t.Run("shape", func(t *testing.T) {
		id := DeriveChildJobID("job-1", "Number Theory", "factor 91")
		parts := strings.Split(id, ":")
		assert.Equal(t, []string{"job-1", "spec", "number-theory"}, parts[:3])
		assert.Len(t, parts[3], 8)
	})
}

func TestSanitizeSpecialization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"number theory", "number-theory"},
		{"Organic Chemistry", "organic-chemistry"},
		{"  spaced  out  ", "spaced-out"},
		{"C++ & systems!", "c-systems"},
		{"already-clean", "already-clean"},
		{"trailing!!!", "trailing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeSpecialization(tt.in), "input %q", tt.in)
	}
}
