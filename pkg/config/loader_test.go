package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitializeMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxIters)
	assert.Equal(t, 2, cfg.Engine.ProfessorMaxIters)
	assert.Equal(t, 4, cfg.Engine.SpecialistMaxIters)
	assert.Equal(t, "<stop>", cfg.Engine.StopTokenPattern)
	assert.Equal(t, "answer", cfg.Engine.AnswerTagPattern)
	assert.Equal(t, 10, cfg.Engine.InvalidOutputMinWords)
	assert.Equal(t, 4, cfg.Engine.MaxRetriesPerIteration)
	assert.Equal(t, 0.8, cfg.Engine.ContextSummarizationThreshold)
	assert.True(t, cfg.Engine.ContinuationFallbackEnabled())
	assert.True(t, cfg.Engine.PartialWritesEnabled())
	assert.False(t, cfg.Engine.AnswerConvergenceEnabled())
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, 5, cfg.Queue.WorkerCount)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestInitializePartialFileMergesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  max_iters: 7
  allow_continuation_fallback: false
provider:
  model: gpt-4o-mini
queue:
  worker_count: 2
`)

	cfg, err := Initialize(path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, 7, cfg.Engine.MaxIters)
	assert.False(t, cfg.Engine.ContinuationFallbackEnabled())
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)

	// Defaults preserved for unset fields.
	assert.Equal(t, 2, cfg.Engine.ProfessorMaxIters)
	assert.Equal(t, "<stop>", cfg.Engine.StopTokenPattern)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
}

func TestInitializeExpandsEnv(t *testing.T) {
	t.Setenv("SAGE_TEST_BASE_URL", "https://llm.internal:8443/v1")
	path := writeConfigFile(t, `
provider:
  base_url: "{{.SAGE_TEST_BASE_URL}}"
`)

	cfg, err := Initialize(path)
	require.NoError(t, err)
	assert.Equal(t, "https://llm.internal:8443/v1", cfg.Provider.BaseURL)
}

func TestInitializeInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "engine: [not: a: map")

	_, err := Initialize(path)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  context_summarization_threshold: 3.5
`)

	_, err := Initialize(path)
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "engine", vErr.Section)
	assert.Equal(t, "context_summarization_threshold", vErr.Field)
}
