// Package config loads and validates the service configuration from an
// optional YAML file (with environment expansion) merged over built-in
// defaults.
package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Provider ProviderConfig `yaml:"provider"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`
}

// EngineConfig controls the solve loop.
type EngineConfig struct {
	// MaxIters caps basic-mode iterations.
	MaxIters int `yaml:"max_iters"`

	// ProfessorMaxIters caps the enhanced-mode outer loop.
	ProfessorMaxIters int `yaml:"professor_max_iters"`

	// SpecialistMaxIters caps each specialist sub-solve.
	SpecialistMaxIters int `yaml:"specialist_max_iters"`

	// AllowContinuationFallback permits returning the best earlier iteration
	// when later iterations produce no valid output.
	AllowContinuationFallback *bool `yaml:"allow_continuation_fallback"`

	// StopTokenPattern is the literal whose standalone occurrence in
	// evaluator feedback signals convergence.
	StopTokenPattern string `yaml:"stop_token_pattern"`

	// AnswerTagPattern is the tag name whose pair delimits the extracted
	// answer value (matched case-insensitively).
	AnswerTagPattern string `yaml:"answer_tag_pattern"`

	// InvalidOutputMinWords is the minimum word count for a generator
	// output to count as valid.
	InvalidOutputMinWords int `yaml:"invalid_output_min_words"`

	// MaxRetriesPerIteration is the number of retries after the first
	// failed generation attempt (4 retries = 5 attempts total).
	MaxRetriesPerIteration int `yaml:"max_retries_per_iteration"`

	// ContextSummarizationThreshold is the fraction of the context window
	// at which older reasoning is compacted before submission.
	ContextSummarizationThreshold float64 `yaml:"context_summarization_threshold"`

	// PartialResultWrites enables per-iteration snapshots in the job store
	// when a job id and store are bound.
	PartialResultWrites *bool `yaml:"partial_result_writes"`

	// EnableAnswerConvergence turns on the three-identical-answers
	// convergence shortcut for runners.
	EnableAnswerConvergence *bool `yaml:"enable_answer_convergence"`
}

// ContinuationFallbackEnabled dereferences the fallback flag.
func (e *EngineConfig) ContinuationFallbackEnabled() bool {
	return e.AllowContinuationFallback == nil || *e.AllowContinuationFallback
}

// PartialWritesEnabled dereferences the partial-results flag.
func (e *EngineConfig) PartialWritesEnabled() bool {
	return e.PartialResultWrites == nil || *e.PartialResultWrites
}

// AnswerConvergenceEnabled dereferences the convergence-shortcut flag.
func (e *EngineConfig) AnswerConvergenceEnabled() bool {
	return e.EnableAnswerConvergence != nil && *e.EnableAnswerConvergence
}

// ProviderConfig describes the OpenAI-compatible LLM endpoint.
type ProviderConfig struct {
	// Name labels the provider in job records and logs.
	Name string `yaml:"name"`

	// BaseURL overrides the endpoint (empty means the provider default).
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the default model for all roles.
	Model string `yaml:"model"`

	// MaxRetries bounds provider-internal retries for transient failures.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the first backoff step; subsequent steps double.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RequestTimeout is the per-call deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxTokens caps completion length (0 = provider default).
	MaxTokens int `yaml:"max_tokens"`

	// ContextWindow is the model's context size in tokens, used with the
	// summarization threshold.
	ContextWindow int `yaml:"context_window"`

	// Stream requests server-sent streaming for plain completions.
	Stream *bool `yaml:"stream"`
}

// StreamingEnabled dereferences the stream flag.
func (p *ProviderConfig) StreamingEnabled() bool {
	return p.Stream == nil || *p.Stream
}

// RedisConfig describes the job store / broker backend.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`

	// JobTTL is the retention period for job hashes.
	JobTTL time.Duration `yaml:"job_ttl"`
}

// QueueConfig contains worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base delay between dequeue attempts when the
	// queue is empty.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes PollInterval to avoid thundering herds.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the hard deadline for one job. The single-flight lock
	// TTL must be at least this value.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max wait for active jobs on shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// StaleCheckInterval is how often to scan for jobs stuck in "running"
	// whose locks have expired.
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`

	// StaleThreshold is how long a running job may go without a surviving
	// lock before it is failed by the scan.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxRequestBytes bounds accepted request bodies.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
}
