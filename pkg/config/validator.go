package config

import "fmt"

// Validate performs comprehensive validation, failing fast at the first
// invalid field.
func Validate(cfg *Config) error {
	if err := validateEngine(&cfg.Engine); err != nil {
		return err
	}
	if err := validateProvider(&cfg.Provider); err != nil {
		return err
	}
	if err := validateRedis(&cfg.Redis); err != nil {
		return err
	}
	if err := validateQueue(&cfg.Queue); err != nil {
		return err
	}
	return validateServer(&cfg.Server)
}

func validateEngine(e *EngineConfig) error {
	if e.MaxIters < 1 {
		return NewValidationError("engine", "max_iters", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, e.MaxIters))
	}
	if e.ProfessorMaxIters < 1 {
		return NewValidationError("engine", "professor_max_iters", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, e.ProfessorMaxIters))
	}
	if e.SpecialistMaxIters < 1 {
		return NewValidationError("engine", "specialist_max_iters", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, e.SpecialistMaxIters))
	}
	if e.StopTokenPattern == "" {
		return NewValidationError("engine", "stop_token_pattern", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if e.AnswerTagPattern == "" {
		return NewValidationError("engine", "answer_tag_pattern", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if e.InvalidOutputMinWords < 1 {
		return NewValidationError("engine", "invalid_output_min_words", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, e.InvalidOutputMinWords))
	}
	if e.MaxRetriesPerIteration < 0 {
		return NewValidationError("engine", "max_retries_per_iteration", fmt.Errorf("%w: must be >= 0, got %d", ErrInvalidValue, e.MaxRetriesPerIteration))
	}
	if e.ContextSummarizationThreshold <= 0 || e.ContextSummarizationThreshold > 1 {
		return NewValidationError("engine", "context_summarization_threshold", fmt.Errorf("%w: must be in (0, 1], got %v", ErrInvalidValue, e.ContextSummarizationThreshold))
	}
	return nil
}

func validateProvider(p *ProviderConfig) error {
	if p.Name == "" {
		return NewValidationError("provider", "name", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if p.Model == "" {
		return NewValidationError("provider", "model", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if p.MaxRetries < 0 {
		return NewValidationError("provider", "max_retries", fmt.Errorf("%w: must be >= 0, got %d", ErrInvalidValue, p.MaxRetries))
	}
	if p.RequestTimeout <= 0 {
		return NewValidationError("provider", "request_timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, p.RequestTimeout))
	}
	if p.ContextWindow < 1 {
		return NewValidationError("provider", "context_window", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, p.ContextWindow))
	}
	return nil
}

func validateRedis(r *RedisConfig) error {
	if r.Addr == "" {
		return NewValidationError("redis", "addr", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if r.JobTTL <= 0 {
		return NewValidationError("redis", "job_ttl", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, r.JobTTL))
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, q.WorkerCount))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, q.PollInterval))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter", fmt.Errorf("%w: must be in [0, poll_interval), got %v", ErrInvalidValue, q.PollIntervalJitter))
	}
	if q.JobTimeout <= 0 {
		return NewValidationError("queue", "job_timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, q.JobTimeout))
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.ListenAddr == "" {
		return NewValidationError("server", "listen_addr", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if s.MaxRequestBytes < 1 {
		return NewValidationError("server", "max_request_bytes", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, s.MaxRequestBytes))
	}
	return nil
}
