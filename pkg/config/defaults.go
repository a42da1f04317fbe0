package config

import "time"

func boolPtr(b bool) *bool { return &b }

// DefaultConfig returns the built-in defaults. Every field is set so that a
// missing or empty configuration file yields a runnable service.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxIters:                      3,
			ProfessorMaxIters:             2,
			SpecialistMaxIters:            4,
			AllowContinuationFallback:     boolPtr(true),
			StopTokenPattern:              "<stop>",
			AnswerTagPattern:              "answer",
			InvalidOutputMinWords:         10,
			MaxRetriesPerIteration:        4,
			ContextSummarizationThreshold: 0.8,
			PartialResultWrites:           boolPtr(true),
			EnableAnswerConvergence:       boolPtr(false),
		},
		Provider: ProviderConfig{
			Name:           "openai",
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "gpt-4o",
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
			RequestTimeout: 120 * time.Second,
			ContextWindow:  128000,
			Stream:         boolPtr(true),
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PasswordEnv: "REDIS_PASSWORD",
			JobTTL:      24 * time.Hour,
		},
		Queue: QueueConfig{
			WorkerCount:             5,
			PollInterval:            1 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			JobTimeout:              15 * time.Minute,
			GracefulShutdownTimeout: 15 * time.Minute,
			StaleCheckInterval:      5 * time.Minute,
			StaleThreshold:          5 * time.Minute,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
			MaxRequestBytes: 1 << 20,
		},
	}
}
