// Package config assembles the server configuration from MARLOWE_*
// environment variables.
package config

import (
	"github.com/longregen/marlowe/shared/config"
)

type Config struct {
	// HTTP listen address for the API, websocket, and metrics endpoints.
	ListenAddr string

	// Postgres connection string. Required.
	DatabaseURL string

	// Primary LLM provider (OpenAI-compatible).
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	EmbeddingModel string

	// Optional secondary provider used when the primary fails.
	SecondaryBaseURL string
	SecondaryAPIKey  string
	SecondaryModel   string

	// Bearer token required on websocket connections. Empty disables auth.
	AuthToken string

	// Offline queue capacity; messages beyond it evict the oldest
	// low-priority entry.
	QueueCapacity int

	// Tracing to stdout for local debugging.
	TraceStdout bool
}

func Load() Config {
	return Config{
		ListenAddr:  config.GetEnv("MARLOWE_LISTEN_ADDR", ":8321"),
		DatabaseURL: config.MustEnv("MARLOWE_DATABASE_URL"),

		LLMBaseURL:     config.GetEnv("MARLOWE_LLM_BASE_URL", "http://localhost:8080/v1"),
		LLMAPIKey:      config.GetEnv("MARLOWE_LLM_API_KEY", ""),
		LLMModel:       config.GetEnv("MARLOWE_LLM_MODEL", "qwen3-30b"),
		EmbeddingModel: config.GetEnv("MARLOWE_EMBEDDING_MODEL", "nomic-embed-text-v1.5"),

		SecondaryBaseURL: config.GetEnv("MARLOWE_SECONDARY_BASE_URL", ""),
		SecondaryAPIKey:  config.GetEnv("MARLOWE_SECONDARY_API_KEY", ""),
		SecondaryModel:   config.GetEnv("MARLOWE_SECONDARY_MODEL", ""),

		AuthToken: config.GetEnv("MARLOWE_AUTH_TOKEN", ""),

		QueueCapacity: config.GetEnvInt("MARLOWE_QUEUE_CAPACITY", 50),
		TraceStdout:   config.GetEnvBool("MARLOWE_TRACE_STDOUT", false),
	}
}

// HasSecondary reports whether a fallback provider is configured.
func (c Config) HasSecondary() bool {
	return c.SecondaryBaseURL != ""
}
