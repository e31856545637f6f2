// Package config provides configuration loading for aceql.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and ACEQL_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Validate for any rejected setting.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete aceql configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Playbook     PlaybookConfig     `koanf:"playbook"`
	Episodic     EpisodicConfig     `koanf:"episodic"`
	LLM          LLMConfig          `koanf:"llm"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Database     DatabaseConfig     `koanf:"database"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Secrets      SecretsConfig      `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PlaybookConfig locates the persisted playbook document.
type PlaybookConfig struct {
	Path string `koanf:"path"`
}

// EpisodicConfig locates the append-only run log.
type EpisodicConfig struct {
	Path string `koanf:"path"`
}

// LLMConfig configures the completion service.
type LLMConfig struct {
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	APIKey      Secret        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second, 0 disables limiting
	Burst       int           `koanf:"burst"`
}

// EmbeddingsConfig configures the embedding model used by the retrieval store.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// RetrievalConfig configures the semantic retrieval store.
type RetrievalConfig struct {
	Provider   string        `koanf:"provider"` // chromem or qdrant
	Collection string        `koanf:"collection"`
	TopK       int           `koanf:"top_k"`
	Timeout    time.Duration `koanf:"timeout"`
	Chromem    ChromemConfig `koanf:"chromem"`

	// Rerank blends vector scores with query term overlap.
	Rerank bool `koanf:"rerank"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the external Qdrant store.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
	VectorSize uint64 `koanf:"vector_size"`
}

// DatabaseConfig configures the SQL execution target.
type DatabaseConfig struct {
	Driver     string        `koanf:"driver"`
	DSN        Secret        `koanf:"dsn"`
	FetchLimit int           `koanf:"fetch_limit"`
	Timeout    time.Duration `koanf:"timeout"`
}

// OrchestratorConfig tunes the orchestration cycle.
type OrchestratorConfig struct {
	TokenBudget int `koanf:"token_budget"`

	// RecoverableErrors are execution error substrings that force the
	// learning branch even if the executor reported success.
	RecoverableErrors []string `koanf:"recoverable_errors"`
}

// LoggingConfig is the subset of logging settings exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// SecretsConfig controls scrubbing of run records.
type SecretsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{
		Secrets: SecretsConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - A required path or driver is empty
//   - The retrieval provider is unknown
//   - Numeric limits are not positive
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d (must be 1-65535)", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	if c.Playbook.Path == "" {
		return fmt.Errorf("%w: playbook path required", ErrInvalidConfig)
	}
	if c.Episodic.Path == "" {
		return fmt.Errorf("%w: episodic log path required", ErrInvalidConfig)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: llm model required", ErrInvalidConfig)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm timeout must be positive", ErrInvalidConfig)
	}
	if c.LLM.RateLimit < 0 {
		return fmt.Errorf("%w: llm rate limit cannot be negative", ErrInvalidConfig)
	}
	switch c.Retrieval.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown retrieval provider %q", ErrInvalidConfig, c.Retrieval.Provider)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval top_k must be positive", ErrInvalidConfig)
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("%w: database driver required", ErrInvalidConfig)
	}
	if c.Database.FetchLimit <= 0 {
		return fmt.Errorf("%w: database fetch limit must be positive", ErrInvalidConfig)
	}
	if c.Orchestrator.TokenBudget <= 0 {
		return fmt.Errorf("%w: token budget must be positive", ErrInvalidConfig)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("%w: telemetry endpoint required when telemetry is enabled", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Playbook.Path == "" {
		cfg.Playbook.Path = "./data/playbook.json"
	}
	if cfg.Episodic.Path == "" {
		cfg.Episodic.Path = "./data/episodic_memory.jsonl"
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4.1"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = cfg.LLM.APIKey
	}

	if cfg.Retrieval.Provider == "" {
		cfg.Retrieval.Provider = "chromem"
	}
	if cfg.Retrieval.Collection == "" {
		cfg.Retrieval.Collection = "schema_knowledge"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 15 * time.Second
	}
	if cfg.Retrieval.Chromem.Path == "" {
		cfg.Retrieval.Chromem.Path = "./vector_store/chromem"
	}
	if cfg.Retrieval.Qdrant.Host == "" {
		cfg.Retrieval.Qdrant.Host = "localhost"
	}
	if cfg.Retrieval.Qdrant.Port == 0 {
		cfg.Retrieval.Qdrant.Port = 6334
	}
	if cfg.Retrieval.Qdrant.VectorSize == 0 {
		cfg.Retrieval.Qdrant.VectorSize = 1536 // text-embedding-3-small
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if !cfg.Database.DSN.IsSet() {
		cfg.Database.DSN = Secret("./data/warehouse.db")
	}
	if cfg.Database.FetchLimit == 0 {
		cfg.Database.FetchLimit = 100
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = 30 * time.Second
	}

	if cfg.Orchestrator.TokenBudget == 0 {
		cfg.Orchestrator.TokenBudget = 8000
	}
	if cfg.Orchestrator.RecoverableErrors == nil {
		cfg.Orchestrator.RecoverableErrors = []string{"operator does not exist"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "aceql"
	}
}
