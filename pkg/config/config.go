// Package config loads and validates the service configuration:
// vigia.yaml plus environment overrides, merged over built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the umbrella configuration object returned by Initialize
// and passed to every component at wiring time.
type Config struct {
	configDir string

	Server        *ServerConfig        `yaml:"server"`
	LLM           *LLMConfig           `yaml:"llm"`
	Federation    *FederationConfig    `yaml:"federation"`
	Breaker       *BreakerConfig       `yaml:"circuit_breaker"`
	Agents        *AgentsConfig        `yaml:"agents"`
	Stream        *StreamConfig        `yaml:"stream"`
	Queue         *QueueConfig         `yaml:"queue"`
	Cache         *CacheConfig         `yaml:"cache"`
	Investigation *InvestigationConfig `yaml:"investigation"`
	Retention     *RetentionConfig     `yaml:"retention"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig selects the language-model backend. Provider may be empty,
// in which case the rule-based classifier and template reporter run
// without a model.
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BackupName string `yaml:"backup_provider"`
}

// FederationConfig tunes the data-federation executor.
type FederationConfig struct {
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	TransparencyKey string        `yaml:"-"` // from TRANSPARENCY_API_KEY only
	DemoMode        bool          `yaml:"demo_mode"`
}

// BreakerConfig tunes per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// AgentsConfig tunes the agent pool and reflection loop.
type AgentsConfig struct {
	MaxPerType          int           `yaml:"max_per_type"`
	ProcessTimeout      time.Duration `yaml:"process_timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	ReflectionCycles    int           `yaml:"reflection_cycles"`
}

// StreamConfig tunes the SSE protocol.
type StreamConfig struct {
	TextChunkWords  int           `yaml:"text_chunk_words"`
	AudioChunkBytes int           `yaml:"audio_chunk_bytes"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	BufferSize      int           `yaml:"buffer_size"`
}

// QueueConfig tunes the investigation worker pool.
type QueueConfig struct {
	Workers           int           `yaml:"workers"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

// CacheConfig selects the cache backend. BackendURL empty means
// memory-only.
type CacheConfig struct {
	BackendURL string        `yaml:"backend_url"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MemorySize int           `yaml:"memory_size"`
}

// InvestigationConfig bounds a whole investigation.
type InvestigationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// RetentionConfig governs durable-store cleanup.
type RetentionConfig struct {
	EpisodicRetentionDays int           `yaml:"episodic_retention_days"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
}

// Default returns the built-in configuration. YAML and environment
// overrides are merged on top of this.
func Default() *Config {
	return &Config{
		Server: &ServerConfig{Host: "0.0.0.0", Port: 8080},
		LLM:    &LLMConfig{APIKeyEnv: "LLM_API_KEY"},
		Federation: &FederationConfig{
			FetchTimeout:   10 * time.Second,
			RetryAttempts:  3,
			RetryBaseDelay: 100 * time.Millisecond,
			RetryMaxDelay:  5 * time.Second,
		},
		Breaker: &BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			Cooldown:         30 * time.Second,
		},
		Agents: &AgentsConfig{
			MaxPerType:          4,
			ProcessTimeout:      60 * time.Second,
			ConfidenceThreshold: 0.7,
			ReflectionCycles:    1,
		},
		Stream: &StreamConfig{
			TextChunkWords:  5,
			AudioChunkBytes: 4096,
			IdleTimeout:     30 * time.Second,
			BufferSize:      64,
		},
		Queue: &QueueConfig{
			Workers:           4,
			PollInterval:      2 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			StaleAfter:        5 * time.Minute,
		},
		Cache: &CacheConfig{
			DefaultTTL: 15 * time.Minute,
			MemorySize: 1024,
		},
		Investigation: &InvestigationConfig{Timeout: 180 * time.Second},
		Retention: &RetentionConfig{
			EpisodicRetentionDays: 90,
			CleanupInterval:       6 * time.Hour,
		},
	}
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Validate checks cross-field constraints after all merging.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Breaker.Window <= 0 || c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("circuit_breaker window and cooldown must be positive")
	}
	if c.Agents.ConfidenceThreshold < 0 || c.Agents.ConfidenceThreshold > 1 {
		return fmt.Errorf("agents.confidence_threshold %.2f outside [0,1]", c.Agents.ConfidenceThreshold)
	}
	if c.Agents.MaxPerType <= 0 {
		return fmt.Errorf("agents.max_per_type must be positive")
	}
	if c.Stream.TextChunkWords <= 0 || c.Stream.AudioChunkBytes <= 0 {
		return fmt.Errorf("stream chunk sizes must be positive")
	}
	if c.Investigation.Timeout <= 0 {
		return fmt.Errorf("investigation.timeout must be positive")
	}
	if c.LLM.Provider != "" && c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.provider %q set without llm.endpoint", c.LLM.Provider)
	}
	if c.Retention.EpisodicRetentionDays <= 0 {
		return fmt.Errorf("retention.episodic_retention_days must be positive")
	}
	return nil
}
