package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges and validates configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load vigia.yaml from configDir (optional)
//  3. Expand environment variables in the YAML ({{.VAR}} syntax)
//  4. Merge YAML over defaults
//  5. Apply environment-variable overrides
//  6. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := Default()
	cfg.configDir = configDir

	if err := loadYAML(filepath.Join(configDir, "vigia.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	// Without the federal API key the real fetcher cannot authenticate
	// against the key-requiring source; absence forces demo mode.
	if cfg.Federation.TransparencyKey == "" && !cfg.Federation.DemoMode {
		cfg.Federation.DemoMode = true
		log.Warn("TRANSPARENCY_API_KEY not set, forcing demo mode")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"llm_provider", cfg.LLM.Provider,
		"cache_backend", cfg.Cache.BackendURL != "",
		"queue_workers", cfg.Queue.Workers)
	return cfg, nil
}

// loadYAML reads and merges one YAML file into cfg. A missing file is
// not an error; defaults plus env overrides are a complete config.
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No configuration file, using defaults", "path", path)
			return nil
		}
		return err
	}

	data = ExpandEnv(data)

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := mergo.Merge(cfg, &overlay, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies the operational knobs that must be
// settable without editing YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("CACHE_BACKEND_URL"); v != "" {
		cfg.Cache.BackendURL = v
	}
	if v := os.Getenv("TRANSPARENCY_API_KEY"); v != "" {
		cfg.Federation.TransparencyKey = v
	}
	if v, ok := envInt("INVESTIGATION_TIMEOUT_SECONDS"); ok {
		cfg.Investigation.Timeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); ok {
		cfg.Breaker.FailureThreshold = v
	}
	if v, ok := envInt("CIRCUIT_BREAKER_WINDOW_SECONDS"); ok {
		cfg.Breaker.Window = time.Duration(v) * time.Second
	}
	if v, ok := envInt("CIRCUIT_BREAKER_COOLDOWN_SECONDS"); ok {
		cfg.Breaker.Cooldown = time.Duration(v) * time.Second
	}
	if v, ok := envInt("AGENT_POOL_MAX_PER_TYPE"); ok {
		cfg.Agents.MaxPerType = v
	}
	if v, ok := envInt("STREAM_TEXT_CHUNK_WORDS"); ok {
		cfg.Stream.TextChunkWords = v
	}
	if v, ok := envInt("STREAM_AUDIO_CHUNK_BYTES"); ok {
		cfg.Stream.AudioChunkBytes = v
	}
	if v, ok := envInt("QUEUE_WORKERS"); ok {
		cfg.Queue.Workers = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment override", "name", name, "value", raw)
		return 0, false
	}
	return v, true
}
