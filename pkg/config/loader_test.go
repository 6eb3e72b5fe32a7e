package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaultsWithoutFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Federation.FetchTimeout)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 0.7, cfg.Agents.ConfidenceThreshold)
	assert.Equal(t, 5, cfg.Stream.TextChunkWords)
	assert.Equal(t, 180*time.Second, cfg.Investigation.Timeout)
	assert.Equal(t, 90, cfg.Retention.EpisodicRetentionDays)
	assert.Empty(t, cfg.Cache.BackendURL, "memory-only cache without a backend URL")
}

func TestInitializeMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
agents:
  max_per_type: 2
stream:
  text_chunk_words: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vigia.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Agents.MaxPerType)
	assert.Equal(t, 8, cfg.Stream.TextChunkWords)
	// Untouched sections keep defaults.
	assert.Equal(t, 60*time.Second, cfg.Agents.ProcessTimeout)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
}

func TestInitializeEnvOverridesWinOverYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vigia.yaml"), []byte("investigation:\n  timeout: 60s\n"), 0o644))

	t.Setenv("INVESTIGATION_TIMEOUT_SECONDS", "240")
	t.Setenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("CACHE_BACKEND_URL", "redis://localhost:6379")
	t.Setenv("TRANSPARENCY_API_KEY", "chave-secreta")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 240*time.Second, cfg.Investigation.Timeout)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "redis://localhost:6379", cfg.Cache.BackendURL)
	assert.Equal(t, "chave-secreta", cfg.Federation.TransparencyKey)
}

func TestInitializeForcesDemoModeWithoutKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vigia.yaml"), []byte("federation:\n  demo_mode: false\n"), 0o644))
	t.Setenv("TRANSPARENCY_API_KEY", "")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, cfg.Federation.DemoMode, "no federal key means demo data")
}

func TestInitializeKeepsRealModeWithKey(t *testing.T) {
	t.Setenv("TRANSPARENCY_API_KEY", "chave-secreta")
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, cfg.Federation.DemoMode)
}

func TestInitializeRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vigia.yaml"), []byte("server:\n  port: 99999\n"), 0o644))

	_, err := Initialize(context.Background(), dir)
	assert.ErrorContains(t, err, "validation failed")
}

func TestInitializeIgnoresBadEnvNumbers(t *testing.T) {
	t.Setenv("AGENT_POOL_MAX_PER_TYPE", "muitos")
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Agents.MaxPerType)
}

func TestExpandEnvTemplateSyntax(t *testing.T) {
	t.Setenv("VIGIA_TEST_HOST", "db.example.com")
	out := ExpandEnv([]byte("host: {{.VIGIA_TEST_HOST}}\npattern: ^secret.*$\n"))
	assert.Contains(t, string(out), "host: db.example.com")
	assert.Contains(t, string(out), "pattern: ^secret.*$", "plain $ untouched")
}

func TestExpandEnvMissingVarEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: {{.VIGIA_DOES_NOT_EXIST_XYZ}}"))
	assert.Equal(t, "key: ", string(out))
}
