package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "http://localhost:11434", cfg.Backend.Endpoint)
	assert.Equal(t, 120*time.Second, cfg.CallTimeout())
	assert.Equal(t, 10*time.Second, cfg.DiscoveryTimeout())
	assert.Equal(t, 180*time.Second, cfg.SummaryTimeout())
	assert.Equal(t, 3, cfg.Orchestrator.BatchSize)
	assert.Equal(t, 3, cfg.Orchestrator.ChunkEvery)
	assert.Equal(t, 10000, cfg.Orchestrator.MaxResponseChars)
	assert.Equal(t, 1500, cfg.Summary.NumPredict)
	assert.InDelta(t, 0.3, cfg.Summary.Temperature, 1e-9)
	assert.Equal(t, "./llm_fanout.db", cfg.Database.Path)
	assert.Empty(t, cfg.Cache.RedisAddr)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
port = 9000
verbose = true
allowed_origins = ["http://localhost:4200"]

[backend]
endpoint = "http://gpu-box:11434"
call_timeout = 60

[orchestrator]
batch_size = 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Verbose)
	assert.Equal(t, []string{"http://localhost:4200"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http://gpu-box:11434", cfg.Backend.Endpoint)
	assert.Equal(t, time.Minute, cfg.CallTimeout())
	assert.Equal(t, 4, cfg.Orchestrator.BatchSize)
}

func TestLoad_TOMLUnknownKey(t *testing.T) {
	path := writeFile(t, "config.toml", "[server]\nprot = 1\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown keys")
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 8123
cache:
  redis_addr: localhost:6379
  ttl: 60
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 60, cfg.Cache.TTL)
}

func TestLoad_YAMLUnknownKey(t *testing.T) {
	path := writeFile(t, "config.yml", "server:\n  nope: true\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"OLLAMA_URL", "http://10.0.0.2:11434")
	t.Setenv(EnvPrefix+"PORT", "8088")
	t.Setenv(EnvPrefix+"REDIS_ADDR", "redis:6379")
	t.Setenv(EnvPrefix+"VERBOSE", "true")

	path := writeFile(t, "config.toml", "[server]\nport = 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:11434", cfg.Backend.Endpoint)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Server.Verbose)
}

func TestLoad_InvalidEnvPort(t *testing.T) {
	t.Setenv(EnvPrefix+"PORT", "eighty")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid LLM_FANOUT_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server.port"},
		{"endpoint", func(c *Config) { c.Backend.Endpoint = "localhost:11434" }, "invalid backend.endpoint"},
		{"timeout", func(c *Config) { c.Backend.CallTimeout = -1 }, "timeouts must not be negative"},
		{"batch", func(c *Config) { c.Orchestrator.BatchSize = -2 }, "invalid orchestrator.batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.setDefaults()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
