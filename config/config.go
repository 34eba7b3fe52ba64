package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LLM_FANOUT_"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `toml:"server" yaml:"server"`
	Backend      BackendConfig      `toml:"backend" yaml:"backend"`
	Orchestrator OrchestratorConfig `toml:"orchestrator" yaml:"orchestrator"`
	Summary      SummaryConfig      `toml:"summary" yaml:"summary"`
	Database     DatabaseConfig     `toml:"database" yaml:"database"`
	Cache        CacheConfig        `toml:"cache" yaml:"cache"`
}

// ServerConfig holds the server settings
type ServerConfig struct {
	Host           string   `toml:"host" yaml:"host"`
	Port           int      `toml:"port" yaml:"port"`
	EnableCORS     bool     `toml:"enable_cors" yaml:"enable_cors"`
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"` // WebSocket/CORS origins, empty = any
	StaticDir      string   `toml:"static_dir" yaml:"static_dir"`           // Client UI directory, empty = disabled
	LogMessages    bool     `toml:"log_messages" yaml:"log_messages"`       // Log questions and final answers
	Verbose        bool     `toml:"verbose" yaml:"verbose"`
}

// BackendConfig holds the Ollama host settings
type BackendConfig struct {
	Endpoint         string `toml:"endpoint" yaml:"endpoint"`
	DiscoveryTimeout int    `toml:"discovery_timeout" yaml:"discovery_timeout"` // in seconds
	CallTimeout      int    `toml:"call_timeout" yaml:"call_timeout"`           // per model call, in seconds
}

// OrchestratorConfig holds the fan-out settings
type OrchestratorConfig struct {
	BatchSize        int `toml:"batch_size" yaml:"batch_size"`
	ChunkEvery       int `toml:"chunk_every" yaml:"chunk_every"`               // increments per streaming event
	MaxResponseChars int `toml:"max_response_chars" yaml:"max_response_chars"` // hard cutoff per model
}

// SummaryConfig holds the meta-summary settings
type SummaryConfig struct {
	Timeout     int     `toml:"timeout" yaml:"timeout"` // in seconds
	NumPredict  int     `toml:"num_predict" yaml:"num_predict"`
	Temperature float64 `toml:"temperature" yaml:"temperature"`
}

// DatabaseConfig holds the run log settings
type DatabaseConfig struct {
	Path            string `toml:"path" yaml:"path"`
	MaxRuns         int    `toml:"max_runs" yaml:"max_runs"`                 // Maximum number of runs to keep
	CleanupInterval int    `toml:"cleanup_interval" yaml:"cleanup_interval"` // Cleanup interval in minutes
}

// CacheConfig holds the Redis model cache settings
type CacheConfig struct {
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr"` // empty = disabled
	RedisPassword string `toml:"redis_password" yaml:"redis_password"`
	RedisDB       int    `toml:"redis_db" yaml:"redis_db"`
	TTL           int    `toml:"ttl" yaml:"ttl"` // in seconds
	Prefix        string `toml:"prefix" yaml:"prefix"`
}

// Load reads the configuration file, applies .env and environment overrides,
// fills defaults and validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	var config Config

	if path != "" {
		if err := decodeFile(path, &config); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func decodeFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		metadata, err := toml.Decode(string(data), config)
		if err != nil {
			return fmt.Errorf("failed to read/parse config file: %w", err)
		}
		// Fail on unknown keys
		if len(metadata.Undecoded()) > 0 {
			return fmt.Errorf("unknown keys in config file: %v", metadata.Undecoded())
		}
	}
	return nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnv(config *Config) error {
	if v, ok := lookupEnv("OLLAMA_URL"); ok {
		config.Backend.Endpoint = v
	}
	if v, ok := lookupEnv("HOST"); ok {
		config.Server.Host = v
	}
	if v, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT: %w", EnvPrefix, err)
		}
		config.Server.Port = port
	}
	if v, ok := lookupEnv("DB_PATH"); ok {
		config.Database.Path = v
	}
	if v, ok := lookupEnv("REDIS_ADDR"); ok {
		config.Cache.RedisAddr = v
	}
	if v, ok := lookupEnv("VERBOSE"); ok {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sVERBOSE: %w", EnvPrefix, err)
		}
		config.Server.Verbose = verbose
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Backend.Endpoint == "" {
		c.Backend.Endpoint = "http://localhost:11434"
	}
	if c.Backend.DiscoveryTimeout == 0 {
		c.Backend.DiscoveryTimeout = 10
	}
	if c.Backend.CallTimeout == 0 {
		c.Backend.CallTimeout = 120
	}
	if c.Orchestrator.BatchSize == 0 {
		c.Orchestrator.BatchSize = 3
	}
	if c.Orchestrator.ChunkEvery == 0 {
		c.Orchestrator.ChunkEvery = 3
	}
	if c.Orchestrator.MaxResponseChars == 0 {
		c.Orchestrator.MaxResponseChars = 10000
	}
	if c.Summary.Timeout == 0 {
		c.Summary.Timeout = 180
	}
	if c.Summary.NumPredict == 0 {
		c.Summary.NumPredict = 1500
	}
	if c.Summary.Temperature == 0 {
		c.Summary.Temperature = 0.3
	}
	if c.Database.Path == "" {
		c.Database.Path = "./llm_fanout.db"
	}
	if c.Database.MaxRuns == 0 {
		c.Database.MaxRuns = 500
	}
	if c.Database.CleanupInterval == 0 {
		c.Database.CleanupInterval = 5
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 3600
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "llm_fanout:"
	}
}

// Validate checks value ranges after defaults are applied
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Backend.Endpoint, "http://") && !strings.HasPrefix(c.Backend.Endpoint, "https://") {
		return fmt.Errorf("invalid backend.endpoint: %s (must start with http:// or https://)", c.Backend.Endpoint)
	}
	if c.Backend.DiscoveryTimeout < 0 || c.Backend.CallTimeout < 0 || c.Summary.Timeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Orchestrator.BatchSize < 1 {
		return fmt.Errorf("invalid orchestrator.batch_size: %d", c.Orchestrator.BatchSize)
	}
	if c.Orchestrator.ChunkEvery < 1 {
		return fmt.Errorf("invalid orchestrator.chunk_every: %d", c.Orchestrator.ChunkEvery)
	}
	if c.Orchestrator.MaxResponseChars < 1 {
		return fmt.Errorf("invalid orchestrator.max_response_chars: %d", c.Orchestrator.MaxResponseChars)
	}
	return nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CallTimeout is the per-model deadline
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Backend.CallTimeout) * time.Second
}

// DiscoveryTimeout bounds one /api/tags call
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Backend.DiscoveryTimeout) * time.Second
}

// SummaryTimeout bounds one meta-summary stream
func (c *Config) SummaryTimeout() time.Duration {
	return time.Duration(c.Summary.Timeout) * time.Second
}
