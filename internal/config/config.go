package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Backend is one downstream service in the static registry.
type Backend struct {
	URL    string `json:"url" yaml:"url" toml:"url"`
	Health string `json:"health" yaml:"health" toml:"health"`
}

// FeedConfig controls the terminal feed buffers and redaction.
type FeedConfig struct {
	BufferSize          int     `json:"buffer_size" yaml:"buffer_size" toml:"buffer_size"`
	SubscriberQueueSize int     `json:"subscriber_queue_size" yaml:"subscriber_queue_size" toml:"subscriber_queue_size"`
	MaxLineChars        int     `json:"max_line_chars" yaml:"max_line_chars" toml:"max_line_chars"`
	BacklogLines        int     `json:"backlog_lines" yaml:"backlog_lines" toml:"backlog_lines"`
	KeepaliveSeconds    float64 `json:"keepalive_seconds" yaml:"keepalive_seconds" toml:"keepalive_seconds"`
	DefaultLevel        string  `json:"default_level" yaml:"default_level" toml:"default_level"`
	RedactExtra         string  `json:"redact_extra" yaml:"redact_extra" toml:"redact_extra"`
}

// BusConfig enables the cross-replica Redis bridge when URL is set.
type BusConfig struct {
	RedisURL              string  `json:"redis_url" yaml:"redis_url" toml:"redis_url"`
	Channel               string  `json:"channel" yaml:"channel" toml:"channel"`
	ConnectTimeoutSeconds float64 `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds" toml:"connect_timeout_seconds"`
}

// BreakerConfig tunes the per-backend circuit breakers.
type BreakerConfig struct {
	Threshold       int     `json:"threshold" yaml:"threshold" toml:"threshold"`
	CooldownSeconds float64 `json:"cooldown_seconds" yaml:"cooldown_seconds" toml:"cooldown_seconds"`
}

// Config holds runtime parameters for the gateway.
// Zero values mean "unspecified" and are filled by ApplyDefaults.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	InstanceID string `json:"instance_id" yaml:"instance_id" toml:"instance_id"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`

	Backends map[string]Backend `json:"backends" yaml:"backends" toml:"backends"`

	// Backend names used for chat and embeddings dispatch.
	LLMBackend        string `json:"llm_backend" yaml:"llm_backend" toml:"llm_backend"`
	EmbeddingsBackend string `json:"embeddings_backend" yaml:"embeddings_backend" toml:"embeddings_backend"`

	// Default model ids for the auto selection policy.
	GeneralModel string `json:"general_model" yaml:"general_model" toml:"general_model"`
	CoderModel   string `json:"coder_model" yaml:"coder_model" toml:"coder_model"`

	// Per-class request timeouts in seconds; missing classes fall back
	// to the dispatch defaults.
	TimeoutSeconds map[string]float64 `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker" toml:"breaker"`

	ProfileStorePath string `json:"profile_store_path" yaml:"profile_store_path" toml:"profile_store_path"`
	VoiceDir         string `json:"voice_dir" yaml:"voice_dir" toml:"voice_dir"`

	Feed FeedConfig `json:"feed" yaml:"feed" toml:"feed"`
	Bus  BusConfig  `json:"bus" yaml:"bus" toml:"bus"`

	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides select fields from GATEWAY_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("GATEWAY_INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GATEWAY_PROFILE_STORE"); v != "" {
		c.ProfileStorePath = v
	}
	if v := os.Getenv("GATEWAY_VOICE_DIR"); v != "" {
		c.VoiceDir = v
	}
	if v := os.Getenv("GATEWAY_BUS_REDIS_URL"); v != "" {
		c.Bus.RedisURL = v
	}
	if v := os.Getenv("GATEWAY_BUS_CHANNEL"); v != "" {
		c.Bus.Channel = v
	}
	if v := os.Getenv("GATEWAY_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Breaker.Threshold = n
		}
	}
}

// ApplyDefaults fills unspecified fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "gateway"
		}
		c.InstanceID = host
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LLMBackend == "" {
		c.LLMBackend = "llm"
	}
	if c.EmbeddingsBackend == "" {
		c.EmbeddingsBackend = "embeddings"
	}
	if c.GeneralModel == "" {
		c.GeneralModel = "qwen3-32b"
	}
	if c.CoderModel == "" {
		c.CoderModel = "qwen3-coder-30b"
	}
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.CooldownSeconds == 0 {
		c.Breaker.CooldownSeconds = 30
	}
	if c.ProfileStorePath == "" {
		c.ProfileStorePath = "/data/model_profiles.json"
	}
	if c.VoiceDir == "" {
		c.VoiceDir = "/data/voices"
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = 2000
	}
	if c.Feed.SubscriberQueueSize == 0 {
		c.Feed.SubscriberQueueSize = 200
	}
	if c.Feed.MaxLineChars == 0 {
		c.Feed.MaxLineChars = 2000
	}
	if c.Feed.BacklogLines == 0 {
		c.Feed.BacklogLines = 200
	}
	if c.Feed.KeepaliveSeconds == 0 {
		c.Feed.KeepaliveSeconds = 15
	}
	if c.Feed.DefaultLevel == "" {
		c.Feed.DefaultLevel = "INFO"
	}
	if c.Bus.Channel == "" {
		c.Bus.Channel = "gateway:terminal_feed"
	}
	if c.Bus.ConnectTimeoutSeconds == 0 {
		c.Bus.ConnectTimeoutSeconds = 5
	}
}

// BackendURL returns the base URL for a named backend.
func (c Config) BackendURL(name string) (string, error) {
	b, ok := c.Backends[name]
	if !ok || b.URL == "" {
		return "", fmt.Errorf("backend not found in config: %s", name)
	}
	return strings.TrimRight(b.URL, "/"), nil
}

// HealthURL returns the full health probe URL for a named backend.
func (c Config) HealthURL(name string) (string, error) {
	base, err := c.BackendURL(name)
	if err != nil {
		return "", err
	}
	b := c.Backends[name]
	path := b.Health
	if path == "" {
		path = "/health"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}
