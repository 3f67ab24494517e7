package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings. Resolution order: built-in defaults,
// then the optional YAML file named by RECALL_CONFIG, then environment
// variables. Env wins so deployments can override a checked-in file.
type Config struct {
	Port     int    `yaml:"port"`
	DBPath   string `yaml:"dbPath"`
	APIKey   string `yaml:"apiKey"`
	LogLevel string `yaml:"logLevel"`

	Embedding struct {
		BaseURL string `yaml:"baseUrl"`
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		Dim     int    `yaml:"dim"`
	} `yaml:"embedding"`

	Completion struct {
		BaseURL string `yaml:"baseUrl"`
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
	} `yaml:"completion"`

	RequestTimeoutSecs int `yaml:"requestTimeoutSecs"`

	// Search tuning
	VectorWeight   float64 `yaml:"vectorWeight"`
	BM25Weight     float64 `yaml:"bm25Weight"`
	RRFK           int     `yaml:"rrfK"`
	MinScore       float64 `yaml:"minScore"`
	DefaultLimit   int     `yaml:"defaultLimit"`
	DedupThreshold float64 `yaml:"dedupThreshold"`
}

// Load builds the config from defaults, the optional YAML file, and env.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Port = 8742
	cfg.DBPath = "recall.db"
	cfg.LogLevel = "info"
	cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Embedding.Dim = 768
	cfg.Completion.BaseURL = "http://localhost:11434/v1"
	cfg.Completion.Model = "qwen2.5:1.5b"
	cfg.RequestTimeoutSecs = 30
	cfg.VectorWeight = 0.5
	cfg.BM25Weight = 0.5
	cfg.RRFK = 60
	cfg.MinScore = 0.3
	cfg.DefaultLimit = 10
	cfg.DedupThreshold = 0.92

	if path := os.Getenv("RECALL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("RECALL_DB_PATH", c.DBPath)
	c.APIKey = envStr("RECALL_API_KEY", c.APIKey)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)

	c.Embedding.BaseURL = envStr("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = envStr("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = envStr("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dim = envInt("EMBEDDING_DIM", c.Embedding.Dim)

	c.Completion.BaseURL = envStr("COMPLETION_BASE_URL", c.Completion.BaseURL)
	c.Completion.APIKey = envStr("COMPLETION_API_KEY", c.Completion.APIKey)
	c.Completion.Model = envStr("COMPLETION_MODEL", c.Completion.Model)

	c.RequestTimeoutSecs = envInt("REQUEST_TIMEOUT_SECS", c.RequestTimeoutSecs)

	c.VectorWeight = envFloat("VECTOR_WEIGHT", c.VectorWeight)
	c.BM25Weight = envFloat("BM25_WEIGHT", c.BM25Weight)
	c.RRFK = envInt("RRF_K", c.RRFK)
	c.MinScore = envFloat("MIN_SCORE", c.MinScore)
	c.DefaultLimit = envInt("DEFAULT_LIMIT", c.DefaultLimit)
	c.DedupThreshold = envFloat("DEDUP_THRESHOLD", c.DedupThreshold)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.Embedding.Dim < 1 {
		return fmt.Errorf("embedding dim must be positive, got %d", c.Embedding.Dim)
	}
	sum := c.VectorWeight + c.BM25Weight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("vectorWeight + bm25Weight must equal 1.0, got %f", sum)
	}
	if c.RRFK < 1 {
		return fmt.Errorf("rrfK must be positive, got %d", c.RRFK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("minScore must be in [0,1], got %f", c.MinScore)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("dedupThreshold must be in (0,1], got %f", c.DedupThreshold)
	}
	return nil
}

// RequestTimeout returns the outbound request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
