// Package config loads the JSON configuration file, substituting
// ${VAR} and ${VAR:default} environment references before parsing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Providers []LLMConfig     `json:"providers"`
	Agents    []AgentConfig   `json:"agents"`
	Routing   RoutingConfig   `json:"routing"`
	Resource  ResourceConfig  `json:"resource"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Alerts    AlertsConfig    `json:"alerts"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type LLMConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model,omitempty"`
}

type AgentConfig struct {
	ID              string   `json:"id"`
	Tier            string   `json:"tier"`
	Capabilities    []string `json:"capabilities"`
	MaxConcurrent   int      `json:"max_concurrent"`
	Model           string   `json:"model,omitempty"`
	Provider        string   `json:"provider,omitempty"`
	EnableRetrieval bool     `json:"enable_retrieval"`
	EnableProvider  bool     `json:"enable_provider"`
	KnowledgeFiles  []string `json:"knowledge_files,omitempty"`
}

type RoutingConfig struct {
	QueueDepthCeiling  int     `json:"queue_depth_ceiling"`
	W1                 float64 `json:"w1"`
	W2                 float64 `json:"w2"`
	W3                 float64 `json:"w3"`
	EscalationAttempts int     `json:"escalation_attempts"`
	EscalationDelayMS  int     `json:"escalation_delay_ms"`
}

type ResourceConfig struct {
	Endpoint          string `json:"endpoint"`
	APIKey            string `json:"api_key"`
	CacheTTLSeconds   int    `json:"cache_ttl_seconds"`
	FallbackTTLSecs   int    `json:"fallback_ttl_seconds"`
	MaxRetries        int    `json:"max_retries"`
	RequestTimeoutSec int    `json:"request_timeout_seconds"`
}

// Durations for the resource section with the standard defaults.
func (r ResourceConfig) CacheTTL() time.Duration {
	if r.CacheTTLSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

func (r ResourceConfig) FallbackTTL() time.Duration {
	if r.FallbackTTLSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.FallbackTTLSecs) * time.Second
}

func (r ResourceConfig) RequestTimeout() time.Duration {
	if r.RequestTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.RequestTimeoutSec) * time.Second
}

type RetrievalConfig struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type AlertsConfig struct {
	Slack SlackAlertConfig `json:"slack"`
}

type SlackAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
