// Package config defines the YAML configuration surface for parley.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Chat      ChatConfig      `yaml:"chat"`
	MCP       MCPConfig       `yaml:"mcp"`
	Security  SecurityConfig  `yaml:"security"`
	LLM       LLMConfig       `yaml:"llm"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// VectorPath is the SQLite file backing the vector index.
	// Empty selects the in-memory index.
	VectorPath string `yaml:"vector_path"`
}

type RedisConfig struct {
	// Addr enables the redis-backed counter store when set; otherwise
	// counters are kept in process memory.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KnowledgeConfig is the knowledge.* group.
type KnowledgeConfig struct {
	MaxDocumentSizeBytes  int     `yaml:"max_document_size_bytes"`
	MaxBatchSize          int     `yaml:"max_batch_size"`
	DefaultEmbeddingModel string  `yaml:"default_embedding_model"`
	EmbeddingBatchSize    int     `yaml:"embedding_batch_size"`
	VectorTopKMax         int     `yaml:"vector_top_k_max"`
	SimilarityDefault     float64 `yaml:"similarity_default"`

	// SyncChunkLimit and SyncContentLimit bound the synchronous
	// embedding path; larger documents go to the background worker.
	SyncChunkLimit   int `yaml:"sync_chunk_limit"`
	SyncContentLimit int `yaml:"sync_content_limit"`
}

// ChatConfig is the chat.* group.
type ChatConfig struct {
	MaxMessageLength   int           `yaml:"max_message_length"`
	MaxPromptTokens    int           `yaml:"max_prompt_tokens"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	RateLimitMax       int           `yaml:"rate_limit_max"`
	DefaultModels      []string      `yaml:"default_models"`
	TemperatureDefault float64       `yaml:"temperature_default"`
	HistoryTurns       int           `yaml:"history_turns"`

	RetrieveTimeout time.Duration `yaml:"retrieve_timeout"`
	ToolsTimeout    time.Duration `yaml:"tools_timeout"`
	FlowTimeout     time.Duration `yaml:"flow_timeout"`
}

// MCPConfig is the mcp.* group for the tool gateway.
type MCPConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	MaxTimeout      time.Duration `yaml:"max_timeout"`
	RetryCount      int           `yaml:"retry_count"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	QuotaDefault    int64         `yaml:"quota_default"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`

	// SandboxEnabled is parsed and surfaced but resource limits are not
	// enforced in the call path.
	SandboxEnabled bool `yaml:"sandbox_enabled"`
}

// SecurityConfig is the security.* group. Token minting itself lives
// outside this service; these settings parameterize the contract.
type SecurityConfig struct {
	JWTAlgorithm         string        `yaml:"jwt_algorithm"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	LockoutThreshold     int           `yaml:"lockout_threshold"`
	PasswordHistoryDepth int           `yaml:"password_history_depth"`
}

// LLMConfig is the llm.* group.
type LLMConfig struct {
	Providers       []ProviderConfig `yaml:"providers"`
	FailoverEnabled bool             `yaml:"failover_enabled"`

	// Balancing is round-robin, random, or weighted.
	Balancing string `yaml:"balancing"`
}

// ProviderConfig configures one completion/embedding backend.
type ProviderConfig struct {
	Name     string   `yaml:"name"`
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Models   []string `yaml:"models"`

	// Prefixes route model names to this provider (e.g. "gpt-").
	Prefixes []string `yaml:"prefixes"`

	// Weight is used by the weighted balancer.
	Weight int `yaml:"weight"`
}

// RuntimeConfig sizes the named worker pools.
type RuntimeConfig struct {
	IngestWorkers   int `yaml:"ingest_workers"`
	IngestQueue     int `yaml:"ingest_queue"`
	SubtaskWorkers  int `yaml:"subtask_workers"`
	ToolWorkers     int `yaml:"tool_workers"`
	ToolTenantShare int `yaml:"tool_tenant_share"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration defaults documented in the platform
// contract. Loaded files override field by field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{
			MaxConnections:  20,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Knowledge: KnowledgeConfig{
			MaxDocumentSizeBytes:  10 << 20,
			MaxBatchSize:          100,
			DefaultEmbeddingModel: "text-embedding-3-small",
			EmbeddingBatchSize:    32,
			VectorTopKMax:         50,
			SimilarityDefault:     0.7,
			SyncChunkLimit:        50,
			SyncContentLimit:      50000,
		},
		Chat: ChatConfig{
			MaxMessageLength:   32000,
			MaxPromptTokens:    16000,
			RateLimitWindow:    60 * time.Second,
			RateLimitMax:       60,
			TemperatureDefault: 0.7,
			HistoryTurns:       20,
			RetrieveTimeout:    5 * time.Second,
			ToolsTimeout:       30 * time.Second,
			FlowTimeout:        300 * time.Second,
		},
		MCP: MCPConfig{
			DefaultTimeout:  30 * time.Second,
			MaxTimeout:      5 * time.Minute,
			RetryCount:      3,
			RetryInterval:   time.Second,
			QuotaDefault:    1000,
			RateLimitPerMin: 100,
		},
		Security: SecurityConfig{
			JWTAlgorithm:         "RS256",
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			LockoutThreshold:     5,
			PasswordHistoryDepth: 5,
		},
		LLM: LLMConfig{
			FailoverEnabled: true,
			Balancing:       "round-robin",
		},
		Runtime: RuntimeConfig{
			IngestWorkers:   10,
			IngestQueue:     1000,
			SubtaskWorkers:  0, // 0 means CPU*2
			ToolWorkers:     10,
			ToolTenantShare: 25,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}

// Validate checks cross-field constraints that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Knowledge.SimilarityDefault < 0 || c.Knowledge.SimilarityDefault > 1 {
		return fmt.Errorf("knowledge.similarity_default %v not in [0,1]", c.Knowledge.SimilarityDefault)
	}
	if c.Knowledge.VectorTopKMax <= 0 {
		return fmt.Errorf("knowledge.vector_top_k_max must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive")
	}
	if c.Chat.TemperatureDefault < 0 || c.Chat.TemperatureDefault > 2 {
		return fmt.Errorf("chat.temperature_default %v not in [0,2]", c.Chat.TemperatureDefault)
	}
	switch c.LLM.Balancing {
	case "round-robin", "random", "weighted":
	default:
		return fmt.Errorf("llm.balancing %q must be round-robin, random, or weighted", c.LLM.Balancing)
	}
	switch c.Security.JWTAlgorithm {
	case "RS256", "HS256":
	default:
		return fmt.Errorf("security.jwt_algorithm %q must be RS256 or HS256", c.Security.JWTAlgorithm)
	}
	if c.MCP.MaxTimeout < c.MCP.DefaultTimeout {
		return fmt.Errorf("mcp.max_timeout %v below mcp.default_timeout %v", c.MCP.MaxTimeout, c.MCP.DefaultTimeout)
	}
	if c.Runtime.ToolTenantShare <= 0 || c.Runtime.ToolTenantShare > 100 {
		return fmt.Errorf("runtime.tool_tenant_share %d not in (0,100]", c.Runtime.ToolTenantShare)
	}
	for _, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers entry missing name")
		}
		if p.Enabled && p.APIKey == "" && p.Endpoint == "" {
			return fmt.Errorf("llm provider %q enabled without api_key or endpoint", p.Name)
		}
	}
	return nil
}
