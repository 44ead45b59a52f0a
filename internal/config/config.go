package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "AGENTDOCK"

// Config holds all configuration for the agentdock service.
type Config struct {
	Port          int      `envconfig:"PORT" default:"8080"`
	Version       string   `envconfig:"VERSION" default:"0.1.0"`
	LogLevel      string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string   `envconfig:"LOG_FORMAT" default:"console"`
	PublicBaseURL string   `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	DashboardURL  string   `envconfig:"DASHBOARD_URL" default:"http://localhost:3000/dashboard/deployments"`
	CORSOrigins   []string `envconfig:"CORS_ORIGINS" default:"*"`

	Database  DatabaseConfig
	Queue     QueueConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	OAuth     OAuthConfig
	AI        AIConfig
	Secrets   SecretsConfig
	Ingest    IngestConfig
}

// DatabaseConfig selects the persistent store.
// Driver is one of "memory", "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver         string `envconfig:"DRIVER" default:"memory"`
	URL            string `envconfig:"URL"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"25"`
	DataDir        string `envconfig:"DATA_DIR"`
}

// QueueConfig selects the job queue backend.
// Backend is one of "memory", "redis" or "kafka".
type QueueConfig struct {
	Backend      string        `envconfig:"BACKEND" default:"memory"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisKey     string        `envconfig:"REDIS_KEY" default:"agentdock:jobs"`
	RedisLease   time.Duration `envconfig:"REDIS_LEASE" default:"10m"`
	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string        `envconfig:"KAFKA_TOPIC" default:"agentdock.jobs"`
	KafkaGroup   string        `envconfig:"KAFKA_GROUP" default:"agentdock-workers"`
	Concurrency  int           `envconfig:"CONCURRENCY" default:"4"`
	MaxAttempts  int           `envconfig:"MAX_ATTEMPTS" default:"5"`
}

type TelemetryConfig struct {
	Enabled      bool    `envconfig:"ENABLED" default:"false"`
	OTLPEndpoint string  `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceName  string  `envconfig:"SERVICE_NAME" default:"agentdock"`
	Insecure     bool    `envconfig:"INSECURE" default:"true"`
	SampleRatio  float64 `envconfig:"SAMPLE_RATIO" default:"1"`
}

type AuthConfig struct {
	// Comma-separated API keys for /api/v1. Empty disables auth.
	APIKeys      []string `envconfig:"API_KEYS"`
	UserIDHeader string   `envconfig:"USER_ID_HEADER" default:"X-User-Id"`
}

// OAuthConfig holds the app credentials used for the authorization-code flows.
type OAuthConfig struct {
	StateSecret         string `envconfig:"STATE_SECRET"`
	SlackClientID       string `envconfig:"SLACK_CLIENT_ID"`
	SlackClientSecret   string `envconfig:"SLACK_CLIENT_SECRET"`
	SlackScopes         string `envconfig:"SLACK_SCOPES" default:"app_mentions:read,chat:write,channels:history"`
	DiscordClientID     string `envconfig:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `envconfig:"DISCORD_CLIENT_SECRET"`
	DiscordScopes       string `envconfig:"DISCORD_SCOPES" default:"bot,applications.commands"`
}

// AIConfig configures embedding and generation providers.
// Provider order is the failover order for generation.
type AIConfig struct {
	Providers        []string `envconfig:"PROVIDERS" default:"openai"`
	OpenAIKey        string   `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL    string   `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	AnthropicKey     string   `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string   `envconfig:"ANTHROPIC_BASE_URL" default:"https://api.anthropic.com"`
	OllamaURL        string   `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	ChatModel        string   `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	AnthropicModel   string   `envconfig:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-latest"`
	OllamaModel      string   `envconfig:"OLLAMA_MODEL" default:"llama3.1"`
	EmbeddingDriver  string   `envconfig:"EMBEDDING_DRIVER" default:"openai"`
	EmbeddingModel   string   `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	TranscribeModel  string   `envconfig:"TRANSCRIBE_MODEL" default:"whisper-1"`
	RetrievalTopK    int      `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	FallbackReply    string   `envconfig:"FALLBACK_REPLY" default:"Sorry, I can't answer that right now. Please try again later."`
}

// SecretsConfig holds the key used to seal deployment credentials at rest.
type SecretsConfig struct {
	// Base64-encoded 32-byte key. Empty stores credentials unsealed.
	Key string `envconfig:"KEY"`
}

type IngestConfig struct {
	ChunkSize       int   `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int   `envconfig:"CHUNK_OVERLAP" default:"200"`
	MaxTextBytes    int   `envconfig:"MAX_TEXT_BYTES" default:"52428800"`
	MaxUploadBytes  int64 `envconfig:"MAX_UPLOAD_BYTES" default:"104857600"`
	FileConcurrency int   `envconfig:"FILE_CONCURRENCY" default:"4"`
	EmbedAttempts   int   `envconfig:"EMBED_ATTEMPTS" default:"3"`
}

// Load reads configuration from AGENTDOCK_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backends and malformed keys.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.URL == "" {
		return fmt.Errorf("config: %s_DATABASE_URL is required for driver %q", Prefix, c.Database.Driver)
	}
	switch c.Queue.Backend {
	case "memory", "redis", "kafka":
	default:
		return fmt.Errorf("config: unknown queue backend %q", c.Queue.Backend)
	}
	if c.Secrets.Key != "" {
		raw, err := base64.StdEncoding.DecodeString(c.Secrets.Key)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("config: %s_SECRETS_KEY must be a base64-encoded 32-byte key", Prefix)
		}
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("config: chunk overlap %d must be smaller than chunk size %d", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}
