// Package config loads the assistant's YAML or JSON5 configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Slack         SlackConfig         `yaml:"slack"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Context       ContextConfig       `yaml:"context"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Memory        MemoryConfig        `yaml:"memory"`
	RAG           RAGConfig           `yaml:"rag"`
	Google        GoogleConfig        `yaml:"google"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Access        AccessConfig        `yaml:"access"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token" jsonschema:"description=Bot token (xoxb-)"`
	AppToken string `yaml:"app_token" jsonschema:"description=App-level token for Socket Mode (xapp-)"`
	Debug    bool   `yaml:"debug"`

	// InboundBuffer is how many messages may wait for the gateway. Messages
	// beyond it get an overload reply.
	InboundBuffer int `yaml:"inbound_buffer"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider" jsonschema:"enum=anthropic,enum=openai,enum=google,enum=bedrock"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`

	// Bedrock only.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

type AgentConfig struct {
	MaxIterations  int           `yaml:"max_iterations"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
	EngineTimeout  time.Duration `yaml:"engine_timeout"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	ToolParallel   int           `yaml:"tool_parallelism"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	Retry          RetryConfig   `yaml:"retry"`
	SystemPrompt   string        `yaml:"system_prompt"`
	MaxConcurrent  int           `yaml:"max_concurrent_messages"`
}

// RetryConfig is the reasoning engine's retry schedule.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
	Factor   float64       `yaml:"factor"`
	Jitter   float64       `yaml:"jitter"`
}

type ContextConfig struct {
	HistoryWindow     int           `yaml:"history_window"`
	MaxPassages       int           `yaml:"max_passages"`
	MemoryLimit       int           `yaml:"memory_limit"`
	RetrievalTimeout  time.Duration `yaml:"retrieval_timeout"`
	MemoryTimeout     time.Duration `yaml:"memory_timeout"`
	ConflictPolicy    string        `yaml:"conflict_policy" jsonschema:"enum=memory_wins,enum=retrieval_wins,enum=keep_both"`
	RetrievalKeywords []string      `yaml:"retrieval_keywords"`
}

type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	QueueDepth    int           `yaml:"queue_depth"`
	HistoryLimit  int           `yaml:"history_limit"`

	// Store is memory, sqlite, postgres, or redis.
	Store string      `yaml:"store" jsonschema:"enum=memory,enum=sqlite,enum=postgres,enum=redis"`
	DSN   string      `yaml:"dsn"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	MaxTurns int           `yaml:"max_turns"`
}

type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver" jsonschema:"enum=sqlite,enum=postgres"`
	DSN     string `yaml:"dsn"`
}

type RAGConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	Embedder        string        `yaml:"embedder" jsonschema:"enum=openai,enum=gemini"`
	EmbeddingModel  string        `yaml:"embedding_model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	IndexerSchedule string        `yaml:"indexer_schedule"`
	Lookback        time.Duration `yaml:"lookback"`
	MinScore        float64       `yaml:"min_score"`
}

type GoogleConfig struct {
	Enabled          bool     `yaml:"enabled"`
	ClientSecretFile string   `yaml:"client_secret_file"`
	TokenFile        string   `yaml:"token_file"`
	Scopes           []string `yaml:"scopes"`
}

type RemindersConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
}

type AccessConfig struct {
	DMPolicy      string   `yaml:"dm_policy" jsonschema:"enum=open,enum=allowlist,enum=pairing"`
	AllowedUsers  []string `yaml:"allowed_users"`
	PairingDir    string   `yaml:"pairing_dir"`
	RatePerMinute float64  `yaml:"rate_per_minute"`
	Burst         int      `yaml:"burst"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format         string   `yaml:"format" jsonschema:"enum=json,enum=text"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Load reads path, resolves includes and environment references, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Slack.InboundBuffer == 0 {
		cfg.Slack.InboundBuffer = 100
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Provider == "bedrock" && cfg.LLM.Region == "" {
		cfg.LLM.Region = os.Getenv("AWS_REGION")
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 6
	}
	if cfg.Agent.TurnTimeout == 0 {
		cfg.Agent.TurnTimeout = 2 * time.Minute
	}
	if cfg.Agent.EngineTimeout == 0 {
		cfg.Agent.EngineTimeout = 60 * time.Second
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 15 * time.Second
	}
	if cfg.Agent.ToolParallel == 0 {
		cfg.Agent.ToolParallel = 4
	}
	if cfg.Agent.MaxOutputBytes == 0 {
		cfg.Agent.MaxOutputBytes = 16 * 1024
	}
	if cfg.Agent.MaxConcurrent == 0 {
		cfg.Agent.MaxConcurrent = 64
	}
	if cfg.Agent.Retry.Attempts == 0 {
		cfg.Agent.Retry.Attempts = 3
	}
	if cfg.Agent.Retry.Initial == 0 {
		cfg.Agent.Retry.Initial = 500 * time.Millisecond
	}
	if cfg.Agent.Retry.Max == 0 {
		cfg.Agent.Retry.Max = 8 * time.Second
	}
	if cfg.Agent.Retry.Factor == 0 {
		cfg.Agent.Retry.Factor = 2
	}

	if cfg.Context.HistoryWindow == 0 {
		cfg.Context.HistoryWindow = 10
	}
	if cfg.Context.MaxPassages == 0 {
		cfg.Context.MaxPassages = 10
	}
	if cfg.Context.MemoryLimit == 0 {
		cfg.Context.MemoryLimit = 5
	}
	if cfg.Context.RetrievalTimeout == 0 {
		cfg.Context.RetrievalTimeout = 5 * time.Second
	}
	if cfg.Context.MemoryTimeout == 0 {
		cfg.Context.MemoryTimeout = 3 * time.Second
	}
	if cfg.Context.ConflictPolicy == "" {
		cfg.Context.ConflictPolicy = "memory_wins"
	}

	if cfg.Sessions.IdleTimeout == 0 {
		cfg.Sessions.IdleTimeout = 30 * time.Minute
	}
	if cfg.Sessions.SweepSchedule == "" {
		cfg.Sessions.SweepSchedule = "@every 1m"
	}
	if cfg.Sessions.QueueDepth == 0 {
		cfg.Sessions.QueueDepth = 5
	}
	if cfg.Sessions.HistoryLimit == 0 {
		cfg.Sessions.HistoryLimit = 100
	}
	if cfg.Sessions.Store == "" {
		cfg.Sessions.Store = "memory"
	}
	if cfg.Sessions.Redis.Prefix == "" {
		cfg.Sessions.Redis.Prefix = "converge:session:"
	}

	if cfg.Memory.Driver == "" {
		cfg.Memory.Driver = "sqlite"
	}
	if cfg.Memory.DSN == "" && cfg.Memory.Driver == "sqlite" {
		cfg.Memory.DSN = "converge-memory.db"
	}

	if cfg.RAG.Path == "" {
		cfg.RAG.Path = "converge-rag.db"
	}
	if cfg.RAG.Embedder == "" {
		cfg.RAG.Embedder = "openai"
	}
	if cfg.RAG.IndexerSchedule == "" {
		cfg.RAG.IndexerSchedule = "@every 60m"
	}
	if cfg.RAG.Lookback == 0 {
		cfg.RAG.Lookback = 24 * time.Hour
	}

	if cfg.Google.ClientSecretFile == "" {
		cfg.Google.ClientSecretFile = "credentials.json"
	}
	if cfg.Google.TokenFile == "" {
		cfg.Google.TokenFile = "token.json"
	}

	if cfg.Access.DMPolicy == "" {
		cfg.Access.DMPolicy = "open"
	}
	if cfg.Access.PairingDir == "" {
		cfg.Access.PairingDir = "pairing"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.Slack.BotToken != "" && !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		add("slack.bot_token must start with xoxb-")
	}
	if c.Slack.AppToken != "" && !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		add("slack.app_token must start with xapp-")
	}
	if c.Slack.InboundBuffer < 0 {
		add("slack.inbound_buffer must not be negative")
	}

	if !oneOf(c.LLM.Provider, "anthropic", "openai", "google", "bedrock") {
		add("llm.provider %q must be one of anthropic, openai, google, bedrock", c.LLM.Provider)
	}
	if c.LLM.Provider == "bedrock" && c.LLM.Region == "" {
		add("llm.region is required for bedrock")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must be positive")
	}

	if c.Agent.MaxIterations < 1 {
		add("agent.max_iterations must be at least 1")
	}
	if c.Agent.Retry.Attempts < 1 {
		add("agent.retry.attempts must be at least 1")
	}
	if c.Agent.Retry.Factor < 1 {
		add("agent.retry.factor must be at least 1")
	}
	if c.Agent.Retry.Jitter < 0 || c.Agent.Retry.Jitter > 1 {
		add("agent.retry.jitter must be between 0 and 1")
	}
	if c.Agent.Retry.Max < c.Agent.Retry.Initial {
		add("agent.retry.max must not be below agent.retry.initial")
	}
	if c.Agent.ToolParallel < 1 {
		add("agent.tool_parallelism must be at least 1")
	}

	if !oneOf(c.Context.ConflictPolicy, "memory_wins", "retrieval_wins", "keep_both") {
		add("context.conflict_policy %q must be memory_wins, retrieval_wins or keep_both", c.Context.ConflictPolicy)
	}
	if c.Context.HistoryWindow < 0 || c.Context.MaxPassages < 0 || c.Context.MemoryLimit < 0 {
		add("context limits must not be negative")
	}

	switch c.Sessions.Store {
	case "memory":
	case "sqlite", "postgres":
		if c.Sessions.DSN == "" {
			add("sessions.dsn is required for the %s store", c.Sessions.Store)
		}
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			add("sessions.redis.addr is required for the redis store")
		}
	default:
		add("sessions.store %q must be memory, sqlite, postgres or redis", c.Sessions.Store)
	}
	if c.Sessions.QueueDepth < 0 {
		add("sessions.queue_depth must not be negative")
	}

	if c.Memory.Enabled {
		if !oneOf(c.Memory.Driver, "sqlite", "postgres") {
			add("memory.driver %q must be sqlite or postgres", c.Memory.Driver)
		}
		if c.Memory.DSN == "" {
			add("memory.dsn is required")
		}
	}

	if c.RAG.Enabled && !oneOf(c.RAG.Embedder, "openai", "gemini") {
		add("rag.embedder %q must be openai or gemini", c.RAG.Embedder)
	}
	if c.RAG.MinScore < 0 || c.RAG.MinScore > 1 {
		add("rag.min_score must be between 0 and 1")
	}

	if c.Reminders.Timezone != "" {
		if _, err := time.LoadLocation(c.Reminders.Timezone); err != nil {
			add("reminders.timezone: %v", err)
		}
	}

	if !oneOf(c.Access.DMPolicy, "open", "allowlist", "pairing") {
		add("access.dm_policy %q must be open, allowlist or pairing", c.Access.DMPolicy)
	}
	if c.Access.RatePerMinute < 0 || c.Access.Burst < 0 {
		add("access rate limits must not be negative")
	}

	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		add("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, "json", "text") {
		add("logging.format %q must be json or text", c.Logging.Format)
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// ValidationError lists every invalid setting.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func oneOf(v string, options ...string) bool {
	return slices.Contains(options, v)
}
