package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Reasoning ReasoningConfig  `json:"reasoning" yaml:"reasoning"`
	Routing   RoutingConfig    `json:"routing" yaml:"routing"`
	Agents    AgentsConfig     `json:"agents" yaml:"agents"`
	Memory    MemoryConfig     `json:"memory" yaml:"memory"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway"`
	MCP       MCPConfig        `json:"mcp" yaml:"mcp"`
	Database  DatabaseConfig   `json:"database" yaml:"database"`
	Embedding EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Limits    LimitsConfig     `json:"limits" yaml:"limits"`
	Telemetry TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
}

type ServerConfig struct {
	Port           int    `json:"port" yaml:"port"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	MigrationsDir  string `json:"migrations_dir" yaml:"migrations_dir"`
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ShutdownWaitMS int    `json:"shutdown_wait_ms" yaml:"shutdown_wait_ms"`
}

type ProviderConfig struct {
	ID        string            `json:"id" yaml:"id"`
	Type      string            `json:"type" yaml:"type"` // openai, anthropic, gemini, ollama
	Name      string            `json:"name" yaml:"name"`
	Endpoint  string            `json:"endpoint" yaml:"endpoint"`
	APIKey    string            `json:"api_key" yaml:"api_key"`
	Model     string            `json:"model" yaml:"model"`
	MaxTokens int               `json:"max_tokens" yaml:"max_tokens"`
	TimeoutMS int               `json:"timeout_ms" yaml:"timeout_ms"`
	Extra     map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// ReasoningConfig bounds every ReAct run.
type ReasoningConfig struct {
	MaxSteps            int     `json:"max_steps" yaml:"max_steps"`
	Temperature         float64 `json:"temperature" yaml:"temperature"`
	HistoryWindow       int     `json:"history_window" yaml:"history_window"`
	CompletionTimeoutMS int     `json:"completion_timeout_ms" yaml:"completion_timeout_ms"`
	ActionTimeoutMS     int     `json:"action_timeout_ms" yaml:"action_timeout_ms"`
	RunTimeoutMS        int     `json:"run_timeout_ms" yaml:"run_timeout_ms"`
	RetryAttempts       int     `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMS        int     `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	BreakerThreshold    int     `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeoutMS    int     `json:"breaker_timeout_ms" yaml:"breaker_timeout_ms"`
}

func (r ReasoningConfig) CompletionTimeout() time.Duration { return ms(r.CompletionTimeoutMS) }
func (r ReasoningConfig) ActionTimeout() time.Duration     { return ms(r.ActionTimeoutMS) }
func (r ReasoningConfig) RunTimeout() time.Duration        { return ms(r.RunTimeoutMS) }
func (r ReasoningConfig) RetryDelay() time.Duration        { return ms(r.RetryDelayMS) }
func (r ReasoningConfig) BreakerTimeout() time.Duration    { return ms(r.BreakerTimeoutMS) }

type RoutingConfig struct {
	Policy  string `json:"policy" yaml:"policy"` // primary | confidence
	Primary string `json:"primary" yaml:"primary"`
}

type AgentsConfig struct {
	ProfileDir string        `json:"profile_dir" yaml:"profile_dir"`
	Roster     []AgentConfig `json:"roster" yaml:"roster"`
}

// AgentConfig overrides a built-in persona's reasoning settings.
type AgentConfig struct {
	Role        string   `json:"role" yaml:"role"`
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Provider    string   `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	MaxSteps    int      `json:"max_steps" yaml:"max_steps"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// IsEnabled reports whether the agent should be registered.
func (a AgentConfig) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

type MemoryConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Backend         string `json:"backend" yaml:"backend"` // remote | graph | local
	SupergatewayURL string `json:"supergateway_url" yaml:"supergateway_url"`
	TimeoutMS       int    `json:"timeout_ms" yaml:"timeout_ms"`
	MaxUnwrapDepth  int    `json:"max_unwrap_depth" yaml:"max_unwrap_depth"`
	Collection      string `json:"collection" yaml:"collection"`
}

func (m MemoryConfig) Timeout() time.Duration { return ms(m.TimeoutMS) }

type GatewayConfig struct {
	Slack    SlackGatewayConfig    `json:"slack" yaml:"slack"`
	Discord  DiscordGatewayConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramGatewayConfig `json:"telegram" yaml:"telegram"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

type TelegramGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	Debug    bool   `json:"debug" yaml:"debug"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers" yaml:"servers"`
}

type MCPServerConfig struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description" yaml:"description"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j" yaml:"neo4j"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant" yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type QdrantConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider" yaml:"provider"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Model     string `json:"model" yaml:"model"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

// LimitsConfig caps concurrent work and per-user request rates.
type LimitsConfig struct {
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
	Rate          int `json:"rate" yaml:"rate"`
	Burst         int `json:"burst" yaml:"burst"`
}

type TelemetryConfig struct {
	Exporter   string  `json:"exporter" yaml:"exporter"` // none | stdout | otlp
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	Insecure   bool    `json:"insecure" yaml:"insecure"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// Routing policies.
const (
	PolicyPrimary    = "primary"
	PolicyConfidence = "confidence"
)

// Memory backends.
const (
	BackendRemote = "remote"
	BackendGraph  = "graph"
	BackendLocal  = "local"
)

// Default returns a configuration that runs without any external service.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			LogLevel:       "info",
			MigrationsDir:  "migrations",
			ServiceName:    "aibrain",
			ShutdownWaitMS: 10000,
		},
		Reasoning: ReasoningConfig{
			MaxSteps:            7,
			Temperature:         0.3,
			HistoryWindow:       3,
			CompletionTimeoutMS: 60000,
			ActionTimeoutMS:     10000,
			RetryAttempts:       2,
			RetryDelayMS:        250,
			BreakerThreshold:    5,
			BreakerTimeoutMS:    30000,
		},
		Routing: RoutingConfig{Policy: PolicyPrimary, Primary: "personal_assistant"},
		Agents:  AgentsConfig{ProfileDir: "agents"},
		Memory: MemoryConfig{
			Backend:         BackendRemote,
			SupergatewayURL: "http://localhost:8080",
			TimeoutMS:       500,
			MaxUnwrapDepth:  3,
			Collection:      "brain_memories",
		},
		Limits:    LimitsConfig{MaxConcurrent: 32, Rate: 30, Burst: 10},
		Telemetry: TelemetryConfig{Exporter: "none", SampleRate: 1.0},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file, substitutes environment variable
// references, applies process-level overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config bytes on top of Default. The format is picked
// from the file extension.
func Parse(path string, data []byte) (*Config, error) {
	resolved := expandEnv(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(resolved), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// ApplyEnv applies the flat environment overrides the deployment scripts use.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("ENABLE_MEMORY"); ok {
		cfg.Memory.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if n, err := strconv.Atoi(os.Getenv("MEMORY_TIMEOUT_MS")); err == nil && n > 0 {
		cfg.Memory.TimeoutMS = n
	}
	if v := os.Getenv("SUPERGATEWAY_URL"); v != "" {
		cfg.Memory.SupergatewayURL = v
	}

	providerType := strings.ToLower(os.Getenv("LLM_PROVIDER"))
	model := os.Getenv("LLM_MODEL")
	if providerType == "" && model == "" {
		return
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if providerType != "" && p.Type != providerType {
			continue
		}
		if model != "" {
			p.Model = model
		}
		if n, err := strconv.Atoi(os.Getenv("LLM_MAX_TOKENS")); err == nil && n > 0 {
			p.MaxTokens = n
		}
		// Move the selected provider to the front so it becomes the default.
		cfg.Providers[0], cfg.Providers[i] = cfg.Providers[i], cfg.Providers[0]
		break
	}
	if f, err := strconv.ParseFloat(os.Getenv("LLM_TEMPERATURE"), 64); err == nil {
		cfg.Reasoning.Temperature = f
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Routing.Policy {
	case PolicyPrimary, PolicyConfidence:
	default:
		return fmt.Errorf("unknown routing policy %q", c.Routing.Policy)
	}
	switch c.Memory.Backend {
	case BackendRemote, BackendGraph, BackendLocal:
	default:
		return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
	}
	if c.Reasoning.MaxSteps <= 0 {
		return fmt.Errorf("reasoning.max_steps must be positive, got %d", c.Reasoning.MaxSteps)
	}
	for _, a := range c.Agents.Roster {
		if a.MaxSteps < 0 {
			return fmt.Errorf("agent %s: max_steps must not be negative", a.Role)
		}
	}
	for i, p := range c.Providers {
		if p.ID == "" || p.Type == "" {
			return fmt.Errorf("providers[%d]: id and type are required", i)
		}
	}
	return nil
}

// Agent returns the roster entry for role, if any.
func (c *Config) Agent(role string) (AgentConfig, bool) {
	for _, a := range c.Agents.Roster {
		if a.Role == role {
			return a, true
		}
	}
	return AgentConfig{}, false
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
