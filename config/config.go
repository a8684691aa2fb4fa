package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the engine
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Streams      StreamsConfig      `mapstructure:"streams"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug       bool   `mapstructure:"debug"`
	ServiceName string `mapstructure:"service_name"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	// StreamBuffer is the number of progress events buffered per SSE client.
	StreamBuffer int `mapstructure:"stream_buffer"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, ollama
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model serves each collaborator role
type LLMRoutingConfig struct {
	Strategy  string `mapstructure:"strategy"`
	Planning  string `mapstructure:"planning"`
	Execution string `mapstructure:"execution"`
	Synthesis string `mapstructure:"synthesis"`
	Filter    string `mapstructure:"filter"`
	Rephrase  string `mapstructure:"rephrase"`
	Fallback  string `mapstructure:"fallback"`
}

// Model returns the routed model for role, falling back to Fallback.
func (r LLMRoutingConfig) Model(role string) string {
	var m string
	switch role {
	case "strategy":
		m = r.Strategy
	case "planning":
		m = r.Planning
	case "execution":
		m = r.Execution
	case "synthesis":
		m = r.Synthesis
	case "filter":
		m = r.Filter
	case "rephrase":
		m = r.Rephrase
	}
	if strings.TrimSpace(m) == "" {
		return r.Fallback
	}
	return m
}

func (c LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llm.providers must define at least one provider")
	}
	for name, p := range c.Providers {
		switch strings.ToLower(p.Type) {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("llm.providers.%s.type %q is not supported", name, p.Type)
		}
	}
	if strings.TrimSpace(c.Routing.Fallback) == "" {
		return fmt.Errorf("llm.routing.fallback required")
	}
	return nil
}

// Orchestration modes.
const (
	ModePlan   = "plan"
	ModeFilter = "filter"
)

// OrchestratorConfig bounds a single run.
type OrchestratorConfig struct {
	MaxIterations     int    `mapstructure:"max_iterations"`
	Mode              string `mapstructure:"mode"`
	ExecutorMaxRounds int    `mapstructure:"executor_max_rounds"`
	Rephrase          bool   `mapstructure:"rephrase"`
}

// Normalize applies defaults for unset values.
func (c OrchestratorConfig) Normalize() OrchestratorConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModePlan
	}
	if c.ExecutorMaxRounds <= 0 {
		c.ExecutorMaxRounds = 15
	}
	return c
}

func (c OrchestratorConfig) Validate() error {
	if c.Mode != ModePlan && c.Mode != ModeFilter {
		return fmt.Errorf("orchestrator.mode must be %q or %q, got %q", ModePlan, ModeFilter, c.Mode)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("orchestrator.max_iterations must be >= 1")
	}
	return nil
}

// QueueConfig controls admission.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// Normalize applies defaults for unset values.
func (c QueueConfig) Normalize() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	return c
}

// ToolsConfig lists the MCP servers that make up the tool catalogue.
type ToolsConfig struct {
	Servers          []MCPServerConfig `mapstructure:"servers"`
	DiscoveryTimeout time.Duration     `mapstructure:"discovery_timeout"`
}

// MCPServerConfig configures an MCP server connection.
type MCPServerConfig struct {
	Name        string            `mapstructure:"name"`
	Transport   string            `mapstructure:"transport"` // streamable (default), sse, stdio
	URL         string            `mapstructure:"url"`
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	Headers     map[string]string `mapstructure:"headers"`
	DeniedTools []string          `mapstructure:"denied_tools"` // Tools to exclude from the catalogue
}

func (c ToolsConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("tools.servers[%d].name required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("tools.servers: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		switch strings.ToLower(s.Transport) {
		case "stdio":
			if strings.TrimSpace(s.Command) == "" {
				return fmt.Errorf("tools.servers.%s.command required for stdio transport", s.Name)
			}
		case "", "streamable", "http", "sse":
			if _, err := url.ParseRequestURI(s.URL); err != nil {
				return fmt.Errorf("tools.servers.%s.url invalid: %w", s.Name, err)
			}
		default:
			return fmt.Errorf("tools.servers.%s.transport %q is not supported", s.Name, s.Transport)
		}
	}
	return nil
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		return s.Redis.Validate()
	case BackendPostgres:
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	RunTTL    time.Duration `mapstructure:"run_ttl"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring URL when set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + ssl,
	}
	return u.String()
}

// StreamsConfig mirrors run progress into Redis Streams.
type StreamsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
	MaxLen  int64  `mapstructure:"max_len"`
	Group   string `mapstructure:"group"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"` // stdout or otlp
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	MetricsPort    int    `mapstructure:"metrics_port"`
	ServiceVersion string `mapstructure:"service_version"`
}

func (t TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	switch t.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter must be stdout or otlp, got %q", t.Exporter)
	}
	if t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.service_name", "urska")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.stream_buffer", 16)
	v.SetDefault("llm.routing.fallback", "")
	v.SetDefault("orchestrator.max_iterations", 5)
	v.SetDefault("orchestrator.mode", ModePlan)
	v.SetDefault("orchestrator.executor_max_rounds", 15)
	v.SetDefault("orchestrator.rephrase", true)
	v.SetDefault("queue.capacity", 1)
	v.SetDefault("tools.discovery_timeout", 30*time.Second)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "urska")
	v.SetDefault("storage.redis.run_ttl", 7*24*time.Hour)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("streams.enabled", false)
	v.SetDefault("streams.prefix", "urska.progress")
	v.SetDefault("streams.max_len", 1000)
	v.SetDefault("streams.group", "urska-tail")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
}

// Load reads configuration from path (or the usual search locations when path
// is empty), then overlays URSKA_* environment variables. A .env file in the
// working directory is loaded first. A missing config file is only an error
// when path was given explicitly.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if path == "" {
		v.SetConfigName("config") // name of config file (without extension)
		v.SetConfigType("json")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("URSKA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (URSKA_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Orchestrator = cfg.Orchestrator.Normalize()
	cfg.Queue = cfg.Queue.Normalize()

	for _, validate := range []func() error{
		cfg.Orchestrator.Validate,
		cfg.Tools.Validate,
		cfg.Storage.Validate,
		cfg.Telemetry.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Streams.Enabled {
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return nil, fmt.Errorf("streams enabled: %w", err)
		}
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on failure
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
