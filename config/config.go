package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for turnkeeper.
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	ToolServer   ToolServerConfig   `mapstructure:"toolserver"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Store        StoreConfig        `mapstructure:"store"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains logging settings
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

func (g GeneralConfig) Normalize() GeneralConfig {
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.LogFormat == "" {
		g.LogFormat = "console"
	}
	return g
}

func (g GeneralConfig) Validate() error {
	switch g.LogFormat {
	case "json", "console":
		return nil
	}
	return fmt.Errorf("general.log_format must be json or console, got %q", g.LogFormat)
}

// ServerConfig contains the HTTP API settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig configures the completion service
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// APIKeyOrEnv falls back to OPENAI_API_KEY.
func (l LLMConfig) APIKeyOrEnv() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	return nil
}

// ToolsConfig points at the JSON-RPC tool services
type ToolsConfig struct {
	SearchURL  string `mapstructure:"search_url"`
	SummaryURL string `mapstructure:"summary_url"`
}

func (t ToolsConfig) Validate() error {
	if strings.TrimSpace(t.SearchURL) == "" {
		return fmt.Errorf("tools.search_url is required")
	}
	if strings.TrimSpace(t.SummaryURL) == "" {
		return fmt.Errorf("tools.summary_url is required")
	}
	return nil
}

// ToolServerConfig configures the bundled tool services
type ToolServerConfig struct {
	SearchAddress  string `mapstructure:"search_address"`
	SummaryAddress string `mapstructure:"summary_address"`
	SerperAPIKey   string `mapstructure:"serper_api_key"`
	SerperURL      string `mapstructure:"serper_url"`
	Results        int    `mapstructure:"results"`
}

// SerperKeyOrEnv falls back to SERPER_API_KEY.
func (t ToolServerConfig) SerperKeyOrEnv() string {
	if t.SerperAPIKey != "" {
		return t.SerperAPIKey
	}
	return os.Getenv("SERPER_API_KEY")
}

// OrchestratorConfig bounds remote calls and context windows
type OrchestratorConfig struct {
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	HistoryWindow int           `mapstructure:"history_window"`
	SummaryWindow int           `mapstructure:"summary_window"`
}

func (o OrchestratorConfig) Validate() error {
	if o.CallTimeout < 0 {
		return fmt.Errorf("orchestrator.call_timeout must not be negative")
	}
	if o.HistoryWindow <= 0 {
		return fmt.Errorf("orchestrator.history_window must be > 0")
	}
	if o.SummaryWindow <= 0 {
		return fmt.Errorf("orchestrator.summary_window must be > 0")
	}
	return nil
}

// StoreConfig locates the turn log and selects its lock
type StoreConfig struct {
	Path string     `mapstructure:"path"`
	Lock LockConfig `mapstructure:"lock"`
}

// LockConfig selects between an in-process and a Redis lock
type LockConfig struct {
	Backend string        `mapstructure:"backend"` // process or redis
	Redis   RedisConfig   `mapstructure:"redis"`
	TTL     time.Duration `mapstructure:"ttl"`
	Key     string        `mapstructure:"key"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("store.lock.redis.address required")
	}
	return nil
}

func (s StoreConfig) Normalize() StoreConfig {
	s.Lock.Backend = strings.ToLower(strings.TrimSpace(s.Lock.Backend))
	if s.Lock.Backend == "" {
		s.Lock.Backend = "process"
	}
	if s.Lock.Key == "" {
		s.Lock.Key = "turnkeeper:lock:" + filepath.Base(s.Path)
	}
	return s
}

func (s StoreConfig) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	switch s.Lock.Backend {
	case "process":
		return nil
	case "redis":
		if s.Lock.TTL <= 0 {
			return fmt.Errorf("store.lock.ttl must be > 0 for the redis lock")
		}
		return s.Lock.Redis.Validate()
	}
	return fmt.Errorf("store.lock.backend must be process or redis, got %q", s.Lock.Backend)
}

// TelemetryConfig toggles the /metrics endpoint
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "console")
	v.SetDefault("server.address", ":5000")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4.1-nano")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("tools.search_url", "http://localhost:8001/rpc")
	v.SetDefault("tools.summary_url", "http://localhost:8002/rpc")
	v.SetDefault("toolserver.search_address", ":8001")
	v.SetDefault("toolserver.summary_address", ":8002")
	v.SetDefault("toolserver.serper_url", "https://google.serper.dev/search")
	v.SetDefault("toolserver.results", 5)
	v.SetDefault("orchestrator.call_timeout", 90*time.Second)
	v.SetDefault("orchestrator.history_window", 5)
	v.SetDefault("orchestrator.summary_window", 3)
	v.SetDefault("store.path", "state.csv")
	v.SetDefault("store.lock.backend", "process")
	v.SetDefault("store.lock.ttl", 2*time.Minute)
	v.SetDefault("store.lock.redis.address", "localhost:6379")
	v.SetDefault("telemetry.enabled", true)
}

// LoadConfig reads turnkeeper.json from path, or from the usual locations
// when path is empty. A missing file in the usual locations is not an
// error; every setting has a default and can come from TURNKEEPER_* env.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("turnkeeper")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
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

	v.SetEnvPrefix("TURNKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.General = cfg.General.Normalize()
	cfg.Store = cfg.Store.Normalize()

	for _, check := range []func() error{
		cfg.General.Validate,
		cfg.LLM.Validate,
		cfg.Tools.Validate,
		cfg.Orchestrator.Validate,
		cfg.Store.Validate,
	} {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
