package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults shared across binaries.
const (
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultLLMBaseURL      = "https://api.openai.com/v1"
	DefaultLLMTimeout      = 60 * time.Second
	DefaultToolTimeout     = 30 * time.Second
	DefaultClassifyTimeout = 10 * time.Second

	DefaultMaxStepIterations = 4
	DefaultMaxPlanIterations = 5
	DefaultQueueBuffer       = 256
	DefaultClassifierCache   = 128
	DefaultClassifierMinLen  = 5

	DefaultHTTPHost = "127.0.0.1"
	DefaultHTTPPort = 8080
)

// LLMConfig configures the chat-completions collaborator.
type LLMConfig struct {
	Model   string        `mapstructure:"model" yaml:"model"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ClassifierConfig configures intent routing.
type ClassifierConfig struct {
	Keywords  []string      `mapstructure:"keywords" yaml:"keywords"`
	MinLength int           `mapstructure:"min_length" yaml:"min_length"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WorkflowConfig bounds the planning/execution loops.
type WorkflowConfig struct {
	MaxStepIterations int           `mapstructure:"max_step_iterations" yaml:"max_step_iterations"`
	MaxPlanIterations int           `mapstructure:"max_plan_iterations" yaml:"max_plan_iterations"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
}

// StreamConfig bounds the per-thread event queue.
type StreamConfig struct {
	QueueBuffer int `mapstructure:"queue_buffer" yaml:"queue_buffer"`
}

// ServerConfig configures the HTTP/websocket surface.
type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	EnableCORS bool   `mapstructure:"enable_cors" yaml:"enable_cors"`
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
}

// TracingConfig configures the OTLP trace exporter. Empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Config is the root runtime configuration.
type Config struct {
	LogLevel   string           `mapstructure:"log_level" yaml:"log_level"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Workflow   WorkflowConfig   `mapstructure:"workflow" yaml:"workflow"`
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

func defaultKeywords() []string {
	return []string{
		"sprint", "sprints", "task", "tasks", "backlog", "epic", "epics",
		"story", "stories", "milestone", "assignee", "kanban", "standup",
		"velocity", "burndown", "retrospective", "deadline",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.base_url", DefaultLLMBaseURL)
	v.SetDefault("llm.timeout", DefaultLLMTimeout)
	v.SetDefault("classifier.keywords", defaultKeywords())
	v.SetDefault("classifier.min_length", DefaultClassifierMinLen)
	v.SetDefault("classifier.cache_size", DefaultClassifierCache)
	v.SetDefault("classifier.timeout", DefaultClassifyTimeout)
	v.SetDefault("workflow.max_step_iterations", DefaultMaxStepIterations)
	v.SetDefault("workflow.max_plan_iterations", DefaultMaxPlanIterations)
	v.SetDefault("workflow.tool_timeout", DefaultToolTimeout)
	v.SetDefault("stream.queue_buffer", DefaultQueueBuffer)
	v.SetDefault("server.host", DefaultHTTPHost)
	v.SetDefault("server.port", DefaultHTTPPort)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.debug", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "pma-server")
}

// Load reads configuration from the optional file path plus PMA_* environment
// overrides, falling back to defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would unbound the workflow loops.
func (c *Config) Validate() error {
	if c.Workflow.MaxStepIterations <= 0 {
		return fmt.Errorf("workflow.max_step_iterations must be positive, got %d", c.Workflow.MaxStepIterations)
	}
	if c.Workflow.MaxPlanIterations <= 0 {
		return fmt.Errorf("workflow.max_plan_iterations must be positive, got %d", c.Workflow.MaxPlanIterations)
	}
	if c.Stream.QueueBuffer <= 0 {
		return fmt.Errorf("stream.queue_buffer must be positive, got %d", c.Stream.QueueBuffer)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.Workflow.ToolTimeout <= 0 {
		return fmt.Errorf("workflow.tool_timeout must be positive, got %s", c.Workflow.ToolTimeout)
	}
	return nil
}
