package config

import (
	"time"
)

// Config is the full vigil configuration.
type Config struct {
	Model        ModelConfig        `json:"model" mapstructure:"model"`
	Conversation ConversationConfig `json:"conversation" mapstructure:"conversation"`
	Script       ScriptConfig       `json:"script" mapstructure:"script"`
	Cache        CacheConfig        `json:"cache" mapstructure:"cache"`
	Gateway      GatewayConfig      `json:"gateway" mapstructure:"gateway"`
	Browser      BrowserConfig      `json:"browser" mapstructure:"browser"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	DataDir      string             `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig holds the model endpoint settings.
type ModelConfig struct {
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url"`
	Model        string  `json:"model" mapstructure:"model"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// ConversationConfig bounds the agent loop.
type ConversationConfig struct {
	MaxTurns           int `json:"max_turns" mapstructure:"max_turns"`
	MaxHistoryMessages int `json:"max_history_messages" mapstructure:"max_history_messages"`
	LoopThreshold      int `json:"loop_threshold" mapstructure:"loop_threshold"`
	RetentionMinutes   int `json:"retention_minutes" mapstructure:"retention_minutes"`
	SweepMinutes       int `json:"sweep_minutes" mapstructure:"sweep_minutes"`
}

// ScriptConfig holds script-execution settings.
type ScriptConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// CacheConfig bounds the per-target capture buffer.
type CacheConfig struct {
	Capacity int `json:"capacity" mapstructure:"capacity"`
}

// GatewayConfig holds the HTTP surface settings.
type GatewayConfig struct {
	Addr         string `json:"addr" mapstructure:"addr"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// BrowserConfig controls the optional in-process page runner. When
// CDPUrl is set the gateway attaches to that browser over DevTools and
// serves script executions itself instead of waiting for a websocket
// runner.
type BrowserConfig struct {
	CDPUrl string `json:"cdp_url" mapstructure:"cdp_url"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			BaseURL:     "https://api.anthropic.com",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0,
		},
		Conversation: ConversationConfig{
			MaxTurns:           500,
			MaxHistoryMessages: 10,
			LoopThreshold:      3,
			RetentionMinutes:   30,
			SweepMinutes:       5,
		},
		Script: ScriptConfig{
			TimeoutSeconds: 30,
		},
		Cache: CacheConfig{
			Capacity: 500,
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8790",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// ScriptTimeout returns the script deadline as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Script.TimeoutSeconds) * time.Second
}

// Retention returns the terminal-conversation retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Conversation.RetentionMinutes) * time.Minute
}

// SweepInterval returns how often the janitor runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Conversation.SweepMinutes) * time.Minute
}
