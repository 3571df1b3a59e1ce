package config

import (
	"fmt"
	"net"
	"strings"
)

// Validator checks configuration values before the daemon starts.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateAPIKey(cfg.Model.APIKey); err != nil {
		return err
	}
	if cfg.Model.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.Model.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if cfg.Conversation.MaxTurns <= 0 {
		return fmt.Errorf("max turns must be positive")
	}
	if cfg.Conversation.MaxHistoryMessages <= 0 {
		return fmt.Errorf("max history messages must be positive")
	}
	if cfg.Script.TimeoutSeconds <= 0 {
		return fmt.Errorf("script timeout must be positive")
	}
	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	if err := v.ValidateAddr(cfg.Gateway.Addr); err != nil {
		return err
	}
	if cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway shared secret cannot be empty")
	}
	return nil
}

// ValidateAPIKey validates the model API key format.
func (v *Validator) ValidateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid API key format (should start with sk-ant-)")
	}
	return nil
}

// ValidateAddr validates a host:port listen address.
func (v *Validator) ValidateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("gateway address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid gateway address %q: %w", addr, err)
	}
	return nil
}
