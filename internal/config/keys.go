package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no Anthropic API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource tells where a credential was resolved from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// resolveSecret picks a credential with environment precedence over the
// config file. Unresolved ${VAR} placeholders in the config value count
// as unset.
func resolveSecret(envVar, configured string) (string, KeySource) {
	if v := os.Getenv(envVar); v != "" {
		return v, KeySourceEnv
	}
	if configured != "" {
		v := os.ExpandEnv(configured)
		if v != "" && !strings.HasPrefix(v, "${") {
			return v, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// GetAPIKey returns the Anthropic API key, environment first.
func GetAPIKey(cfg *Config) (string, error) {
	var configured string
	if cfg != nil {
		configured = cfg.Anthropic.APIKey
	}
	key, source := resolveSecret("ANTHROPIC_API_KEY", configured)
	if source == KeySourceNone {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource returns where the Anthropic API key came from.
func GetAPIKeySource(cfg *Config) KeySource {
	var configured string
	if cfg != nil {
		configured = cfg.Anthropic.APIKey
	}
	_, source := resolveSecret("ANTHROPIC_API_KEY", configured)
	return source
}

// GetBotToken returns the Telegram bot token, environment first. An
// empty token just disables the channel, so there is no error case.
func GetBotToken(cfg *Config) string {
	var configured string
	if cfg != nil {
		configured = cfg.Telegram.BotToken
	}
	token, _ := resolveSecret("TELEGRAM_BOT_TOKEN", configured)
	return token
}

// GetSMTPPassword returns the SMTP password, environment first.
func GetSMTPPassword(cfg *Config) string {
	var configured string
	if cfg != nil {
		configured = cfg.Email.Password
	}
	password, _ := resolveSecret("TASKBEACON_SMTP_PASSWORD", configured)
	return password
}

// ValidateAPIKey checks the key's format without calling the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return fmt.Errorf("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey renders a credential safe for display, keeping the prefix
// and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
