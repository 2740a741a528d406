// Package config handles configuration loading for taskbeacon.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for taskbeacon.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Email     EmailConfig     `mapstructure:"email"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// AnthropicConfig holds model provider settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// TelegramConfig holds the Telegram delivery channel settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// EmailConfig holds the SMTP delivery channel settings.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// RunTimeout bounds one whole pipeline run.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// CacheTTL is how long completed results answer for identical input.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// AgentsFile points at an agents.yaml overriding built-in agent
	// configs. Empty means built-ins.
	AgentsFile string `mapstructure:"agents_file"`
}

// SchedulerConfig holds notification scheduler settings.
type SchedulerConfig struct {
	Tick          time.Duration `mapstructure:"tick"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	ClaimMaxAge   time.Duration `mapstructure:"claim_max_age"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite file. Empty means the XDG default.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, TELEGRAM_BOT_TOKEN)
// 2. Project config (.taskbeacon.yaml in current directory or parent)
// 3. User config (~/.config/taskbeacon/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("email.password", "TASKBEACON_SMTP_PASSWORD")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Telegram.BotToken = os.ExpandEnv(cfg.Telegram.BotToken)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Telegram.BotToken = os.ExpandEnv(cfg.Telegram.BotToken)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("telegram.bot_token", cfg.Telegram.BotToken)
	v.Set("email.host", cfg.Email.Host)
	v.Set("email.port", cfg.Email.Port)
	v.Set("email.from", cfg.Email.From)
	v.Set("email.username", cfg.Email.Username)
	v.Set("pipeline.run_timeout", cfg.Pipeline.RunTimeout.String())
	v.Set("pipeline.cache_ttl", cfg.Pipeline.CacheTTL.String())
	v.Set("pipeline.agents_file", cfg.Pipeline.AgentsFile)
	v.Set("scheduler.tick", cfg.Scheduler.Tick.String())
	v.Set("scheduler.sweep_interval", cfg.Scheduler.SweepInterval.String())
	v.Set("scheduler.max_attempts", cfg.Scheduler.MaxAttempts)
	v.Set("scheduler.claim_max_age", cfg.Scheduler.ClaimMaxAge.String())
	v.Set("database.path", cfg.Database.Path)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("telegram.bot_token", "")

	v.SetDefault("email.port", 587)

	v.SetDefault("pipeline.run_timeout", "5m")
	v.SetDefault("pipeline.cache_ttl", "10m")

	v.SetDefault("scheduler.tick", "30s")
	v.SetDefault("scheduler.sweep_interval", "1h")
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.claim_max_age", "5m")

	v.SetDefault("database.path", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Email: EmailConfig{
			Port: 587,
		},
		Pipeline: PipelineConfig{
			RunTimeout: 5 * time.Minute,
			CacheTTL:   10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Tick:          30 * time.Second,
			SweepInterval: time.Hour,
			MaxAttempts:   3,
			ClaimMaxAge:   5 * time.Minute,
		},
	}
}

// getUserConfigDir returns the XDG config directory for taskbeacon.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskbeacon")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskbeacon")
	}
	return filepath.Join(home, ".config", "taskbeacon")
}

// findProjectConfig searches for .taskbeacon.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskbeacon.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
