package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskbeacon/taskbeacon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify taskbeacon configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/taskbeacon/config.yaml
Project-specific overrides can be placed in .taskbeacon.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

func displayAllConfig(cfg *config.Config) {
	header := color.New(color.Bold)

	header.Println("anthropic")
	fmt.Printf("  api_key:        %s (%s)\n", config.MaskAPIKey(cfg.Anthropic.APIKey), config.GetAPIKeySource(cfg))
	fmt.Printf("  use_bedrock:    %v\n", cfg.Anthropic.UseBedrock)
	if cfg.Anthropic.UseBedrock {
		fmt.Printf("  aws_region:     %s\n", cfg.Anthropic.AWSRegion)
		fmt.Printf("  aws_profile:    %s\n", cfg.Anthropic.AWSProfile)
	}

	header.Println("telegram")
	token := "(not set)"
	if cfg.Telegram.BotToken != "" {
		token = "(set)"
	}
	fmt.Printf("  bot_token:      %s\n", token)

	header.Println("email")
	fmt.Printf("  host:           %s\n", cfg.Email.Host)
	fmt.Printf("  port:           %d\n", cfg.Email.Port)
	fmt.Printf("  from:           %s\n", cfg.Email.From)

	header.Println("pipeline")
	fmt.Printf("  run_timeout:    %s\n", cfg.Pipeline.RunTimeout)
	fmt.Printf("  cache_ttl:      %s\n", cfg.Pipeline.CacheTTL)
	fmt.Printf("  agents_file:    %s\n", cfg.Pipeline.AgentsFile)

	header.Println("scheduler")
	fmt.Printf("  tick:           %s\n", cfg.Scheduler.Tick)
	fmt.Printf("  sweep_interval: %s\n", cfg.Scheduler.SweepInterval)
	fmt.Printf("  max_attempts:   %d\n", cfg.Scheduler.MaxAttempts)
	fmt.Printf("  claim_max_age:  %s\n", cfg.Scheduler.ClaimMaxAge)

	header.Println("database")
	path := cfg.Database.Path
	if path == "" {
		path = "(default)"
	}
	fmt.Printf("  path:           %s\n", path)
}

func displayConfigKey(cfg *config.Config, key string) {
	switch key {
	case "anthropic.api_key":
		fmt.Println(config.MaskAPIKey(cfg.Anthropic.APIKey))
	case "anthropic.use_bedrock":
		fmt.Println(cfg.Anthropic.UseBedrock)
	case "telegram.bot_token":
		fmt.Println(config.MaskAPIKey(cfg.Telegram.BotToken))
	case "email.host":
		fmt.Println(cfg.Email.Host)
	case "email.port":
		fmt.Println(cfg.Email.Port)
	case "email.from":
		fmt.Println(cfg.Email.From)
	case "pipeline.run_timeout":
		fmt.Println(cfg.Pipeline.RunTimeout)
	case "pipeline.cache_ttl":
		fmt.Println(cfg.Pipeline.CacheTTL)
	case "pipeline.agents_file":
		fmt.Println(cfg.Pipeline.AgentsFile)
	case "scheduler.tick":
		fmt.Println(cfg.Scheduler.Tick)
	case "scheduler.sweep_interval":
		fmt.Println(cfg.Scheduler.SweepInterval)
	case "scheduler.max_attempts":
		fmt.Println(cfg.Scheduler.MaxAttempts)
	case "scheduler.claim_max_age":
		fmt.Println(cfg.Scheduler.ClaimMaxAge)
	case "database.path":
		fmt.Println(cfg.Database.Path)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
}

func setConfigKey(cfg *config.Config, key, value string) {
	var err error
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.use_bedrock":
		cfg.Anthropic.UseBedrock, err = strconv.ParseBool(value)
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "telegram.bot_token":
		cfg.Telegram.BotToken = value
	case "email.host":
		cfg.Email.Host = value
	case "email.port":
		cfg.Email.Port, err = strconv.Atoi(value)
	case "email.from":
		cfg.Email.From = value
	case "email.username":
		cfg.Email.Username = value
	case "pipeline.run_timeout":
		cfg.Pipeline.RunTimeout, err = time.ParseDuration(value)
	case "pipeline.cache_ttl":
		cfg.Pipeline.CacheTTL, err = time.ParseDuration(value)
	case "pipeline.agents_file":
		cfg.Pipeline.AgentsFile = value
	case "scheduler.tick":
		cfg.Scheduler.Tick, err = time.ParseDuration(value)
	case "scheduler.sweep_interval":
		cfg.Scheduler.SweepInterval, err = time.ParseDuration(value)
	case "scheduler.max_attempts":
		cfg.Scheduler.MaxAttempts, err = strconv.Atoi(value)
	case "scheduler.claim_max_age":
		cfg.Scheduler.ClaimMaxAge, err = time.ParseDuration(value)
	case "database.path":
		cfg.Database.Path = value
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid value for %s: %v\n", key, err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	color.Green("Set %s", key)
}
