package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskbeacon/taskbeacon/internal/config"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

var prefsUser string

var prefsCmd = &cobra.Command{
	Use:   "prefs [key] [value]",
	Short: "Manage per-user preferences",
	Long: `View or modify preferences for a user.

Without arguments, displays the user's current preferences.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the preference.

Keys:
  quality_threshold   confidence floor in [0,1] (e.g. 0.7)
  output_verbosity    summary or detailed
  auto_create         true or false
  channels            comma-separated list (telegram,push,email)
  disabled_offsets    comma-separated offset names (3d,1d,2h), or "none"`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		db, err := openDatabase(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		store := prefs.NewDBStore(db)
		p, err := store.Get(prefsUser)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading preferences: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayPrefs(p)
		case 1:
			displayPrefKey(p, args[0])
		default:
			setPrefKey(store, p, args[0], args[1])
		}
	},
}

func init() {
	prefsCmd.Flags().StringVar(&prefsUser, "user", "default", "user the preferences belong to")
}

func displayPrefs(p *models.Preferences) {
	header := color.New(color.Bold)
	header.Printf("preferences for %s\n", p.UserID)
	fmt.Printf("  quality_threshold: %.2f\n", p.QualityThreshold)
	fmt.Printf("  output_verbosity:  %s\n", p.OutputVerbosity)
	fmt.Printf("  auto_create:       %v\n", p.AutoCreate)
	fmt.Printf("  channels:          %s\n", joinChannels(p.EnabledChannels))
	offsets := strings.Join(p.DisabledOffsets, ",")
	if offsets == "" {
		offsets = "none"
	}
	fmt.Printf("  disabled_offsets:  %s\n", offsets)
}

func displayPrefKey(p *models.Preferences, key string) {
	switch key {
	case "quality_threshold":
		fmt.Printf("%.2f\n", p.QualityThreshold)
	case "output_verbosity":
		fmt.Println(p.OutputVerbosity)
	case "auto_create":
		fmt.Println(p.AutoCreate)
	case "channels":
		fmt.Println(joinChannels(p.EnabledChannels))
	case "disabled_offsets":
		if len(p.DisabledOffsets) == 0 {
			fmt.Println("none")
		} else {
			fmt.Println(strings.Join(p.DisabledOffsets, ","))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown preference key: %s\n", key)
		os.Exit(1)
	}
}

func setPrefKey(store prefs.Store, p *models.Preferences, key, value string) {
	switch key {
	case "quality_threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 || v > 1 {
			fmt.Fprintf(os.Stderr, "quality_threshold must be a number in [0,1]\n")
			os.Exit(1)
		}
		p.QualityThreshold = v
	case "output_verbosity":
		if value != "summary" && value != "detailed" {
			fmt.Fprintf(os.Stderr, "output_verbosity must be summary or detailed\n")
			os.Exit(1)
		}
		p.OutputVerbosity = value
	case "auto_create":
		v, err := strconv.ParseBool(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "auto_create must be true or false\n")
			os.Exit(1)
		}
		p.AutoCreate = v
	case "channels":
		chs, err := parseChannels(value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		p.EnabledChannels = chs
	case "disabled_offsets":
		offs, err := parseOffsetNames(value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		p.DisabledOffsets = offs
	default:
		fmt.Fprintf(os.Stderr, "Unknown preference key: %s\n", key)
		os.Exit(1)
	}

	if err := store.Save(p); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving preferences: %v\n", err)
		os.Exit(1)
	}
	color.Green("Set %s for %s", key, p.UserID)
}

func joinChannels(chs []models.Channel) string {
	names := make([]string, len(chs))
	for i, c := range chs {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func parseChannels(value string) ([]models.Channel, error) {
	var chs []models.Channel
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		switch models.Channel(part) {
		case models.ChannelTelegram, models.ChannelPush, models.ChannelEmail:
			chs = append(chs, models.Channel(part))
		default:
			return nil, fmt.Errorf("unknown channel %q (want telegram, push, or email)", part)
		}
	}
	return chs, nil
}

func parseOffsetNames(value string) ([]string, error) {
	if value == "none" || value == "" {
		return nil, nil
	}
	var names []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if _, err := models.ParseOffset(part); err != nil {
			return nil, err
		}
		names = append(names, part)
	}
	return names, nil
}
