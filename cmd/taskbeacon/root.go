package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskbeacon",
	Short: "Task extraction & reminder service",
	Long: `Taskbeacon turns free-form input (text, URLs, screenshots) into
structured task records and keeps you ahead of their deadlines.

A pipeline of specialized model agents classifies the input, fetches
referenced pages, extracts task details, and synthesizes one record
with a confidence score. Records with deadlines get reminders at
3 days, 1 day, and 2 hours before they are due, delivered over
Telegram, push, or email.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(remindCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(versionCmd)
}
