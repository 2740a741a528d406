package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskbeacon/taskbeacon/internal/config"
	"github.com/taskbeacon/taskbeacon/internal/reminder"
	"github.com/taskbeacon/taskbeacon/internal/state"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

var statusUser string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored tasks, upcoming deadlines, and recent runs",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", "default", "User whose tasks to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No tasks yet. Run 'taskbeacon process <text>' to extract one.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	header := color.New(color.Bold)

	header.Println("Upcoming deadlines (7 days)")
	upcoming, err := db.ListUpcomingDeadlines(7 * 24 * time.Hour)
	if err != nil {
		return err
	}
	if len(upcoming) == 0 {
		fmt.Println("  none")
	}
	for _, task := range upcoming {
		remaining := time.Until(*task.Deadline).Round(time.Hour)
		line := "  " + reminder.RenderUpcoming(task.Title, *task.Deadline, time.Now()).Body
		if remaining < 24*time.Hour {
			color.Red(line)
		} else if remaining < 72*time.Hour {
			color.Yellow(line)
		} else {
			fmt.Println(line)
		}
	}

	fmt.Println()
	header.Printf("Recent tasks for %s\n", statusUser)
	tasks, err := db.ListTaskRecords(statusUser, 10)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("  none")
	}
	for _, task := range tasks {
		deadline := "no deadline"
		if task.Deadline != nil {
			deadline = task.Deadline.Format("2006-01-02")
		}
		fmt.Printf("  %-36s  %-40.40s %s\n", task.ID, task.Title, deadline)
	}

	fmt.Println()
	header.Println("Recent pipeline runs")
	runs, err := db.ListRecentRuns(5)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("  none")
	}
	for _, run := range runs {
		line := fmt.Sprintf("  %s  %-9s %s", run.StartedAt.Format("2006-01-02 15:04"), run.Status, run.RunID)
		switch run.Status {
		case models.RunSucceeded:
			color.Green(line)
		case models.RunPartial:
			color.Yellow(line)
		case models.RunFailed:
			color.Red(line)
		default:
			fmt.Println(line)
		}
	}
	return nil
}
