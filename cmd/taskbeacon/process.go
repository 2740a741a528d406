package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskbeacon/taskbeacon/internal/classify"
	"github.com/taskbeacon/taskbeacon/internal/config"
	"github.com/taskbeacon/taskbeacon/internal/model"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

var (
	processURL    string
	processImage  string
	processUser   string
	processCreate bool
)

var processCmd = &cobra.Command{
	Use:   "process [text]",
	Short: "Extract a task from text, a URL, or an image",
	Long: `Run input through the extraction pipeline and print the synthesized
task record.

Input components combine freely: text may embed URLs, --url adds an
explicit one, --image attaches a screenshot. With --create the record
is persisted and reminders are scheduled for its deadline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processURL, "url", "", "URL to fetch and analyze")
	processCmd.Flags().StringVar(&processImage, "image", "", "Path to an image to analyze")
	processCmd.Flags().StringVar(&processUser, "user", "default", "User the task belongs to")
	processCmd.Flags().BoolVar(&processCreate, "create", false, "Persist the record and schedule reminders")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	input := classify.Input{URL: processURL}
	if len(args) == 1 {
		input.Text = args[0]
	}
	if processImage != "" {
		data, err := os.ReadFile(processImage)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		input.ImageData = data
	}
	if input.Empty() {
		return fmt.Errorf("nothing to process: provide text, --url, or --image")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := prefs.NewDBStore(db)
	scheduler := buildScheduler(cfg, db, store, buildChannels(cfg, nil))
	p, usage, err := buildPipeline(cfg, db, store, scheduler)
	if err != nil {
		return err
	}

	result, err := p.ProcessInput(cmd.Context(), processUser, input)
	if err != nil {
		return err
	}

	printResult(result)
	printUsage(usage)

	if processCreate && result.Record != nil {
		sink := &taskSink{db: db, scheduler: scheduler}
		if err := sink.Create(cmd.Context(), processUser, result.Record); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		color.Green("Created task %s", result.Record.ID)
		if result.Record.Deadline != nil {
			fmt.Printf("Reminders scheduled for deadline %s\n",
				result.Record.Deadline.Format(time.RFC3339))
		}
	}
	return nil
}

func printUsage(usage *model.UsageStats) {
	snap := usage.Snapshot()
	if snap.Requests == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("Model calls: %d (%d failed), %d in / %d out tokens, ~$%.4f\n",
		snap.Requests, snap.Errors, snap.InputTokens, snap.OutputTokens, usage.Cost())
}

func printResult(result *models.PipelineResult) {
	header := color.New(color.Bold)

	switch result.Status {
	case models.RunSucceeded:
		color.Green("Run %s: succeeded", result.RunID)
	case models.RunPartial:
		color.Yellow("Run %s: partial", result.RunID)
	default:
		color.Red("Run %s: %s", result.RunID, result.Status)
	}
	if result.Cached {
		fmt.Println("(served from cache)")
	}

	if rec := result.Record; rec != nil {
		fmt.Println()
		header.Println(rec.Title)
		if rec.Summary != "" {
			fmt.Println(rec.Summary)
		}
		if rec.Deadline != nil {
			fmt.Printf("Deadline:   %s\n", rec.Deadline.Format("2006-01-02 15:04 MST"))
		}
		if rec.RewardAmount != nil {
			fmt.Printf("Reward:     %.2f %s (%s)\n", *rec.RewardAmount, rec.RewardCurrency, rec.RewardType)
		}
		if rec.Category != "" {
			fmt.Printf("Category:   %s\n", rec.Category)
		}
		if len(rec.Tags) > 0 {
			fmt.Printf("Tags:       %s\n", strings.Join(rec.Tags, ", "))
		}
		if rec.DifficultyLevel != models.DifficultyUnset {
			fmt.Printf("Difficulty: %s\n", rec.DifficultyLevel)
		}
		if rec.OrganizerName != "" {
			fmt.Printf("Organizer:  %s\n", rec.OrganizerName)
		}
		fmt.Printf("Confidence: %.2f", rec.Confidence)
		if rec.LowConfidence {
			color.Yellow("  (below your quality threshold)")
		} else {
			fmt.Println()
		}
	}

	if len(result.Errors) > 0 {
		fmt.Println()
		color.Yellow("Component failures:")
		for _, stageErr := range result.Errors {
			fmt.Printf("  %-18s %s\n", stageErr.Stage+":", stageErr.Error)
		}
	}
}
