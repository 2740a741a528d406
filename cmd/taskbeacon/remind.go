package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskbeacon/taskbeacon/internal/config"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

var remindUser string

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Manage reminder schedules",
}

var remindScheduleCmd = &cobra.Command{
	Use:   "schedule <task-id>",
	Short: "Schedule reminders for a task's deadline",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemindSchedule,
}

var remindCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel pending reminders for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemindCancel,
}

var remindStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show reminder firings for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemindStatus,
}

var remindSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Plan reminders for every task due within 7 days",
	RunE:  runRemindSweep,
}

func init() {
	remindCmd.PersistentFlags().StringVar(&remindUser, "user", "default", "User the reminders belong to")
	remindCmd.AddCommand(remindScheduleCmd)
	remindCmd.AddCommand(remindCancelCmd)
	remindCmd.AddCommand(remindStatusCmd)
	remindCmd.AddCommand(remindSweepCmd)
}

func runRemindSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTaskRecord(args[0])
	if err != nil {
		return err
	}
	if task.Deadline == nil {
		return fmt.Errorf("task %q has no deadline to remind about", task.Title)
	}

	store := prefs.NewDBStore(db)
	scheduler := buildScheduler(cfg, db, store, nil)
	sched, err := scheduler.Schedule(task.ID, remindUser, *task.Deadline)
	if err != nil {
		return err
	}

	color.Green("Scheduled reminders for %q (deadline %s)",
		task.Title, task.Deadline.Format("2006-01-02 15:04 MST"))
	printFirings(sched)
	return nil
}

func runRemindCancel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	scheduler := buildScheduler(cfg, db, prefs.NewDBStore(db), nil)
	n, err := scheduler.Cancel(args[0], remindUser)
	if err != nil {
		return err
	}
	fmt.Printf("Cancelled %d pending reminder(s)\n", n)
	return nil
}

func runRemindStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sched, err := db.LoadSchedule(args[0], remindUser)
	if err != nil {
		return err
	}
	fmt.Printf("Deadline: %s\n", sched.Deadline.Format("2006-01-02 15:04 MST"))
	printFirings(sched)
	return nil
}

func runRemindSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	scheduler := buildScheduler(cfg, db, prefs.NewDBStore(db), nil)
	if err := scheduler.Sweep(cmd.Context()); err != nil {
		return err
	}
	color.Green("Sweep complete")
	return nil
}

func printFirings(sched *models.ReminderSchedule) {
	for _, off := range models.DefaultOffsets {
		firing, ok := sched.Firings[off.Name]
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-3s at %s: %s", off.Name,
			firing.ScheduledAt.Format(time.RFC3339), firing.Status)
		switch firing.Status {
		case models.FiringSent:
			color.Green(line)
		case models.FiringFailed:
			color.Red(line + "  " + firing.LastError)
		case models.FiringPending:
			fmt.Println(line)
		default:
			color.Yellow(line)
		}
	}
}
