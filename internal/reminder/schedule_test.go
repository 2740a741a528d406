package reminder

import (
	"strings"
	"testing"
	"time"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

func TestPlanScheduleAllFuture(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(4 * 24 * time.Hour)

	sched := PlanSchedule("task-1", "user-1", deadline, models.DefaultPreferences("user-1"), now)

	if len(sched.Firings) != 3 {
		t.Fatalf("expected 3 firings, got %d", len(sched.Firings))
	}
	expected := map[string]time.Time{
		"3d": deadline.Add(-72 * time.Hour),
		"1d": deadline.Add(-24 * time.Hour),
		"2h": deadline.Add(-2 * time.Hour),
	}
	for name, at := range expected {
		f := sched.Firings[name]
		if f == nil {
			t.Fatalf("missing firing %s", name)
		}
		if !f.ScheduledAt.Equal(at) {
			t.Errorf("%s scheduled at %v, expected %v", name, f.ScheduledAt, at)
		}
		if f.Status != models.FiringPending {
			t.Errorf("%s status = %s, expected pending", name, f.Status)
		}
	}
}

func TestPlanSchedulePastOffsetsSkipped(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	// Deadline two days out: the 3d offset has already passed.
	sched := PlanSchedule("task-1", "user-1", now.Add(48*time.Hour), nil, now)
	if got := sched.Firings["3d"].Status; got != models.FiringSkipped {
		t.Errorf("3d status = %s, expected skipped", got)
	}
	if got := sched.Firings["1d"].Status; got != models.FiringPending {
		t.Errorf("1d status = %s, expected pending", got)
	}

	// Deadline one hour out: nothing can fire anymore.
	sched = PlanSchedule("task-2", "user-1", now.Add(time.Hour), nil, now)
	if len(sched.Pending()) != 0 {
		t.Errorf("expected no pending firings for an imminent deadline, got %v", sched.Pending())
	}
}

func TestPlanScheduleUserOptOut(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	userPrefs := models.DefaultPreferences("user-1")
	userPrefs.DisabledOffsets = []string{"2h"}

	sched := PlanSchedule("task-1", "user-1", now.Add(5*24*time.Hour), userPrefs, now)
	if got := sched.Firings["2h"].Status; got != models.FiringSkipped {
		t.Errorf("opted-out offset status = %s, expected skipped", got)
	}
	if got := sched.Firings["3d"].Status; got != models.FiringPending {
		t.Errorf("3d status = %s, expected pending", got)
	}
}

func TestRenderReminderSubjects(t *testing.T) {
	deadline := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	tests := []struct {
		offset   string
		expected string
	}{
		{"3d", "Task Reminder - 3 Days Left"},
		{"1d", "Task Reminder - 1 Day Left"},
		{"2h", "Task Reminder - 2 Hours Left"},
	}
	for _, tt := range tests {
		msg := RenderReminder(tt.offset, "Ship it", deadline)
		if msg.Subject != tt.expected {
			t.Errorf("subject for %s = %q, expected %q", tt.offset, msg.Subject, tt.expected)
		}
		if !strings.Contains(msg.Body, "Ship it") {
			t.Errorf("body should name the task: %q", msg.Body)
		}
		if !strings.Contains(msg.Body, "2025-06-01") {
			t.Errorf("body should carry the deadline: %q", msg.Body)
		}
	}
}
