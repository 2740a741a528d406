// Package reminder plans and delivers deadline notifications with
// at-most-once semantics per (subject, user, offset).
package reminder

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// PlanSchedule computes the firing set for a deadline. Offsets whose
// fire time already passed are recorded as skipped rather than firing
// late, and offsets the user opted out of are skipped up front.
func PlanSchedule(subjectID, userID string, deadline time.Time, userPrefs *models.Preferences, now time.Time) *models.ReminderSchedule {
	sched := &models.ReminderSchedule{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		UserID:    userID,
		Deadline:  deadline.UTC(),
		CreatedAt: now.UTC(),
		Firings:   make(map[string]*models.Firing, len(models.DefaultOffsets)),
	}

	for _, off := range models.DefaultOffsets {
		status := models.FiringPending
		scheduledAt := deadline.Add(-off.Lead).UTC()
		if !scheduledAt.After(now) {
			status = models.FiringSkipped
		}
		if userPrefs != nil && !userPrefs.OffsetEnabled(off.Name) {
			status = models.FiringSkipped
		}
		sched.Firings[off.Name] = &models.Firing{
			ScheduleID:  sched.ID,
			SubjectID:   subjectID,
			UserID:      userID,
			OffsetName:  off.Name,
			ScheduledAt: scheduledAt,
			Status:      status,
		}
	}
	return sched
}
