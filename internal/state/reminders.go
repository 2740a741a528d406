package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// SaveSchedule persists a schedule and its firings in one transaction.
// Re-saving the same (subject, user) pair is a no-op for firings that
// already exist, so scheduling is idempotent.
func (db *DB) SaveSchedule(sched *models.ReminderSchedule) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO reminder_schedules (id, subject_id, user_id, deadline, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(subject_id, user_id) DO NOTHING
		`, sched.ID, sched.SubjectID, sched.UserID, sched.Deadline.UTC(), sched.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("save schedule %s: %w", sched.ID, err)
		}

		// Resolve the canonical schedule ID in case one already existed.
		var schedID string
		row := tx.QueryRow(`SELECT id FROM reminder_schedules WHERE subject_id = ? AND user_id = ?`,
			sched.SubjectID, sched.UserID)
		if err := row.Scan(&schedID); err != nil {
			return fmt.Errorf("resolve schedule id: %w", err)
		}
		sched.ID = schedID

		for _, firing := range sched.Firings {
			firing.ScheduleID = schedID
			_, err := tx.Exec(`
				INSERT INTO reminder_firings (
					schedule_id, subject_id, user_id, offset_name,
					scheduled_at, status, attempt_count
				) VALUES (?, ?, ?, ?, ?, ?, 0)
				ON CONFLICT(subject_id, user_id, offset_name) DO NOTHING
			`, schedID, firing.SubjectID, firing.UserID, firing.OffsetName,
				firing.ScheduledAt.UTC(), string(firing.Status))
			if err != nil {
				return fmt.Errorf("save firing %s/%s: %w", firing.SubjectID, firing.OffsetName, err)
			}
		}
		return nil
	})
}

// LoadSchedule loads a schedule and its firings for a subject and user.
func (db *DB) LoadSchedule(subjectID, userID string) (*models.ReminderSchedule, error) {
	var sched models.ReminderSchedule
	row := db.QueryRow(`
		SELECT id, subject_id, user_id, deadline, created_at
		FROM reminder_schedules WHERE subject_id = ? AND user_id = ?
	`, subjectID, userID)
	if err := row.Scan(&sched.ID, &sched.SubjectID, &sched.UserID, &sched.Deadline, &sched.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("schedule for %s/%s not found", subjectID, userID)
		}
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	rows, err := db.Query(`
		SELECT id, schedule_id, subject_id, user_id, offset_name, scheduled_at,
			status, attempt_count, last_error, claimed_at, sent_at
		FROM reminder_firings WHERE schedule_id = ?
	`, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("load firings: %w", err)
	}
	defer rows.Close()

	sched.Firings = make(map[string]*models.Firing)
	for rows.Next() {
		firing, err := scanFiring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		sched.Firings[firing.OffsetName] = firing
	}
	return &sched, rows.Err()
}

// LoadDue returns pending firings whose scheduled time has passed.
func (db *DB) LoadDue(now time.Time, limit int) ([]*models.Firing, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, schedule_id, subject_id, user_id, offset_name, scheduled_at,
			status, attempt_count, last_error, claimed_at, sent_at
		FROM reminder_firings
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("load due firings: %w", err)
	}
	defer rows.Close()

	var firings []*models.Firing
	for rows.Next() {
		firing, err := scanFiring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		firings = append(firings, firing)
	}
	return firings, rows.Err()
}

// ClaimFiring atomically moves a pending firing to claimed. Returns
// false when another worker already holds it or it left pending state.
// This compare-and-swap is what makes delivery at-most-once.
func (db *DB) ClaimFiring(id int64, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'claimed', claimed_at = ?, attempt_count = attempt_count + 1
		WHERE id = ? AND status = 'pending'
	`, now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("claim firing %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim firing %d: %w", id, err)
	}
	return n == 1, nil
}

// MarkSent finalizes a claimed firing as sent.
func (db *DB) MarkSent(id int64, now time.Time) error {
	_, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'sent', sent_at = ?, claimed_at = NULL, last_error = NULL
		WHERE id = ? AND status = 'claimed'
	`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark firing %d sent: %w", id, err)
	}
	return nil
}

// ReleaseFiring returns a claimed firing to pending after a transient
// delivery failure, recording the error for the next attempt.
func (db *DB) ReleaseFiring(id int64, deliveryErr string) error {
	_, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'pending', claimed_at = NULL, last_error = ?
		WHERE id = ? AND status = 'claimed'
	`, deliveryErr, id)
	if err != nil {
		return fmt.Errorf("release firing %d: %w", id, err)
	}
	return nil
}

// SkipFiring finalizes a claimed firing as skipped, for offsets the
// user opted out of after scheduling.
func (db *DB) SkipFiring(id int64) error {
	_, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'skipped', claimed_at = NULL
		WHERE id = ? AND status = 'claimed'
	`, id)
	if err != nil {
		return fmt.Errorf("skip firing %d: %w", id, err)
	}
	return nil
}

// MarkFailed finalizes a claimed firing as failed once its attempt
// budget is spent.
func (db *DB) MarkFailed(id int64, deliveryErr string) error {
	_, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'failed', claimed_at = NULL, last_error = ?
		WHERE id = ? AND status = 'claimed'
	`, deliveryErr, id)
	if err != nil {
		return fmt.Errorf("mark firing %d failed: %w", id, err)
	}
	return nil
}

// CancelPending cancels every non-terminal firing for a subject and
// user. Already sent or failed firings keep their state.
func (db *DB) CancelPending(subjectID, userID string) (int64, error) {
	res, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'cancelled', claimed_at = NULL
		WHERE subject_id = ? AND user_id = ? AND status IN ('pending', 'claimed')
	`, subjectID, userID)
	if err != nil {
		return 0, fmt.Errorf("cancel firings for %s/%s: %w", subjectID, userID, err)
	}
	return res.RowsAffected()
}

// RecoverStale returns claimed firings back to pending when their
// claim has outlived maxAge. Covers workers that crashed mid-dispatch.
func (db *DB) RecoverStale(now time.Time, maxAge time.Duration) (int64, error) {
	cutoff := now.Add(-maxAge).UTC()
	res, err := db.Exec(`
		UPDATE reminder_firings
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'claimed' AND claimed_at <= ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale claims: %w", err)
	}
	return res.RowsAffected()
}

func scanFiring(s scanner) (*models.Firing, error) {
	var firing models.Firing
	var status string
	var lastError sql.NullString
	var claimedAt, sentAt sql.NullTime

	err := s.Scan(&firing.ID, &firing.ScheduleID, &firing.SubjectID,
		&firing.UserID, &firing.OffsetName, &firing.ScheduledAt,
		&status, &firing.AttemptCount, &lastError, &claimedAt, &sentAt)
	if err != nil {
		return nil, err
	}

	firing.Status = models.FiringStatus(status)
	if lastError.Valid {
		firing.LastError = lastError.String
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		firing.ClaimedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		firing.SentAt = &t
	}
	return &firing, nil
}
