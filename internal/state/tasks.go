package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// StoredTask is a task record with its persistence envelope.
type StoredTask struct {
	models.TaskRecord
	UserID    string
	CreatedAt time.Time
}

// SaveTaskRecord persists a task record for a user. A missing ID is
// assigned here so callers can hand over synthesized records directly.
func (db *DB) SaveTaskRecord(userID string, rec *models.TaskRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO task_records (
			id, user_id, title, summary, description, deadline, category,
			reward_amount, reward_currency, reward_type, tags,
			difficulty_level, estimated_hours, organizer_name, source_url,
			confidence, low_confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			description = excluded.description,
			deadline = excluded.deadline,
			category = excluded.category,
			reward_amount = excluded.reward_amount,
			reward_currency = excluded.reward_currency,
			reward_type = excluded.reward_type,
			tags = excluded.tags,
			difficulty_level = excluded.difficulty_level,
			estimated_hours = excluded.estimated_hours,
			organizer_name = excluded.organizer_name,
			source_url = excluded.source_url,
			confidence = excluded.confidence,
			low_confidence = excluded.low_confidence
	`, rec.ID, userID, rec.Title, rec.Summary, rec.Description,
		nullableTime(rec.Deadline), rec.Category,
		nullableFloat(rec.RewardAmount), rec.RewardCurrency, rec.RewardType,
		string(tags), string(rec.DifficultyLevel), nullableInt(rec.EstimatedHours),
		rec.OrganizerName, rec.SourceURL, rec.Confidence,
		boolToInt(rec.LowConfidence), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save task record %s: %w", rec.ID, err)
	}
	return nil
}

// GetTaskRecord loads one task record by ID.
func (db *DB) GetTaskRecord(id string) (*StoredTask, error) {
	row := db.QueryRow(`
		SELECT id, user_id, title, summary, description, deadline, category,
			reward_amount, reward_currency, reward_type, tags,
			difficulty_level, estimated_hours, organizer_name, source_url,
			confidence, low_confidence, created_at
		FROM task_records WHERE id = ?
	`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load task record %s: %w", id, err)
	}
	return task, nil
}

// ListTaskRecords returns a user's task records, most recent first.
func (db *DB) ListTaskRecords(userID string, limit int) ([]*StoredTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, user_id, title, summary, description, deadline, category,
			reward_amount, reward_currency, reward_type, tags,
			difficulty_level, estimated_hours, organizer_name, source_url,
			confidence, low_confidence, created_at
		FROM task_records WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()

	var tasks []*StoredTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListUpcomingDeadlines returns tasks whose deadline falls within the
// window, across all users. Used by the deadline sweep.
func (db *DB) ListUpcomingDeadlines(within time.Duration) ([]*StoredTask, error) {
	now := time.Now().UTC()
	rows, err := db.Query(`
		SELECT id, user_id, title, summary, description, deadline, category,
			reward_amount, reward_currency, reward_type, tags,
			difficulty_level, estimated_hours, organizer_name, source_url,
			confidence, low_confidence, created_at
		FROM task_records
		WHERE deadline IS NOT NULL AND deadline > ? AND deadline <= ?
		ORDER BY deadline ASC
	`, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("list upcoming deadlines: %w", err)
	}
	defer rows.Close()

	var tasks []*StoredTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*StoredTask, error) {
	var task StoredTask
	var deadline sql.NullTime
	var rewardAmount sql.NullFloat64
	var estimatedHours sql.NullInt64
	var tags string
	var difficulty string
	var lowConfidence int

	err := s.Scan(&task.ID, &task.UserID, &task.Title, &task.Summary,
		&task.Description, &deadline, &task.Category,
		&rewardAmount, &task.RewardCurrency, &task.RewardType, &tags,
		&difficulty, &estimatedHours, &task.OrganizerName, &task.SourceURL,
		&task.Confidence, &lowConfidence, &task.CreatedAt)
	if err != nil {
		return nil, err
	}

	if deadline.Valid {
		t := deadline.Time
		task.Deadline = &t
	}
	if rewardAmount.Valid {
		v := rewardAmount.Float64
		task.RewardAmount = &v
	}
	if estimatedHours.Valid {
		v := int(estimatedHours.Int64)
		task.EstimatedHours = &v
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &task.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	task.DifficultyLevel = models.Difficulty(difficulty)
	task.LowConfidence = lowConfidence != 0

	return &task, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
