package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// SaveRun persists a pipeline run for later inspection.
func (db *DB) SaveRun(run *models.PipelineRun) error {
	stages, err := json.Marshal(run.StageResults)
	if err != nil {
		return fmt.Errorf("encode stage results: %w", err)
	}

	var finishedAt any
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC()
	}

	_, err = db.Exec(`
		INSERT INTO pipeline_runs (
			run_id, input_fingerprint, classified_type, status,
			started_at, finished_at, stages
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			stages = excluded.stages
	`, run.RunID, run.InputFingerprint, run.ClassifiedType,
		string(run.Status), run.StartedAt.UTC(), finishedAt, string(stages))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun loads one pipeline run by ID.
func (db *DB) GetRun(runID string) (*models.PipelineRun, error) {
	row := db.QueryRow(`
		SELECT run_id, input_fingerprint, classified_type, status,
			started_at, finished_at, stages
		FROM pipeline_runs WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return run, nil
}

// ListRecentRuns returns the most recent pipeline runs.
func (db *DB) ListRecentRuns(limit int) ([]*models.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT run_id, input_fingerprint, classified_type, status,
			started_at, finished_at, stages
		FROM pipeline_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(s scanner) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var classified, status string
	var finishedAt sql.NullTime
	var stages sql.NullString

	err := s.Scan(&run.RunID, &run.InputFingerprint, &classified, &status,
		&run.StartedAt, &finishedAt, &stages)
	if err != nil {
		return nil, err
	}

	run.ClassifiedType = classified
	run.Status = models.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if stages.Valid && stages.String != "" {
		if err := json.Unmarshal([]byte(stages.String), &run.StageResults); err != nil {
			return nil, fmt.Errorf("decode stage results: %w", err)
		}
	}
	return &run, nil
}
