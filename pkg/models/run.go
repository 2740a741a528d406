package models

import "time"

// RunStatus represents the terminal or in-flight state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	// RunPartial indicates required stages succeeded but optional
	// components failed or confidence fell below the quality threshold.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Terminal returns true when the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunPartial || s == RunFailed
}

// StageState describes the outcome of one pipeline stage.
type StageState string

const (
	StageSucceeded StageState = "succeeded"
	StageSkipped   StageState = "skipped"
	StageFailed    StageState = "failed"
)

// StageResult holds the outcome of a single stage or fan-out component.
type StageResult struct {
	// Stage is the stage or component name (classify, fetch, url_parser, ...).
	Stage string `json:"stage"`
	// State is the outcome.
	State StageState `json:"state"`
	// Error is the failure message when State is StageFailed.
	Error string `json:"error,omitempty"`
	// Kind tags the failure with the error taxonomy when State is StageFailed.
	Kind ErrorKind `json:"kind,omitempty"`
}

// PipelineRun is the bookkeeping record for one execution of the
// orchestration pipeline. It is owned exclusively by that execution:
// only the pipeline mutates it, and once the result is returned it is
// kept purely as an audit record.
type PipelineRun struct {
	// RunID uniquely identifies this run.
	RunID string `json:"run_id"`
	// InputFingerprint is the hash of the normalized input, used for
	// idempotency and result caching.
	InputFingerprint string `json:"input_fingerprint"`
	// ClassifiedType is the detected input kind (text, url, image, mixed).
	ClassifiedType string `json:"classified_type,omitempty"`
	// StageResults records stage outcomes. Sequential stages appear in
	// execution order; fanned-out analysis components appear in
	// completion order.
	StageResults []StageResult `json:"stage_results"`
	// StartedAt is when the run entered the pipeline.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is set only once Status is terminal.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is the current run state.
	Status RunStatus `json:"status"`
}

// RecordStage appends a stage outcome to the run.
func (r *PipelineRun) RecordStage(res StageResult) {
	r.StageResults = append(r.StageResults, res)
}

// Finish moves the run to a terminal status and stamps FinishedAt.
func (r *PipelineRun) Finish(status RunStatus, at time.Time) {
	r.Status = status
	r.FinishedAt = &at
}

// StageFor returns the recorded result for a stage name, if present.
func (r *PipelineRun) StageFor(name string) (StageResult, bool) {
	for _, sr := range r.StageResults {
		if sr.Stage == name {
			return sr, true
		}
	}
	return StageResult{}, false
}

// PipelineResult is the caller-facing outcome of ProcessInput. Errors
// are aggregated here; they never cross the pipeline boundary as
// panics or opaque failures.
type PipelineResult struct {
	// RunID identifies the run that produced this result.
	RunID string `json:"run_id"`
	// Status is the terminal run status.
	Status RunStatus `json:"status"`
	// Record is the synthesized task record, present on RunSucceeded
	// and RunPartial.
	Record *TaskRecord `json:"record,omitempty"`
	// Errors lists per-component failures so a caller can decide
	// whether to accept a partial result or re-submit.
	Errors []StageResult `json:"errors,omitempty"`
	// Cached is true when the result was served from the fingerprint cache.
	Cached bool `json:"cached,omitempty"`
}

// FailedStages extracts the failed stage results from a run.
func FailedStages(run *PipelineRun) []StageResult {
	var failed []StageResult
	for _, sr := range run.StageResults {
		if sr.State == StageFailed {
			failed = append(failed, sr)
		}
	}
	return failed
}
