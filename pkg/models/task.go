// Package models defines the shared data types for taskbeacon: task
// records produced by the pipeline, pipeline run bookkeeping, reminder
// schedules, user preferences, and the error taxonomy.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Limits applied when normalizing a TaskRecord.
const (
	// MaxTagLength is the maximum number of runes allowed per tag.
	MaxTagLength = 50
	// MaxTags is the maximum number of tags kept on a record.
	MaxTags = 20
	// MaxCurrencyLength is the maximum length of a currency code.
	MaxCurrencyLength = 10
)

// Difficulty represents the self-reported difficulty of a task.
type Difficulty string

const (
	DifficultyUnset  Difficulty = ""
	DifficultyLow    Difficulty = "low"
	DifficultyMedium Difficulty = "medium"
	DifficultyHigh   Difficulty = "high"
)

// Valid returns true if the difficulty is a known value.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyUnset, DifficultyLow, DifficultyMedium, DifficultyHigh:
		return true
	default:
		return false
	}
}

// TaskRecord is the structured output of one pipeline run. It is
// immutable once returned by the pipeline.
type TaskRecord struct {
	// ID is assigned by the task repository when the record is persisted.
	ID string `json:"id,omitempty"`
	// Title is the short name of the task. Required.
	Title string `json:"title"`
	// Summary is a one or two sentence overview.
	Summary string `json:"summary,omitempty"`
	// Description is the full task description.
	Description string `json:"description,omitempty"`
	// Deadline is the task deadline, if one was found.
	Deadline *time.Time `json:"deadline,omitempty"`
	// Category is a free-form category name (hackathon, writing, ...).
	Category string `json:"category,omitempty"`
	// RewardAmount is the reward value, if any. Never negative.
	RewardAmount *float64 `json:"reward_amount,omitempty"`
	// RewardCurrency is the reward currency code (USD, USDC, ...).
	RewardCurrency string `json:"reward_currency,omitempty"`
	// RewardType describes how the reward is distributed (each, split, raffle, points, perk).
	RewardType string `json:"reward_type,omitempty"`
	// Tags is a deduplicated set of short labels.
	Tags []string `json:"tags,omitempty"`
	// DifficultyLevel is the estimated difficulty, if reported.
	DifficultyLevel Difficulty `json:"difficulty_level,omitempty"`
	// EstimatedHours is the estimated effort, if reported. Never negative.
	EstimatedHours *int `json:"estimated_hours,omitempty"`
	// OrganizerName is the inferred organizer, if any.
	OrganizerName string `json:"organizer_name,omitempty"`
	// SourceURL is the URL the record was extracted from, if any.
	SourceURL string `json:"source_url,omitempty"`
	// Confidence is the synthesizer's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// LowConfidence is set when the record scored below the user's
	// quality threshold but was returned anyway.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Validate checks the hard invariants of a TaskRecord. The
// reward-without-currency case is a soft invariant: it is reported by
// MissingCurrency, not rejected here.
func (r *TaskRecord) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("task record: title is required")
	}
	if r.RewardAmount != nil && *r.RewardAmount < 0 {
		return fmt.Errorf("task record: reward amount %v is negative", *r.RewardAmount)
	}
	if len(r.RewardCurrency) > MaxCurrencyLength {
		return fmt.Errorf("task record: currency code %q exceeds %d chars", r.RewardCurrency, MaxCurrencyLength)
	}
	if r.EstimatedHours != nil && *r.EstimatedHours < 0 {
		return fmt.Errorf("task record: estimated hours %d is negative", *r.EstimatedHours)
	}
	if !r.DifficultyLevel.Valid() {
		return fmt.Errorf("task record: unknown difficulty %q", r.DifficultyLevel)
	}
	return nil
}

// MissingCurrency reports the soft invariant: a reward amount present
// without a currency code.
func (r *TaskRecord) MissingCurrency() bool {
	return r.RewardAmount != nil && r.RewardCurrency == ""
}

// NormalizeTags deduplicates tags, trims whitespace, drops empty or
// over-length entries, and caps the set at MaxTags. Order of first
// occurrence is preserved.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || len([]rune(tag)) > MaxTagLength {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
