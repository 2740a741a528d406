package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskbeacon/taskbeacon/internal/agent"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// mergePriority orders analysis sources from most to least trusted.
// A field set by a higher-priority source is never overwritten by a
// lower one.
var mergePriority = []agent.Role{
	agent.RoleURLParser,
	agent.RoleContentExtractor,
	agent.RoleImageAnalyzer,
}

// analysisOutput is one analyzer's structured result.
type analysisOutput struct {
	role   agent.Role
	fields map[string]json.RawMessage
}

// mergeOutputs folds analyzer outputs into a single field map by
// source priority. Null and absent fields never shadow real values.
func mergeOutputs(outputs []analysisOutput) map[string]json.RawMessage {
	merged := make(map[string]json.RawMessage)
	for _, role := range mergePriority {
		for _, out := range outputs {
			if out.role != role {
				continue
			}
			for key, val := range out.fields {
				if string(val) == "null" {
					continue
				}
				if _, taken := merged[key]; !taken {
					merged[key] = val
				}
			}
		}
	}
	return merged
}

// taskFields is the synthesizer's JSON schema.
type taskFields struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Description     string   `json:"description"`
	Deadline        string   `json:"deadline"`
	Category        string   `json:"category"`
	RewardAmount    *float64 `json:"reward_amount"`
	RewardCurrency  string   `json:"reward_currency"`
	RewardType      string   `json:"reward_type"`
	Tags            []string `json:"tags"`
	DifficultyLevel string   `json:"difficulty_level"`
	EstimatedHours  *int     `json:"estimated_hours"`
	OrganizerName   string   `json:"organizer_name"`
	ExternalLink    string   `json:"external_link"`
}

// buildRecord converts a synthesized field map into a validated task
// record. Fields that fail their own constraint are dropped rather
// than failing the whole record.
func buildRecord(fields map[string]json.RawMessage) (*models.TaskRecord, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("re-encode fields: %w", err)
	}
	var tf taskFields
	if err := json.Unmarshal(payload, &tf); err != nil {
		return nil, models.Errorf(models.ErrMalformedResponse, "decode synthesized fields: %v", err)
	}

	rec := &models.TaskRecord{
		Title:          strings.TrimSpace(tf.Title),
		Summary:        strings.TrimSpace(tf.Summary),
		Description:    tf.Description,
		Category:       tf.Category,
		RewardCurrency: strings.ToUpper(strings.TrimSpace(tf.RewardCurrency)),
		RewardType:     tf.RewardType,
		Tags:           models.NormalizeTags(tf.Tags),
		OrganizerName:  tf.OrganizerName,
		SourceURL:      tf.ExternalLink,
	}

	if tf.RewardAmount != nil && *tf.RewardAmount >= 0 {
		rec.RewardAmount = tf.RewardAmount
	}
	if len(rec.RewardCurrency) > models.MaxCurrencyLength {
		rec.RewardCurrency = ""
	}
	if tf.EstimatedHours != nil && *tf.EstimatedHours > 0 {
		rec.EstimatedHours = tf.EstimatedHours
	}
	if d := models.Difficulty(tf.DifficultyLevel); d.Valid() {
		rec.DifficultyLevel = d
	}
	if tf.Deadline != "" {
		if deadline, err := parseDeadline(tf.Deadline); err == nil {
			rec.Deadline = &deadline
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// deadlineFormats are accepted in order. Bare dates resolve to
// midnight UTC.
var deadlineFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range deadlineFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized deadline format: %q", s)
}

// synthesisPrompt renders the merged analysis for the synthesizer.
func synthesisPrompt(merged map[string]json.RawMessage, outputs []analysisOutput) string {
	var b strings.Builder
	b.WriteString("Synthesize one task from the following analysis results.\n\n")

	for _, out := range outputs {
		payload, err := json.Marshal(out.fields)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", out.role, payload)
	}

	if len(merged) > 0 {
		payload, err := json.Marshal(merged)
		if err == nil {
			fmt.Fprintf(&b, "## merged (source-priority applied)\n%s\n", payload)
		}
	}
	return b.String()
}

// qualityPrompt renders a synthesized record for the quality checker.
func qualityPrompt(rec *models.TaskRecord) string {
	payload, _ := json.Marshal(rec)
	return fmt.Sprintf("Assess the completeness and plausibility of this task record:\n%s", payload)
}

// qualityVerdict is the quality checker's schema.
type qualityVerdict struct {
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

func parseVerdict(fields map[string]json.RawMessage) (*qualityVerdict, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var v qualityVerdict
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, models.Errorf(models.ErrMalformedResponse, "decode quality verdict: %v", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, models.Errorf(models.ErrMalformedResponse, "confidence %v out of range", v.Confidence)
	}
	return &v, nil
}
