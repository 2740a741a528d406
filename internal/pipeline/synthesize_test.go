package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/taskbeacon/taskbeacon/internal/agent"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

func rawFields(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		t.Fatalf("bad fixture %q: %v", raw, err)
	}
	return fields
}

func TestMergeOutputsPriority(t *testing.T) {
	outputs := []analysisOutput{
		{role: agent.RoleImageAnalyzer, fields: rawFields(t, `{"title": "C", "organizer_name": "FromImage"}`)},
		{role: agent.RoleURLParser, fields: rawFields(t, `{"title": "A"}`)},
		{role: agent.RoleContentExtractor, fields: rawFields(t, `{"title": "B", "category": "writing"}`)},
	}

	merged := mergeOutputs(outputs)
	if string(merged["title"]) != `"A"` {
		t.Errorf("title = %s, expected url_parser's value to win", merged["title"])
	}
	if string(merged["category"]) != `"writing"` {
		t.Errorf("category should come from content_extractor, got %s", merged["category"])
	}
	if string(merged["organizer_name"]) != `"FromImage"` {
		t.Errorf("field only the image analyzer saw must survive, got %s", merged["organizer_name"])
	}
}

func TestMergeOutputsNullNeverShadows(t *testing.T) {
	outputs := []analysisOutput{
		{role: agent.RoleURLParser, fields: rawFields(t, `{"title": "A", "deadline": null}`)},
		{role: agent.RoleContentExtractor, fields: rawFields(t, `{"deadline": "2025-06-01"}`)},
	}

	merged := mergeOutputs(outputs)
	if string(merged["deadline"]) != `"2025-06-01"` {
		t.Errorf("null from a higher-priority source must not shadow a real value, got %s", merged["deadline"])
	}
}

func TestBuildRecord(t *testing.T) {
	fields := rawFields(t, `{
		"title": "  Ship the feature  ",
		"summary": "Do it",
		"deadline": "2025-06-01",
		"reward_amount": 500,
		"reward_currency": "usd",
		"reward_type": "each",
		"tags": ["Dev", "dev", "backend"],
		"difficulty_level": "medium",
		"estimated_hours": 6
	}`)

	rec, err := buildRecord(fields)
	if err != nil {
		t.Fatalf("buildRecord failed: %v", err)
	}
	if rec.Title != "Ship the feature" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.RewardCurrency != "USD" {
		t.Errorf("currency should be uppercased, got %q", rec.RewardCurrency)
	}
	if len(rec.Tags) != 2 {
		t.Errorf("tags should be deduplicated, got %v", rec.Tags)
	}
	expected := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if rec.Deadline == nil || !rec.Deadline.Equal(expected) {
		t.Errorf("deadline = %v", rec.Deadline)
	}
	if rec.DifficultyLevel != models.DifficultyMedium {
		t.Errorf("difficulty = %q", rec.DifficultyLevel)
	}
}

func TestBuildRecordDropsBadFields(t *testing.T) {
	fields := rawFields(t, `{
		"title": "Valid",
		"reward_amount": -10,
		"reward_currency": "WAYTOOLONGCODE",
		"difficulty_level": "impossible",
		"estimated_hours": 0,
		"deadline": "whenever"
	}`)

	rec, err := buildRecord(fields)
	if err != nil {
		t.Fatalf("buildRecord should drop bad fields, not fail: %v", err)
	}
	if rec.RewardAmount != nil {
		t.Error("negative reward should be dropped")
	}
	if rec.RewardCurrency != "" {
		t.Errorf("over-length currency should be dropped, got %q", rec.RewardCurrency)
	}
	if rec.DifficultyLevel != models.DifficultyUnset {
		t.Errorf("unknown difficulty should be dropped, got %q", rec.DifficultyLevel)
	}
	if rec.EstimatedHours != nil {
		t.Error("zero hours should be dropped")
	}
	if rec.Deadline != nil {
		t.Error("unparseable deadline should be dropped")
	}
}

func TestBuildRecordRequiresTitle(t *testing.T) {
	if _, err := buildRecord(rawFields(t, `{"summary": "no title"}`)); err == nil {
		t.Error("expected error for missing title")
	}
}

func TestParseDeadlineFormats(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-06-01 18:30:00", time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)},
		{"2025-06-01T18:30:00Z", time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseDeadline(tt.input)
		if err != nil {
			t.Errorf("parseDeadline(%q) failed: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("parseDeadline(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}

	if _, err := parseDeadline("next tuesday"); err == nil {
		t.Error("expected error for free-form deadline")
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(rawFields(t, `{"confidence": 0.85, "issues": ["missing reward"]}`))
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if v.Confidence != 0.85 || len(v.Issues) != 1 {
		t.Errorf("verdict = %+v", v)
	}

	if _, err := parseVerdict(rawFields(t, `{"confidence": 1.5}`)); err == nil {
		t.Error("expected out-of-range confidence rejected")
	}
}
