package models

import (
	"fmt"
	"time"
)

// Offset is a named lead-time before a deadline at which a reminder fires.
type Offset struct {
	// Name is the stable identifier for the offset ("3d", "1d", "2h").
	Name string `json:"name"`
	// Lead is how long before the deadline the reminder fires.
	Lead time.Duration `json:"lead"`
}

// DefaultOffsets are the standard reminder lead-times.
var DefaultOffsets = []Offset{
	{Name: "3d", Lead: 72 * time.Hour},
	{Name: "1d", Lead: 24 * time.Hour},
	{Name: "2h", Lead: 2 * time.Hour},
}

// OffsetByName looks up a default offset by its name.
func OffsetByName(name string) (Offset, bool) {
	for _, o := range DefaultOffsets {
		if o.Name == name {
			return o, true
		}
	}
	return Offset{}, false
}

// ParseOffset parses an offset name of the form "<n>d" or "<n>h" into
// an Offset. Unknown forms are rejected.
func ParseOffset(name string) (Offset, error) {
	if o, ok := OffsetByName(name); ok {
		return o, nil
	}
	var n int
	var unit rune
	if _, err := fmt.Sscanf(name, "%d%c", &n, &unit); err != nil || n <= 0 {
		return Offset{}, fmt.Errorf("invalid offset %q", name)
	}
	switch unit {
	case 'd':
		return Offset{Name: name, Lead: time.Duration(n) * 24 * time.Hour}, nil
	case 'h':
		return Offset{Name: name, Lead: time.Duration(n) * time.Hour}, nil
	case 'm':
		return Offset{Name: name, Lead: time.Duration(n) * time.Minute}, nil
	default:
		return Offset{}, fmt.Errorf("invalid offset %q", name)
	}
}

// FiringStatus represents the state of a single scheduled firing.
//
// Transitions only move forward: pending -> {sent, failed, cancelled},
// plus the crash-recovery cycle pending -> claimed -> pending. A firing
// whose scheduledAt is already past at creation time is born skipped
// and never dispatched.
type FiringStatus string

const (
	FiringPending   FiringStatus = "pending"
	FiringClaimed   FiringStatus = "claimed"
	FiringSent      FiringStatus = "sent"
	FiringFailed    FiringStatus = "failed"
	FiringCancelled FiringStatus = "cancelled"
	FiringSkipped   FiringStatus = "skipped"
)

// Terminal returns true when no further transitions are allowed.
func (s FiringStatus) Terminal() bool {
	return s == FiringSent || s == FiringFailed || s == FiringCancelled || s == FiringSkipped
}

// Firing is one planned reminder occurrence. The triple
// (SubjectID, UserID, OffsetName) is the natural unique key: it fires
// at most once, enforced by a unique constraint in the store.
type Firing struct {
	// ID is the store-assigned identifier.
	ID int64 `json:"id"`
	// ScheduleID groups the firings created by one schedule call.
	ScheduleID string `json:"schedule_id"`
	// SubjectID is the task or record this reminder is about.
	SubjectID string `json:"subject_id"`
	// UserID is the recipient.
	UserID string `json:"user_id"`
	// OffsetName names the lead-time ("3d", "1d", "2h").
	OffsetName string `json:"offset_name"`
	// ScheduledAt is deadline minus the offset lead.
	ScheduledAt time.Time `json:"scheduled_at"`
	// Status is the firing state.
	Status FiringStatus `json:"status"`
	// AttemptCount is how many dispatch attempts have been made.
	AttemptCount int `json:"attempt_count"`
	// LastError holds the most recent delivery failure, if any.
	LastError string `json:"last_error,omitempty"`
	// ClaimedAt is set while a worker holds the dispatch claim.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	// SentAt is set when a delivery succeeded on any channel.
	SentAt *time.Time `json:"sent_at,omitempty"`
}

// ReminderSchedule is the set of firings created for one
// (subject, user, deadline) combination.
type ReminderSchedule struct {
	// ID identifies the schedule.
	ID string `json:"id"`
	// SubjectID is the deadline-bearing record.
	SubjectID string `json:"subject_id"`
	// UserID is the recipient.
	UserID string `json:"user_id"`
	// Deadline is the subject's deadline the offsets count back from.
	Deadline time.Time `json:"deadline"`
	// Firings maps offset name to the planned firing.
	Firings map[string]*Firing `json:"firings"`
	// CreatedAt is when the schedule was created.
	CreatedAt time.Time `json:"created_at"`
}

// Pending returns the offset names still pending, in no particular order.
func (s *ReminderSchedule) Pending() []string {
	var names []string
	for name, f := range s.Firings {
		if f.Status == FiringPending {
			names = append(names, name)
		}
	}
	return names
}

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelPush     Channel = "push"
	ChannelEmail    Channel = "email"
)

// Preferences holds per-user settings consulted by the pipeline and the
// reminder scheduler.
type Preferences struct {
	// UserID is the owner of these preferences.
	UserID string `json:"user_id"`
	// QualityThreshold is the minimum synthesis confidence in [0,1]
	// below which results are flagged low-confidence.
	QualityThreshold float64 `json:"quality_threshold"`
	// OutputVerbosity controls how much detail callers get back
	// (summary or detailed).
	OutputVerbosity string `json:"output_verbosity"`
	// AutoCreate persists synthesized records through the task
	// repository without an explicit confirmation step.
	AutoCreate bool `json:"auto_create"`
	// EnabledChannels lists the delivery channels the user accepts.
	EnabledChannels []Channel `json:"enabled_channels"`
	// DisabledOffsets lists offset names the user opted out of.
	DisabledOffsets []string `json:"disabled_offsets,omitempty"`
}

// DefaultQualityThreshold is the confidence floor applied when a user
// never configured one.
const DefaultQualityThreshold = 0.7

// DefaultPreferences returns the settings applied to users who never
// configured any.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:           userID,
		QualityThreshold: DefaultQualityThreshold,
		OutputVerbosity:  "summary",
		AutoCreate:       false,
		EnabledChannels:  []Channel{ChannelPush},
	}
}

// ChannelEnabled reports whether the user accepts the given channel.
func (p Preferences) ChannelEnabled(ch Channel) bool {
	for _, c := range p.EnabledChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// OffsetEnabled reports whether the user accepts the given offset.
func (p Preferences) OffsetEnabled(name string) bool {
	for _, n := range p.DisabledOffsets {
		if n == name {
			return false
		}
	}
	return true
}
