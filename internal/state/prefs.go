package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// GetPreferences loads a user's preferences, falling back to defaults
// when the user has never saved any.
func (db *DB) GetPreferences(userID string) (*models.Preferences, error) {
	row := db.QueryRow(`
		SELECT user_id, quality_threshold, output_verbosity, auto_create,
			enabled_channels, disabled_offsets
		FROM user_prefs WHERE user_id = ?
	`, userID)

	var prefs models.Preferences
	var autoCreate int
	var channels, offsets string
	err := row.Scan(&prefs.UserID, &prefs.QualityThreshold, &prefs.OutputVerbosity,
		&autoCreate, &channels, &offsets)
	if err == sql.ErrNoRows {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences for %s: %w", userID, err)
	}

	prefs.AutoCreate = autoCreate != 0
	if err := json.Unmarshal([]byte(channels), &prefs.EnabledChannels); err != nil {
		return nil, fmt.Errorf("decode enabled channels: %w", err)
	}
	if err := json.Unmarshal([]byte(offsets), &prefs.DisabledOffsets); err != nil {
		return nil, fmt.Errorf("decode disabled offsets: %w", err)
	}
	return &prefs, nil
}

// SavePreferences upserts a user's preferences.
func (db *DB) SavePreferences(prefs *models.Preferences) error {
	channels, err := json.Marshal(prefs.EnabledChannels)
	if err != nil {
		return fmt.Errorf("encode enabled channels: %w", err)
	}
	offsets, err := json.Marshal(prefs.DisabledOffsets)
	if err != nil {
		return fmt.Errorf("encode disabled offsets: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO user_prefs (
			user_id, quality_threshold, output_verbosity, auto_create,
			enabled_channels, disabled_offsets, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			quality_threshold = excluded.quality_threshold,
			output_verbosity = excluded.output_verbosity,
			auto_create = excluded.auto_create,
			enabled_channels = excluded.enabled_channels,
			disabled_offsets = excluded.disabled_offsets,
			updated_at = excluded.updated_at
	`, prefs.UserID, prefs.QualityThreshold, prefs.OutputVerbosity,
		boolToInt(prefs.AutoCreate), string(channels), string(offsets),
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save preferences for %s: %w", prefs.UserID, err)
	}
	return nil
}
