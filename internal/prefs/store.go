// Package prefs exposes per-user preference storage to the pipeline
// and the notification scheduler.
package prefs

import (
	"sync"

	"github.com/taskbeacon/taskbeacon/internal/state"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// Store reads and writes user preferences. Get never fails on an
// unknown user: it returns the defaults.
type Store interface {
	Get(userID string) (*models.Preferences, error)
	Save(prefs *models.Preferences) error
}

// MemoryStore holds preferences in memory. Used by tests and one-shot
// invocations that have no database.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*models.Preferences
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.Preferences)}
}

// Get returns a copy of the user's preferences, or defaults.
func (s *MemoryStore) Get(userID string) (*models.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.users[userID]; ok {
		copied := *p
		return &copied, nil
	}
	return models.DefaultPreferences(userID), nil
}

// Save stores a copy of the preferences.
func (s *MemoryStore) Save(prefs *models.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *prefs
	s.users[prefs.UserID] = &copied
	return nil
}

// DBStore persists preferences in SQLite.
type DBStore struct {
	db *state.DB
}

// NewDBStore wraps a database as a Store.
func NewDBStore(db *state.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(userID string) (*models.Preferences, error) {
	return s.db.GetPreferences(userID)
}

func (s *DBStore) Save(prefs *models.Preferences) error {
	return s.db.SavePreferences(prefs)
}
