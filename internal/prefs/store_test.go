package prefs

import (
	"path/filepath"
	"testing"

	"github.com/taskbeacon/taskbeacon/internal/state"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

func TestMemoryStoreDefaultsForUnknownUser(t *testing.T) {
	store := NewMemoryStore()

	p, err := store.Get("nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.UserID != "nobody" {
		t.Errorf("user ID = %q", p.UserID)
	}
	if p.QualityThreshold != models.DefaultQualityThreshold {
		t.Errorf("threshold = %v, expected default %v", p.QualityThreshold, models.DefaultQualityThreshold)
	}
	if !p.ChannelEnabled(models.ChannelPush) {
		t.Error("defaults should enable push")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	p := models.DefaultPreferences("user-1")
	p.AutoCreate = true
	p.QualityThreshold = 0.5
	p.EnabledChannels = []models.Channel{models.ChannelTelegram}
	if err := store.Save(p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get("user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.AutoCreate || got.QualityThreshold != 0.5 {
		t.Errorf("round-trip lost fields: %+v", got)
	}
	if !got.ChannelEnabled(models.ChannelTelegram) || got.ChannelEnabled(models.ChannelPush) {
		t.Errorf("channels = %v", got.EnabledChannels)
	}
}

func TestMemoryStoreCopySemantics(t *testing.T) {
	store := NewMemoryStore()

	p := models.DefaultPreferences("user-1")
	if err := store.Save(p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	p.QualityThreshold = 0.99

	got, err := store.Get("user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.QualityThreshold != models.DefaultQualityThreshold {
		t.Errorf("stored threshold mutated to %v", got.QualityThreshold)
	}
}

func TestDBStoreRoundTrip(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewDBStore(db)

	p := models.DefaultPreferences("user-1")
	p.DisabledOffsets = []string{"2h"}
	if err := store.Save(p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get("user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OffsetEnabled("2h") {
		t.Error("2h should be disabled after save")
	}
	if !got.OffsetEnabled("3d") {
		t.Error("3d should stay enabled")
	}
}
