package reminder

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/internal/state"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

func testDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeClock is a mutable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeChannel records deliveries and optionally fails them.
type fakeChannel struct {
	name models.Channel
	err  error

	mu        sync.Mutex
	delivered []Message
}

func (f *fakeChannel) Name() models.Channel { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, userID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// pushPrefs enables only the push channel for the user.
func pushPrefs(t *testing.T, store prefs.Store, userID string) {
	t.Helper()
	p := models.DefaultPreferences(userID)
	if err := store.Save(p); err != nil {
		t.Fatalf("save prefs: %v", err)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1")
	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	channel := &fakeChannel{name: models.ChannelPush}

	s := NewScheduler(db, store, []DeliveryChannel{channel}, withClock(clock.Now))

	deadline := clock.Now().Add(4 * 24 * time.Hour)
	if _, err := s.Schedule("task-1", "user-1", deadline); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Nothing is due yet.
	s.Tick(context.Background())
	if channel.count() != 0 {
		t.Fatalf("nothing due, yet %d deliveries", channel.count())
	}

	// A day later the 3d reminder is due; only that one fires.
	clock.Advance(25 * time.Hour)
	s.Tick(context.Background())
	if channel.count() != 1 {
		t.Fatalf("expected exactly the 3d reminder, got %d deliveries", channel.count())
	}

	// Re-ticking does not re-send.
	s.Tick(context.Background())
	if channel.count() != 1 {
		t.Errorf("re-tick re-sent a firing: %d deliveries", channel.count())
	}

	sched, err := db.LoadSchedule("task-1", "user-1")
	if err != nil {
		t.Fatalf("load schedule: %v", err)
	}
	if sched.Firings["3d"].Status != models.FiringSent {
		t.Errorf("3d status = %s, expected sent", sched.Firings["3d"].Status)
	}
	if sched.Firings["1d"].Status != models.FiringPending {
		t.Errorf("1d status = %s, expected still pending", sched.Firings["1d"].Status)
	}
}

func TestSchedulerAtMostOnceAcrossWorkers(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1")
	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	channel := &fakeChannel{name: models.ChannelPush}

	// Two scheduler instances sharing one database.
	s1 := NewScheduler(db, store, []DeliveryChannel{channel}, withClock(clock.Now))
	s2 := NewScheduler(db, store, []DeliveryChannel{channel}, withClock(clock.Now))

	if _, err := s1.Schedule("task-1", "user-1", clock.Now().Add(73*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock.Advance(2 * time.Hour)

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{s1, s2} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Tick(context.Background())
		}(s)
	}
	wg.Wait()

	if channel.count() != 1 {
		t.Errorf("concurrent workers delivered %d times, expected 1", channel.count())
	}
}

func TestSchedulerRetriesThenFails(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1")
	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	channel := &fakeChannel{
		name: models.ChannelPush,
		err:  models.Errorf(models.ErrDelivery, "hub offline"),
	}

	s := NewScheduler(db, store, []DeliveryChannel{channel},
		withClock(clock.Now), WithMaxAttempts(2))

	if _, err := s.Schedule("task-1", "user-1", clock.Now().Add(73*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock.Advance(2 * time.Hour)

	// First attempt releases the firing back to pending.
	s.Tick(context.Background())
	sched, _ := db.LoadSchedule("task-1", "user-1")
	if got := sched.Firings["3d"].Status; got != models.FiringPending {
		t.Fatalf("after first attempt: %s, expected pending", got)
	}
	if sched.Firings["3d"].LastError == "" {
		t.Error("expected delivery error recorded")
	}

	// Second attempt exhausts the budget.
	s.Tick(context.Background())
	sched, _ = db.LoadSchedule("task-1", "user-1")
	if got := sched.Firings["3d"].Status; got != models.FiringFailed {
		t.Errorf("after final attempt: %s, expected failed", got)
	}
}

func TestSchedulerChannelFallback(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	userPrefs := models.DefaultPreferences("user-1")
	userPrefs.EnabledChannels = []models.Channel{models.ChannelTelegram, models.ChannelPush}
	if err := store.Save(userPrefs); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	telegram := &fakeChannel{name: models.ChannelTelegram, err: models.Errorf(models.ErrDelivery, "bot down")}
	push := &fakeChannel{name: models.ChannelPush}

	s := NewScheduler(db, store, []DeliveryChannel{telegram, push}, withClock(clock.Now))
	if _, err := s.Schedule("task-1", "user-1", clock.Now().Add(73*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock.Advance(2 * time.Hour)
	s.Tick(context.Background())

	if push.count() != 1 {
		t.Errorf("expected push fallback delivery, got %d", push.count())
	}
	sched, _ := db.LoadSchedule("task-1", "user-1")
	if got := sched.Firings["3d"].Status; got != models.FiringSent {
		t.Errorf("one delivered channel should mark sent, got %s", got)
	}
}

func TestSchedulerHonorsChannelPrefs(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1") // push only

	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	telegram := &fakeChannel{name: models.ChannelTelegram}

	s := NewScheduler(db, store, []DeliveryChannel{telegram},
		withClock(clock.Now), WithMaxAttempts(1))
	if _, err := s.Schedule("task-1", "user-1", clock.Now().Add(73*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock.Advance(2 * time.Hour)
	s.Tick(context.Background())

	if telegram.count() != 0 {
		t.Errorf("disabled channel delivered %d times", telegram.count())
	}
	sched, _ := db.LoadSchedule("task-1", "user-1")
	if got := sched.Firings["3d"].Status; got != models.FiringFailed {
		t.Errorf("expected failed with no enabled channels, got %s", got)
	}
}

func TestSchedulerOffsetOptOutAtDispatch(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1")
	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	channel := &fakeChannel{name: models.ChannelPush}

	s := NewScheduler(db, store, []DeliveryChannel{channel}, withClock(clock.Now))
	if _, err := s.Schedule("task-1", "user-1", clock.Now().Add(73*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// The user opts out of 3d reminders after scheduling.
	userPrefs, _ := store.Get("user-1")
	userPrefs.DisabledOffsets = []string{"3d"}
	if err := store.Save(userPrefs); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	clock.Advance(2 * time.Hour)
	s.Tick(context.Background())

	if channel.count() != 0 {
		t.Errorf("opted-out offset delivered %d times", channel.count())
	}
	sched, _ := db.LoadSchedule("task-1", "user-1")
	if got := sched.Firings["3d"].Status; got != models.FiringSkipped {
		t.Errorf("expected skipped, got %s", got)
	}
}

func TestSchedulerCancel(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1")
	clock := newFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))

	s := NewScheduler(db, store, []DeliveryChannel{&fakeChannel{name: models.ChannelPush}}, withClock(clock.Now))
	if _, err := s.Schedule("task-1", "user-1", clock.Now().Add(4*24*time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	n, err := s.Cancel("task-1", "user-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 cancelled firings, got %d", n)
	}
}

func TestSweepSchedulesUpcomingDeadlines(t *testing.T) {
	db := testDB(t)
	store := prefs.NewMemoryStore()
	pushPrefs(t, store, "user-1")

	deadline := time.Now().UTC().Add(2 * 24 * time.Hour)
	rec := &models.TaskRecord{Title: "Swept task", Deadline: &deadline}
	if err := db.SaveTaskRecord("user-1", rec); err != nil {
		t.Fatalf("save task: %v", err)
	}

	s := NewScheduler(db, store, []DeliveryChannel{&fakeChannel{name: models.ChannelPush}})
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	sched, err := db.LoadSchedule(rec.ID, "user-1")
	if err != nil {
		t.Fatalf("expected a schedule after sweep: %v", err)
	}
	// Two days out: 3d already passed, 1d and 2h still pending.
	if len(sched.Pending()) != 2 {
		t.Errorf("expected 2 pending firings, got %d", len(sched.Pending()))
	}

	// Sweeping again must not duplicate anything.
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	sched, _ = db.LoadSchedule(rec.ID, "user-1")
	if len(sched.Firings) != 3 {
		t.Errorf("expected 3 firings after re-sweep, got %d", len(sched.Firings))
	}
}
