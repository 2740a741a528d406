package reminder

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/internal/state"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

const (
	// DefaultTick is the poll interval for due firings.
	DefaultTick = 30 * time.Second
	// DefaultSweepInterval is how often upcoming deadlines are swept.
	DefaultSweepInterval = time.Hour
	// DefaultClaimMaxAge is how long a claim may sit before a crashed
	// worker's firing is recovered.
	DefaultClaimMaxAge = 5 * time.Minute
	// DefaultMaxAttempts bounds delivery attempts per firing.
	DefaultMaxAttempts = 3
	// dispatchLimit caps concurrent deliveries per tick.
	dispatchLimit = 8
)

// Scheduler polls for due firings and dispatches them through the
// user's enabled channels. Claims are durable, so any number of
// scheduler processes can share one database without double-sending.
type Scheduler struct {
	db          *state.DB
	prefs       prefs.Store
	channels    []DeliveryChannel
	tick        time.Duration
	sweepEvery  time.Duration
	claimMaxAge time.Duration
	maxAttempts int
	sem         *semaphore.Weighted
	now         func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTick overrides the poll interval.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithSweepInterval overrides the deadline sweep interval.
func WithSweepInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.sweepEvery = d
		}
	}
}

// WithMaxAttempts overrides the per-firing delivery budget.
func WithMaxAttempts(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithClaimMaxAge overrides how long claims may sit before recovery.
func WithClaimMaxAge(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.claimMaxAge = d
		}
	}
}

// withClock replaces the time source. Used by tests.
func withClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler builds a Scheduler over the given channels.
func NewScheduler(db *state.DB, store prefs.Store, channels []DeliveryChannel, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		db:          db,
		prefs:       store,
		channels:    channels,
		tick:        DefaultTick,
		sweepEvery:  DefaultSweepInterval,
		claimMaxAge: DefaultClaimMaxAge,
		maxAttempts: DefaultMaxAttempts,
		sem:         semaphore.NewWeighted(dispatchLimit),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule plans and persists reminders for a subject's deadline.
// Safe to call repeatedly; existing firings keep their state.
func (s *Scheduler) Schedule(subjectID, userID string, deadline time.Time) (*models.ReminderSchedule, error) {
	userPrefs, err := s.prefs.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	sched := PlanSchedule(subjectID, userID, deadline, userPrefs, s.now())
	if err := s.db.SaveSchedule(sched); err != nil {
		return nil, err
	}
	log.Printf("[reminder] scheduled %d firings for %s/%s (deadline %s)",
		len(sched.Pending()), subjectID, userID, deadline.UTC().Format(time.RFC3339))
	return sched, nil
}

// Cancel cancels every pending firing for a subject and user.
func (s *Scheduler) Cancel(subjectID, userID string) (int64, error) {
	n, err := s.db.CancelPending(subjectID, userID)
	if err == nil && n > 0 {
		log.Printf("[reminder] cancelled %d firings for %s/%s", n, subjectID, userID)
	}
	return n, err
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("[reminder] scheduler running (tick %s, sweep %s)", s.tick, s.sweepEvery)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	sweeper := time.NewTicker(s.sweepEvery)
	defer sweeper.Stop()

	// First pass immediately so restarts don't wait a full tick.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[reminder] scheduler stopping: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		case <-sweeper.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("[reminder] sweep failed: %v", err)
			}
		}
	}
}

// Tick processes one poll cycle: recover stale claims, then dispatch
// everything due.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	if n, err := s.db.RecoverStale(now, s.claimMaxAge); err != nil {
		log.Printf("[reminder] stale claim recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("[reminder] recovered %d stale claims", n)
	}

	due, err := s.db.LoadDue(now, 100)
	if err != nil {
		log.Printf("[reminder] load due firings failed: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, firing := range due {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		firing := firing
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			s.dispatch(ctx, firing)
		}()
	}
	wg.Wait()
}

// LastTick reports when the scheduler last polled. Used by health
// checks.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// dispatch claims one firing and attempts delivery on every channel
// the user enabled. One delivered channel marks the firing sent.
func (s *Scheduler) dispatch(ctx context.Context, firing *models.Firing) {
	claimed, err := s.db.ClaimFiring(firing.ID, s.now())
	if err != nil {
		log.Printf("[reminder] claim firing %d failed: %v", firing.ID, err)
		return
	}
	if !claimed {
		// Another worker got there first.
		return
	}

	userPrefs, err := s.prefs.Get(firing.UserID)
	if err != nil {
		s.conclude(firing, fmt.Sprintf("load preferences: %v", err))
		return
	}
	if !userPrefs.OffsetEnabled(firing.OffsetName) {
		if err := s.db.SkipFiring(firing.ID); err != nil {
			log.Printf("[reminder] skip firing %d failed: %v", firing.ID, err)
		}
		return
	}

	msg, err := s.renderFiring(firing)
	if err != nil {
		s.conclude(firing, err.Error())
		return
	}

	var failures []string
	delivered := false
	for _, channel := range s.channels {
		if !userPrefs.ChannelEnabled(channel.Name()) {
			continue
		}
		if err := channel.Deliver(ctx, firing.UserID, msg); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", channel.Name(), err))
			continue
		}
		delivered = true
	}

	if delivered {
		if err := s.db.MarkSent(firing.ID, s.now()); err != nil {
			log.Printf("[reminder] mark firing %d sent failed: %v", firing.ID, err)
		}
		log.Printf("[reminder] sent %s reminder for %s to user %s", firing.OffsetName, firing.SubjectID, firing.UserID)
		return
	}

	reason := "no enabled channels"
	if len(failures) > 0 {
		reason = strings.Join(failures, "; ")
	}
	s.conclude(firing, reason)
}

// conclude releases a claimed firing for another attempt or fails it
// once the attempt budget is spent. The claim already incremented
// attempt_count.
func (s *Scheduler) conclude(firing *models.Firing, reason string) {
	attempts := firing.AttemptCount + 1
	if attempts >= s.maxAttempts {
		if err := s.db.MarkFailed(firing.ID, reason); err != nil {
			log.Printf("[reminder] mark firing %d failed errored: %v", firing.ID, err)
		}
		log.Printf("[reminder] firing %d failed after %d attempts: %s", firing.ID, attempts, reason)
		return
	}
	if err := s.db.ReleaseFiring(firing.ID, reason); err != nil {
		log.Printf("[reminder] release firing %d failed: %v", firing.ID, err)
	}
}

// renderFiring loads the subject task to build the message, falling
// back to a generic title when the record is gone.
func (s *Scheduler) renderFiring(firing *models.Firing) (Message, error) {
	title := "your task"
	deadline := firing.ScheduledAt
	if task, err := s.db.GetTaskRecord(firing.SubjectID); err == nil {
		title = task.Title
		if task.Deadline != nil {
			deadline = *task.Deadline
		}
	} else if sched, err := s.db.LoadSchedule(firing.SubjectID, firing.UserID); err == nil {
		deadline = sched.Deadline
	}
	return RenderReminder(firing.OffsetName, title, deadline), nil
}

// Sweep ensures every task with a deadline inside the window has a
// reminder schedule. Catches records created outside the pipeline.
func (s *Scheduler) Sweep(ctx context.Context) error {
	tasks, err := s.db.ListUpcomingDeadlines(7 * 24 * time.Hour)
	if err != nil {
		return err
	}
	planned := 0
	for _, task := range tasks {
		if task.Deadline == nil {
			continue
		}
		if _, err := s.Schedule(task.ID, task.UserID, *task.Deadline); err != nil {
			log.Printf("[reminder] sweep: schedule %s failed: %v", task.ID, err)
			continue
		}
		planned++
	}
	if planned > 0 {
		log.Printf("[reminder] sweep covered %d upcoming deadlines", planned)
	}
	return nil
}
