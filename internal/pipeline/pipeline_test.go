package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/taskbeacon/taskbeacon/internal/agent"
	"github.com/taskbeacon/taskbeacon/internal/classify"
	"github.com/taskbeacon/taskbeacon/internal/fetch"
	"github.com/taskbeacon/taskbeacon/internal/model"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// fakeInvoker returns canned fields per role and counts invocations.
type fakeInvoker struct {
	mu        sync.Mutex
	calls     map[agent.Role]int
	responses map[agent.Role]string
	errors    map[agent.Role]error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls:     make(map[agent.Role]int),
		responses: make(map[agent.Role]string),
		errors:    make(map[agent.Role]error),
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, cfg agent.Config, prompt model.Prompt) (*model.Result, error) {
	f.mu.Lock()
	f.calls[cfg.Role]++
	f.mu.Unlock()

	if err, ok := f.errors[cfg.Role]; ok {
		return nil, err
	}
	raw, ok := f.responses[cfg.Role]
	if !ok {
		raw = `{"title": "fallback"}`
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		panic("bad fixture: " + err.Error())
	}
	return &model.Result{Raw: raw, Fields: fields}, nil
}

func (f *fakeInvoker) callCount(role agent.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

// fakeFetcher serves canned pages.
type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	body, ok := f.pages[url]
	if !ok {
		return nil, models.Errorf(models.ErrFetchError, "no such page: %s", url)
	}
	return &fetch.Page{URL: url, Body: body, ContentType: "text/html", FetchedAt: time.Now()}, nil
}

func testPipeline(t *testing.T, invoker model.Invoker, fetcher fetch.Fetcher, opts ...Option) *Pipeline {
	t.Helper()
	registry, err := agent.NewRegistry(agent.DefaultConfigs())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if fetcher == nil {
		fetcher = &fakeFetcher{pages: map[string]string{}}
	}
	return New(registry, invoker, fetcher, prefs.NewMemoryStore(), opts...)
}

func TestProcessInputTextOnly(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleContentExtractor] = `{"title": "Write launch post", "reward_amount": 500, "reward_currency": "USD"}`
	invoker.responses[agent.RoleTaskSynthesizer] = `{"title": "Write launch post", "summary": "Blog post", "deadline": "2025-06-01", "reward_amount": 500, "reward_currency": "USD"}`
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.9, "issues": []}`

	p := testPipeline(t, invoker, nil)
	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{
		Text: "New bounty! Write the launch post. Reward: 500 USD, Deadline: 2025-06-01",
	})
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}

	if res.Status != models.RunSucceeded {
		t.Errorf("status = %s, expected succeeded (errors: %v)", res.Status, res.Errors)
	}
	rec := res.Record
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Title != "Write launch post" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.RewardAmount == nil || *rec.RewardAmount != 500 {
		t.Errorf("reward = %v, expected 500", rec.RewardAmount)
	}
	if rec.RewardCurrency != "USD" {
		t.Errorf("currency = %q, expected USD", rec.RewardCurrency)
	}
	expected := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if rec.Deadline == nil || !rec.Deadline.Equal(expected) {
		t.Errorf("deadline = %v, expected %v", rec.Deadline, expected)
	}
	if rec.Confidence != 0.9 {
		t.Errorf("confidence = %v", rec.Confidence)
	}
	if invoker.callCount(agent.RoleURLParser) != 0 {
		t.Error("url_parser should not run for text-only input")
	}
	if invoker.callCount(agent.RoleImageAnalyzer) != 0 {
		t.Error("image_analyzer should not run without an image")
	}
}

func TestProcessInputEmpty(t *testing.T) {
	p := testPipeline(t, newFakeInvoker(), nil)
	_, err := p.ProcessInput(context.Background(), "user-1", classify.Input{})
	if models.KindOf(err) != models.ErrNoUsableInput {
		t.Errorf("expected NoUsableInput kind, got %v", err)
	}
}

func TestProcessInputIdenticalCached(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.9}`
	p := testPipeline(t, invoker, nil)
	input := classify.Input{Text: "do the thing"}

	first, err := p.ProcessInput(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := p.ProcessInput(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if first.Cached {
		t.Error("first result should not be cached")
	}
	if !second.Cached {
		t.Error("second identical call should answer from cache")
	}
	if second.RunID != first.RunID {
		t.Errorf("cached result should carry the original run ID")
	}
	if n := invoker.callCount(agent.RoleContentExtractor); n != 1 {
		t.Errorf("extractor ran %d times, expected 1", n)
	}
}

func TestProcessInputConcurrentIdentical(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.9}`
	p := testPipeline(t, invoker, nil)
	input := classify.Input{Text: "do the thing"}

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.ProcessInput(context.Background(), "user-1", input); err != nil {
				t.Errorf("ProcessInput: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := invoker.callCount(agent.RoleTaskSynthesizer); n != 1 {
		t.Errorf("synthesizer ran %d times for identical concurrent input, expected 1", n)
	}
}

func TestProcessInputGracefulDegradation(t *testing.T) {
	// The URL is dead but the accompanying text still yields a record.
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleContentExtractor] = `{"title": "From text"}`
	invoker.responses[agent.RoleTaskSynthesizer] = `{"title": "From text"}`
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.95}`

	p := testPipeline(t, invoker, &fakeFetcher{pages: map[string]string{}})
	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{
		Text: "check this out https://dead.example.com/task please",
	})
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}

	if res.Status != models.RunPartial {
		t.Errorf("status = %s, expected partial", res.Status)
	}
	if res.Record == nil || res.Record.Title != "From text" {
		t.Errorf("record = %+v", res.Record)
	}
	if len(res.Errors) == 0 {
		t.Error("expected the fetch failure reported in Errors")
	}
}

func TestProcessInputAllAnalyzersFail(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.errors[agent.RoleContentExtractor] = models.Errorf(models.ErrTimeout, "model unavailable")

	p := testPipeline(t, invoker, nil)
	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "anything"})
	if err != nil {
		t.Fatalf("ProcessInput should report failure in the result: %v", err)
	}
	if res.Status != models.RunFailed {
		t.Errorf("status = %s, expected failed", res.Status)
	}
	if res.Record != nil {
		t.Error("failed run must not carry a record")
	}
}

func TestProcessInputFailedRunsNotCached(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.errors[agent.RoleContentExtractor] = models.Errorf(models.ErrTimeout, "down")
	p := testPipeline(t, invoker, nil)
	input := classify.Input{Text: "flaky"}

	if _, err := p.ProcessInput(context.Background(), "user-1", input); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Once the model recovers, a re-submit succeeds.
	delete(invoker.errors, agent.RoleContentExtractor)
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.9}`
	res, err := p.ProcessInput(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if res.Cached {
		t.Error("failed result must not have been cached")
	}
	if res.Record == nil {
		t.Error("expected a record after recovery")
	}
}

func TestQualityGateFlagsLowConfidence(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.3, "issues": ["no deadline"]}`

	p := testPipeline(t, invoker, nil)
	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "vague request"})
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}

	if res.Record == nil {
		t.Fatal("low confidence must not discard the record")
	}
	if !res.Record.LowConfidence {
		t.Error("expected low-confidence flag")
	}
	if res.Status != models.RunPartial {
		t.Errorf("status = %s, expected partial", res.Status)
	}
}

func TestQualityCheckerFailureDowngradesOnly(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.errors[agent.RoleQualityChecker] = models.Errorf(models.ErrMalformedResponse, "garbage verdict")

	p := testPipeline(t, invoker, nil)
	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "request"})
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if res.Record == nil {
		t.Fatal("checker failure must not discard the record")
	}
	if res.Status != models.RunPartial {
		t.Errorf("status = %s, expected partial", res.Status)
	}
}

// recordingSink captures auto-created records.
type recordingSink struct {
	mu      sync.Mutex
	created []*models.TaskRecord
}

func (s *recordingSink) Create(ctx context.Context, userID string, rec *models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, rec)
	return nil
}

func TestAutoCreate(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.9}`

	store := prefs.NewMemoryStore()
	userPrefs := models.DefaultPreferences("user-1")
	userPrefs.AutoCreate = true
	if err := store.Save(userPrefs); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	sink := &recordingSink{}
	registry, err := agent.NewRegistry(agent.DefaultConfigs())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	p := New(registry, invoker, &fakeFetcher{}, store, WithSink(sink))

	if _, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "auto me"}); err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if len(sink.created) != 1 {
		t.Fatalf("expected 1 auto-created record, got %d", len(sink.created))
	}

	// Low-confidence results wait for explicit confirmation.
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.1}`
	if _, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "sketchy input"}); err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if len(sink.created) != 1 {
		t.Errorf("low-confidence record must not auto-create, got %d", len(sink.created))
	}
}

func TestProcessInputURLAndImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleURLParser] = `{"title": "From page", "organizer_name": "Acme"}`
	invoker.responses[agent.RoleImageAnalyzer] = `{"title": "From image"}`
	invoker.responses[agent.RoleTaskSynthesizer] = `{"title": "From page", "organizer_name": "Acme"}`
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.8}`

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/task": "<html>task body</html>",
	}}
	p := testPipeline(t, invoker, fetcher)

	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{
		URL:       "https://example.com/task",
		ImageData: png,
	})
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if res.Status != models.RunSucceeded {
		t.Errorf("status = %s (errors: %v)", res.Status, res.Errors)
	}
	if invoker.callCount(agent.RoleURLParser) != 1 || invoker.callCount(agent.RoleImageAnalyzer) != 1 {
		t.Errorf("expected both analyzers to run once, got url=%d image=%d",
			invoker.callCount(agent.RoleURLParser), invoker.callCount(agent.RoleImageAnalyzer))
	}
	if res.Record.OrganizerName != "Acme" {
		t.Errorf("organizer = %q", res.Record.OrganizerName)
	}
}

// recordingRunStore captures persisted runs.
type recordingRunStore struct {
	mu   sync.Mutex
	runs []*models.PipelineRun
}

func (s *recordingRunStore) SaveRun(run *models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func TestRunPersistence(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.RoleQualityChecker] = `{"confidence": 0.9}`

	store := &recordingRunStore{}
	p := testPipeline(t, invoker, nil, WithRunStore(store))

	res, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "persist me"})
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if len(store.runs) != 1 {
		t.Fatalf("expected 1 persisted run, got %d", len(store.runs))
	}
	saved := store.runs[0]
	if saved.RunID != res.RunID {
		t.Errorf("persisted run ID %s, expected %s", saved.RunID, res.RunID)
	}
	if saved.Status != models.RunSucceeded {
		t.Errorf("persisted status = %s", saved.Status)
	}
	if saved.FinishedAt == nil {
		t.Error("persisted run has no finish time")
	}

	// Cache hits answer without re-running, so nothing new is persisted.
	if _, err := p.ProcessInput(context.Background(), "user-1", classify.Input{Text: "persist me"}); err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if len(store.runs) != 1 {
		t.Errorf("cached result persisted a second run, got %d", len(store.runs))
	}
}
