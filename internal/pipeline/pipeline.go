// Package pipeline runs heterogeneous input through classification,
// fetching, fanned-out analysis, synthesis, and a quality gate,
// producing a task record and a per-stage audit trail.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/taskbeacon/taskbeacon/internal/agent"
	"github.com/taskbeacon/taskbeacon/internal/classify"
	"github.com/taskbeacon/taskbeacon/internal/fetch"
	"github.com/taskbeacon/taskbeacon/internal/model"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// DefaultRunTimeout bounds a whole pipeline run.
const DefaultRunTimeout = 5 * time.Minute

// analysisLimit caps concurrently running analyzers.
const analysisLimit = 4

// TaskSink receives records the pipeline auto-creates for users who
// enabled auto_create.
type TaskSink interface {
	Create(ctx context.Context, userID string, rec *models.TaskRecord) error
}

// RunStore persists finished runs for the status surface.
type RunStore interface {
	SaveRun(run *models.PipelineRun) error
}

// Pipeline orchestrates the agents for one input.
type Pipeline struct {
	registry   *agent.Registry
	invoker    model.Invoker
	fetcher    fetch.Fetcher
	prefs      prefs.Store
	sink       TaskSink
	runs       RunStore
	cache      *resultCache
	flight     singleflight.Group
	runTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunTimeout overrides the whole-run deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.runTimeout = d
		}
	}
}

// WithCacheTTL overrides how long completed results answer for
// identical input.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Pipeline) { p.cache = newResultCache(ttl) }
}

// WithSink sets the destination for auto-created records.
func WithSink(sink TaskSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithRunStore persists every finished run's audit trail.
func WithRunStore(store RunStore) Option {
	return func(p *Pipeline) { p.runs = store }
}

// New builds a Pipeline.
func New(registry *agent.Registry, invoker model.Invoker, fetcher fetch.Fetcher, store prefs.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:   registry,
		invoker:    invoker,
		fetcher:    fetcher,
		prefs:      store,
		cache:      newResultCache(DefaultCacheTTL),
		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessInput runs the full pipeline for one input. Identical inputs
// submitted concurrently share a single execution, and completed
// results answer from the cache until expiry.
func (p *Pipeline) ProcessInput(ctx context.Context, userID string, input classify.Input) (*models.PipelineResult, error) {
	if input.Empty() {
		return nil, models.Errorf(models.ErrNoUsableInput, "input carries no text, URL, or image")
	}

	fingerprint := classify.Fingerprint(input)
	if cached := p.cache.get(fingerprint); cached != nil {
		return cached, nil
	}

	v, err, _ := p.flight.Do(fingerprint, func() (any, error) {
		if cached := p.cache.get(fingerprint); cached != nil {
			return cached, nil
		}
		result, err := p.run(ctx, userID, fingerprint, input)
		if err != nil {
			return nil, err
		}
		p.cache.put(fingerprint, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PipelineResult), nil
}

// run executes the stage machine for one input.
func (p *Pipeline) run(ctx context.Context, userID, fingerprint string, input classify.Input) (*models.PipelineResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()

	run := &models.PipelineRun{
		RunID:            uuid.New().String(),
		InputFingerprint: fingerprint,
		StartedAt:        time.Now().UTC(),
		Status:           models.RunRunning,
	}
	log.Printf("[pipeline] run %s started for user %s", run.RunID, userID)

	// Classifying.
	cls, clsErr := classify.Classify(input)
	run.ClassifiedType = string(cls.Kind)
	if clsErr != nil {
		run.RecordStage(models.StageResult{
			Stage: "classify", State: models.StageFailed,
			Error: clsErr.Error(), Kind: models.KindOf(clsErr),
		})
		// A bad image with nothing else usable ends the run here.
		if len(cls.URLs) == 0 && cls.NormalizedText == "" {
			return p.finish(run, nil, userID)
		}
	} else {
		run.RecordStage(models.StageResult{Stage: "classify", State: models.StageSucceeded})
	}

	// Fetching.
	var pages []*fetch.Page
	if len(cls.URLs) > 0 {
		var fetchErr error
		pages, fetchErr = fetch.FetchAll(ctx, p.fetcher, cls.URLs)
		if fetchErr != nil {
			run.RecordStage(models.StageResult{
				Stage: "fetch", State: models.StageFailed,
				Error: fetchErr.Error(), Kind: models.KindOf(fetchErr),
			})
		} else {
			run.RecordStage(models.StageResult{Stage: "fetch", State: models.StageSucceeded})
		}
	}

	// Analyzing: fan out one invocation per usable input component.
	outputs := p.analyze(ctx, run, cls, input, pages)
	if len(outputs) == 0 {
		noteRunDeadline(ctx, run)
		return p.finish(run, nil, userID)
	}

	// Synthesizing.
	rec, synthErr := p.synthesize(ctx, outputs)
	if synthErr != nil {
		run.RecordStage(models.StageResult{
			Stage: string(agent.RoleTaskSynthesizer), State: models.StageFailed,
			Error: synthErr.Error(), Kind: models.KindOf(synthErr),
		})
		noteRunDeadline(ctx, run)
		return p.finish(run, nil, userID)
	}
	run.RecordStage(models.StageResult{Stage: string(agent.RoleTaskSynthesizer), State: models.StageSucceeded})

	// QualityChecking. A checker failure downgrades the run, never
	// discards the record.
	p.qualityCheck(ctx, run, userID, rec)

	return p.finish(run, rec, userID)
}

// noteRunDeadline distinguishes a blown whole-run deadline from
// ordinary stage failures in the audit trail.
func noteRunDeadline(ctx context.Context, run *models.PipelineRun) {
	if ctx.Err() == nil {
		return
	}
	run.RecordStage(models.StageResult{
		Stage: "run_deadline", State: models.StageFailed,
		Error: ctx.Err().Error(), Kind: models.ErrRunTimeout,
	})
}

// analyze invokes the applicable analyzers concurrently and returns
// their outputs in completion order.
func (p *Pipeline) analyze(ctx context.Context, run *models.PipelineRun, cls classify.Classification, input classify.Input, pages []*fetch.Page) []analysisOutput {
	type job struct {
		role   agent.Role
		prompt model.Prompt
	}

	var jobs []job
	for _, page := range pages {
		jobs = append(jobs, job{
			role: agent.RoleURLParser,
			prompt: model.Prompt{
				Text:           fmt.Sprintf("URL: %s\n\n%s", page.URL, page.Body),
				RequiredFields: []string{"title"},
			},
		})
	}
	if cls.NormalizedText != "" {
		jobs = append(jobs, job{
			role: agent.RoleContentExtractor,
			prompt: model.Prompt{
				Text:           cls.NormalizedText,
				RequiredFields: []string{"title"},
			},
		})
	}
	if cls.HasImage {
		jobs = append(jobs, job{
			role: agent.RoleImageAnalyzer,
			prompt: model.Prompt{
				Text:           "Extract any task or bounty details visible in this image.",
				ImageData:      input.ImageData,
				ImageFormat:    classify.DetectImageFormat(input.ImageData),
				RequiredFields: []string{"title"},
			},
		})
	}

	var mu sync.Mutex
	var outputs []analysisOutput

	g := new(errgroup.Group)
	g.SetLimit(analysisLimit)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			cfg, err := p.registry.Resolve(j.role)
			if err == nil {
				var res *model.Result
				res, err = p.invoker.Invoke(ctx, cfg, j.prompt)
				if err == nil {
					mu.Lock()
					outputs = append(outputs, analysisOutput{role: j.role, fields: res.Fields})
					run.RecordStage(models.StageResult{Stage: string(j.role), State: models.StageSucceeded})
					mu.Unlock()
					return nil
				}
			}

			// One analyzer failing must not take down the others.
			mu.Lock()
			run.RecordStage(models.StageResult{
				Stage: string(j.role), State: models.StageFailed,
				Error: err.Error(), Kind: models.KindOf(err),
			})
			mu.Unlock()
			log.Printf("[pipeline] run %s analyzer %s failed: %v", run.RunID, j.role, err)
			return nil
		})
	}
	g.Wait()

	return outputs
}

// synthesize merges analyzer outputs and asks the synthesizer for the
// final record.
func (p *Pipeline) synthesize(ctx context.Context, outputs []analysisOutput) (*models.TaskRecord, error) {
	merged := mergeOutputs(outputs)

	cfg, err := p.registry.Resolve(agent.RoleTaskSynthesizer)
	if err != nil {
		return nil, err
	}
	res, err := p.invoker.Invoke(ctx, cfg, model.Prompt{
		Text:           synthesisPrompt(merged, outputs),
		RequiredFields: []string{"title"},
	})
	if err != nil {
		return nil, err
	}

	// Synthesizer output wins; merged analysis backfills anything it
	// left out.
	fields := make(map[string]json.RawMessage, len(merged)+len(res.Fields))
	for k, v := range merged {
		fields[k] = v
	}
	for k, v := range res.Fields {
		if string(v) != "null" {
			fields[k] = v
		}
	}
	return buildRecord(fields)
}

// qualityCheck scores the record and flags low confidence against the
// user's threshold.
func (p *Pipeline) qualityCheck(ctx context.Context, run *models.PipelineRun, userID string, rec *models.TaskRecord) {
	cfg, err := p.registry.Resolve(agent.RoleQualityChecker)
	if err != nil {
		run.RecordStage(models.StageResult{
			Stage: string(agent.RoleQualityChecker), State: models.StageSkipped, Error: err.Error(),
		})
		return
	}

	res, err := p.invoker.Invoke(ctx, cfg, model.Prompt{
		Text:           qualityPrompt(rec),
		RequiredFields: []string{"confidence"},
	})
	if err != nil {
		run.RecordStage(models.StageResult{
			Stage: string(agent.RoleQualityChecker), State: models.StageFailed,
			Error: err.Error(), Kind: models.KindOf(err),
		})
		return
	}

	verdict, err := parseVerdict(res.Fields)
	if err != nil {
		run.RecordStage(models.StageResult{
			Stage: string(agent.RoleQualityChecker), State: models.StageFailed,
			Error: err.Error(), Kind: models.KindOf(err),
		})
		return
	}

	rec.Confidence = verdict.Confidence
	userPrefs, perr := p.prefs.Get(userID)
	threshold := models.DefaultQualityThreshold
	if perr == nil {
		threshold = userPrefs.QualityThreshold
	}
	if verdict.Confidence < threshold {
		rec.LowConfidence = true
		log.Printf("[pipeline] run %s confidence %.2f below threshold %.2f", run.RunID, verdict.Confidence, threshold)
	}
	run.RecordStage(models.StageResult{Stage: string(agent.RoleQualityChecker), State: models.StageSucceeded})
}

// finish assigns the terminal status and applies auto-create.
func (p *Pipeline) finish(run *models.PipelineRun, rec *models.TaskRecord, userID string) (*models.PipelineResult, error) {
	now := time.Now().UTC()
	failed := models.FailedStages(run)

	switch {
	case rec == nil:
		run.Finish(models.RunFailed, now)
	case len(failed) > 0 || rec.LowConfidence:
		run.Finish(models.RunPartial, now)
	default:
		run.Finish(models.RunSucceeded, now)
	}
	log.Printf("[pipeline] run %s finished: %s (%d stage failures)", run.RunID, run.Status, len(failed))

	if p.runs != nil {
		if err := p.runs.SaveRun(run); err != nil {
			log.Printf("[pipeline] run %s not persisted: %v", run.RunID, err)
		}
	}

	result := &models.PipelineResult{
		RunID:  run.RunID,
		Status: run.Status,
		Record: rec,
		Errors: failed,
	}

	if rec != nil && p.sink != nil {
		userPrefs, err := p.prefs.Get(userID)
		if err == nil && userPrefs.AutoCreate && !rec.LowConfidence {
			if err := p.sink.Create(context.Background(), userID, rec); err != nil {
				log.Printf("[pipeline] run %s auto-create failed: %v", run.RunID, err)
			}
		}
	}
	return result, nil
}
