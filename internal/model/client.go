// Package model wraps remote model inference behind a uniform
// request/response contract with bounded retry, structured-output
// validation, and shared usage accounting.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taskbeacon/taskbeacon/internal/agent"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// Prompt is the payload for one agent invocation.
type Prompt struct {
	// Text is the user-role content.
	Text string
	// ImageData holds raw image bytes for vision-capable agents.
	ImageData []byte
	// ImageFormat names the image format (png, jpeg, ...) when ImageData is set.
	ImageFormat string
	// RequiredFields lists top-level JSON keys the response must carry.
	// Empty means no structured-output validation.
	RequiredFields []string
}

// Result is a validated structured response.
type Result struct {
	// Raw is the model's text output.
	Raw string
	// Fields is the parsed top-level JSON object.
	Fields map[string]json.RawMessage
	// InputTokens and OutputTokens are the usage reported for the
	// final (successful) API call.
	InputTokens  int64
	OutputTokens int64
}

// Invoker is the model-invocation capability the pipeline consumes.
type Invoker interface {
	Invoke(ctx context.Context, cfg agent.Config, prompt Prompt) (*Result, error)
}

// completionAPI is the narrow transport seam over a provider SDK.
type completionAPI interface {
	Complete(ctx context.Context, cfg agent.Config, system string, turns []turn) (text string, inputTok, outputTok int64, err error)
}

// turn is one message in a conversation.
type turn struct {
	role        string // "user" or "assistant"
	text        string
	imageData   []byte
	imageFormat string
}

// Client invokes model providers with bounded retry and exponential
// backoff on transient failures. One corrective re-prompt is attempted
// when structured output fails validation.
// defaultConcurrency caps in-flight API calls across all runs.
const defaultConcurrency = 8

type Client struct {
	api         completionAPI
	usage       *UsageStats
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(time.Duration)
	sem         *semaphore.Weighted
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts overrides the retry budget (default 3).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay overrides the first backoff delay (default 1s).
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithConcurrency overrides the cap on in-flight API calls.
func WithConcurrency(n int64) Option {
	return func(c *Client) {
		if n >= 1 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// withSleep replaces the backoff sleeper. Used by tests.
func withSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient builds a Client over the given transport.
func NewClient(api completionAPI, usage *UsageStats, opts ...Option) *Client {
	c := &Client{
		api:         api,
		usage:       usage,
		maxAttempts: 3,
		baseDelay:   time.Second,
		sleep:       time.Sleep,
		sem:         semaphore.NewWeighted(defaultConcurrency),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Usage returns the shared usage tracker.
func (c *Client) Usage() *UsageStats {
	return c.usage
}

// Invoke performs one agent invocation: bounded retry on transient
// failures, then structured-output validation with a single corrective
// re-prompt before surfacing MalformedResponse.
func (c *Client) Invoke(ctx context.Context, cfg agent.Config, prompt Prompt) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, models.Errorf(models.ErrTimeout, "role %s: %v", cfg.Role, err)
	}
	defer c.sem.Release(1)

	turns := []turn{{
		role:        "user",
		text:        prompt.Text,
		imageData:   prompt.ImageData,
		imageFormat: prompt.ImageFormat,
	}}

	text, inTok, outTok, err := c.completeWithRetry(ctx, cfg, turns)
	if err != nil {
		return nil, err
	}

	res := &Result{Raw: text, InputTokens: inTok, OutputTokens: outTok}
	if len(prompt.RequiredFields) == 0 {
		return res, nil
	}

	fields, verr := parseStructured(text, prompt.RequiredFields)
	if verr == nil {
		res.Fields = fields
		return res, nil
	}

	// One corrective re-prompt before giving up.
	log.Printf("[model] role %s returned invalid structured output, re-prompting: %v", cfg.Role, verr)
	turns = append(turns,
		turn{role: "assistant", text: text},
		turn{role: "user", text: correctionPrompt(prompt.RequiredFields, verr)},
	)
	text, inTok, outTok, err = c.completeWithRetry(ctx, cfg, turns)
	if err != nil {
		return nil, err
	}
	fields, verr = parseStructured(text, prompt.RequiredFields)
	if verr != nil {
		return nil, models.Errorf(models.ErrMalformedResponse, "role %s: %v", cfg.Role, verr)
	}
	return &Result{Raw: text, Fields: fields, InputTokens: inTok, OutputTokens: outTok}, nil
}

// completeWithRetry applies exponential backoff to transient failures.
// Validation and auth errors surface immediately.
func (c *Client) completeWithRetry(ctx context.Context, cfg agent.Config, turns []turn) (string, int64, int64, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, inTok, outTok, err := c.api.Complete(ctx, cfg, cfg.SystemPrompt, turns)
		if err == nil {
			c.usage.RecordCall(inTok, outTok)
			return text, inTok, outTok, nil
		}

		c.usage.RecordError()
		lastErr = err
		if !models.IsRetryable(err) {
			return "", 0, 0, err
		}
		if attempt == c.maxAttempts {
			break
		}

		log.Printf("[model] role %s attempt %d/%d failed, retrying in %s: %v", cfg.Role, attempt, c.maxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return "", 0, 0, models.Errorf(models.ErrTimeout, "role %s: %v", cfg.Role, ctx.Err())
		default:
		}
		c.sleep(delay)
		delay *= 2
	}

	return "", 0, 0, fmt.Errorf("role %s: retries exhausted after %d attempts: %w", cfg.Role, c.maxAttempts, lastErr)
}

// parseStructured extracts the JSON object from a model response and
// checks the required top-level keys are present and non-null.
func parseStructured(text string, required []string) (map[string]json.RawMessage, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}

	var missing []string
	for _, key := range required {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return fields, nil
}

// extractJSON pulls the outermost JSON object out of a response,
// tolerating markdown code fences and surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// correctionPrompt asks the model to fix a schema violation.
func correctionPrompt(required []string, verr error) string {
	return fmt.Sprintf(
		"Your previous response was not valid (%v). Respond again with only a JSON object containing at least these fields: %s.",
		verr, strings.Join(required, ", "))
}
