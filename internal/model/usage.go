package model

import "sync"

// UsageStats tracks request and token usage across model calls. Safe
// for concurrent use.
type UsageStats struct {
	mu        sync.Mutex
	requests  int64
	errors    int64
	inputTok  int64
	outputTok int64
}

// NewUsageStats creates an empty usage tracker.
func NewUsageStats() *UsageStats {
	return &UsageStats{}
}

// RecordCall records a completed API call and its token usage.
func (u *UsageStats) RecordCall(input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests++
	u.inputTok += input
	u.outputTok += output
}

// RecordError records a failed API call.
func (u *UsageStats) RecordError() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests++
	u.errors++
}

// Usage is a point-in-time copy of the counters.
type Usage struct {
	Requests     int64
	Errors       int64
	InputTokens  int64
	OutputTokens int64
}

// Snapshot returns the current counters.
func (u *UsageStats) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Usage{
		Requests:     u.requests,
		Errors:       u.errors,
		InputTokens:  u.inputTok,
		OutputTokens: u.outputTok,
	}
}

// Requests returns the number of API calls made, including failures.
func (u *UsageStats) Requests() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

// Reset clears all counters.
func (u *UsageStats) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = 0
	u.errors = 0
	u.inputTok = 0
	u.outputTok = 0
}

// Cost estimates the spend in USD based on current Claude pricing.
// Approximate; update as pricing changes.
func (u *UsageStats) Cost() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	inputCost := float64(u.inputTok) / 1_000_000 * 3.0
	outputCost := float64(u.outputTok) / 1_000_000 * 15.0
	return inputCost + outputCost
}
