// Package llm defines the boundary between the script pipeline and the
// text-generation service: a Backend interface implemented per vendor, a
// retrying Client that classifies every call into a stable outcome taxonomy,
// and a mutex-guarded token-usage accumulator.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Role selects which system instruction the backend attaches to a request.
type Role string

const (
	RoleResearch   Role = "research"
	RoleNarrator   Role = "narrator"
	RoleStructurer Role = "structurer"
)

// ResponseFormat requests either free text or a structured JSON body.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// GenerationConfig carries the per-call sampling parameters.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	Format          ResponseFormat
}

func (c GenerationConfig) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v outside [0,2]", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p %v outside [0,1]", c.TopP)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k %d negative", c.TopK)
	}
	if c.MaxOutputTokens < 1 {
		return fmt.Errorf("max output tokens %d below 1", c.MaxOutputTokens)
	}
	return nil
}

// FinishReason tags why the model stopped emitting tokens. It is orthogonal
// to the failure classification: a MAX_TOKENS result is still usable text.
type FinishReason string

const (
	FinishStop      FinishReason = "STOP"
	FinishMaxTokens FinishReason = "MAX_TOKENS"
	FinishSafety    FinishReason = "SAFETY"
	FinishBlocked   FinishReason = "BLOCKED"
	FinishUnknown   FinishReason = "UNKNOWN"
)

// FailureReason classifies an unusable call outcome.
type FailureReason string

const (
	FailureBlockedOrEmpty  FailureReason = "BLOCKED_OR_EMPTY"
	FailureJSONDecode      FailureReason = "JSON_DECODE_ERROR"
	FailureAttribute       FailureReason = "ATTRIBUTE_ERROR"
	FailureAPINotFound     FailureReason = "API_NOT_FOUND"
	FailureRateLimitQuota  FailureReason = "RATE_LIMIT_OR_QUOTA"
	FailureUnknownAPIError FailureReason = "UNKNOWN_API_ERROR"
	FailureMaxRetries      FailureReason = "MAX_RETRIES_REACHED"
	FailureGeneration      FailureReason = "GENERATION_ERROR"
)

// Request is one generation call.
type Request struct {
	Role         Role
	Prompt       string
	Config       GenerationConfig
	EnableSearch bool
}

// Usage is the token consumption of a single call.
type Usage struct {
	PromptTokens    int64
	CandidateTokens int64
	TotalTokens     int64
}

// Response is what a Backend returns for a completed HTTP exchange. Blocked
// responses and truncated responses are not errors at this boundary; only
// transport and service failures surface as error values.
type Response struct {
	Text         string
	FinishReason FinishReason
	Blocked      bool
	BlockReason  string
	Usage        *Usage
}

// Backend is the vendor boundary. Generate performs one model call;
// CountTokens invokes the vendor's counting endpoint (or a local estimate
// when the vendor has none).
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
	CountTokens(ctx context.Context, text string) (int64, error)
}

// StatusError is returned by backends for non-2xx service responses so the
// client can classify and decide retryability by code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation service status %d: %s", e.Code, e.Message)
}

// Result is the classified outcome handed to pipeline stages. Exactly one of
// Text/Data is populated on success; Failure is empty on success.
type Result struct {
	Text         string
	Data         any
	FinishReason FinishReason
	Failure      FailureReason
}

// OK reports whether the call produced a usable result.
func (r Result) OK() bool { return r.Failure == "" }

// UsageAccumulator totals token usage across a run. Stage calls are
// sequential today but the accumulator stays mutex-guarded so concurrent
// section generation would not corrupt the totals.
type UsageAccumulator struct {
	mu         sync.Mutex
	prompt     int64
	candidates int64
	total      int64
	calls      int64
}

// Add folds one call's usage into the totals. Negative components are
// treated as zero so the totals stay monotonic.
func (a *UsageAccumulator) Add(u Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompt += maxInt64(u.PromptTokens, 0)
	a.candidates += maxInt64(u.CandidateTokens, 0)
	a.total += maxInt64(u.TotalTokens, 0)
	a.calls++
}

// Snapshot returns the current totals.
func (a *UsageAccumulator) Snapshot() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Usage{PromptTokens: a.prompt, CandidateTokens: a.candidates, TotalTokens: a.total}
}

// Calls returns how many calls have been accounted, including ones that
// contributed zero tokens.
func (a *UsageAccumulator) Calls() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
