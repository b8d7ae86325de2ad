package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Caller is the stage-facing surface of the adapter. Stages depend on this
// rather than on *Client so tests can script outcomes directly.
type Caller interface {
	Call(ctx context.Context, req Request) Result
}

// Client wraps a Backend with bounded retry, outcome classification, JSON
// fence stripping, and token accounting. A Result is always returned; the
// caller inspects Failure rather than an error value.
type Client struct {
	backend      Backend
	usage        *UsageAccumulator
	log          *zap.Logger
	maxRetries   int
	initialDelay time.Duration
	sleep        func(time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithRetries sets the attempt bound and the initial backoff delay. The
// delay doubles on every retried attempt.
func WithRetries(maxRetries int, initialDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialDelay = initialDelay
	}
}

// WithSleep replaces the backoff sleep. Tests inject a recorder here.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) { c.sleep = sleep }
}

func NewClient(backend Backend, usage *UsageAccumulator, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		usage:        usage,
		log:          log,
		maxRetries:   3,
		initialDelay: 5 * time.Second,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one generation with retry on transient service errors.
// Attempt n (zero-based) that fails retryably sleeps initialDelay * 2^n
// before the next try; non-retryable failures classify immediately.
func (c *Client) Call(ctx context.Context, req Request) Result {
	if err := req.Config.Validate(); err != nil {
		c.log.Error("rejecting generation request", zap.String("role", string(req.Role)), zap.Error(err))
		return Result{Failure: FailureGeneration, FinishReason: FinishUnknown}
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := c.backend.Generate(ctx, req)
		if err != nil {
			reason, retryable := classifyError(err)
			if !retryable {
				c.log.Error("generation call failed",
					zap.String("role", string(req.Role)),
					zap.String("failure", string(reason)),
					zap.Error(err))
				return Result{Failure: reason, FinishReason: FinishUnknown}
			}
			delay := c.initialDelay * time.Duration(1<<attempt)
			c.log.Warn("transient generation error, backing off",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			c.sleep(delay)
			continue
		}

		c.account(ctx, req.Prompt, resp)
		return c.classify(req, resp)
	}

	c.log.Error("generation retries exhausted",
		zap.String("role", string(req.Role)),
		zap.Int("attempts", c.maxRetries))
	return Result{Failure: FailureMaxRetries, FinishReason: FinishUnknown}
}

func (c *Client) classify(req Request, resp Response) Result {
	if resp.Blocked {
		c.log.Warn("generation blocked",
			zap.String("role", string(req.Role)),
			zap.String("block_reason", resp.BlockReason))
		return Result{Failure: FailureBlockedOrEmpty, FinishReason: FinishBlocked}
	}

	finish := resp.FinishReason
	if finish == "" {
		finish = FinishUnknown
	}

	if req.Config.Format == FormatJSON {
		return c.decodeStructured(resp.Text, finish)
	}

	if strings.TrimSpace(resp.Text) == "" {
		// Empty text is tolerated only under finish reasons that imply
		// the model ran and simply emitted nothing usable.
		switch finish {
		case FinishStop, FinishMaxTokens, FinishSafety:
			c.log.Warn("empty generation accepted", zap.String("finish_reason", string(finish)))
		default:
			return Result{Failure: FailureBlockedOrEmpty, FinishReason: finish}
		}
	}
	return Result{Text: resp.Text, FinishReason: finish}
}

func (c *Client) decodeStructured(text string, finish FinishReason) Result {
	cleaned := StripCodeFence(text)
	if strings.TrimSpace(cleaned) == "" {
		return Result{Failure: FailureBlockedOrEmpty, FinishReason: finish}
	}
	var value any
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		c.log.Error("structured response is not valid JSON", zap.Error(err), zap.String("head", head(cleaned, 200)))
		return Result{Failure: FailureJSONDecode, FinishReason: finish}
	}
	switch value.(type) {
	case map[string]any, []any:
		return Result{Data: value, FinishReason: finish}
	default:
		c.log.Error("structured response has non-container shape", zap.String("head", head(cleaned, 200)))
		return Result{Failure: FailureAttribute, FinishReason: finish}
	}
}

// account folds the call's token usage into the accumulator. Usage metadata
// from the response wins; otherwise the counting endpoint is consulted for
// prompt and candidate separately. Accounting never fails the call: errors
// contribute zero.
func (c *Client) account(ctx context.Context, prompt string, resp Response) {
	var u Usage
	switch {
	case resp.Usage != nil:
		u = *resp.Usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CandidateTokens
		}
	default:
		p, err := c.backend.CountTokens(ctx, prompt)
		if err != nil {
			c.log.Warn("prompt token count unavailable", zap.Error(err))
			c.usage.Add(Usage{})
			return
		}
		var cand int64
		if resp.Text != "" {
			if cand, err = c.backend.CountTokens(ctx, resp.Text); err != nil {
				c.log.Warn("candidate token count unavailable", zap.Error(err))
				cand = 0
			}
		}
		u = Usage{PromptTokens: p, CandidateTokens: cand, TotalTokens: p + cand}
	}
	c.usage.Add(u)
	c.log.Debug("tokens accounted",
		zap.Int64("prompt", u.PromptTokens),
		zap.Int64("candidates", u.CandidateTokens),
		zap.Int64("total", u.TotalTokens))
}

// classifyError maps backend errors onto the failure taxonomy and decides
// retryability. Only 500 and 503 service statuses retry.
func classifyError(err error) (FailureReason, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		msg := strings.ToLower(statusErr.Message)
		switch {
		case statusErr.Code == 404:
			return FailureAPINotFound, false
		case statusErr.Code == 429,
			strings.Contains(msg, "quota"),
			strings.Contains(msg, "resource_exhausted"):
			return FailureRateLimitQuota, false
		case statusErr.Code == 500, statusErr.Code == 503:
			return FailureUnknownAPIError, true
		default:
			return FailureUnknownAPIError, false
		}
	}
	return FailureUnknownAPIError, false
}

// StripCodeFence removes a Markdown code fence wrapping a JSON body, the way
// chat models habitually decorate structured output.
func StripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	if strings.HasSuffix(cleaned, "```") {
		cleaned = cleaned[:len(cleaned)-len("```")]
	}
	return strings.TrimSpace(cleaned)
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
