package llm

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type scriptedBackend struct {
	responses []Response
	errs      []error
	calls     int
	counts    map[string]int64
	countErr  error
}

func (b *scriptedBackend) Generate(_ context.Context, _ Request) (Response, error) {
	i := b.calls
	b.calls++
	if i < len(b.errs) && b.errs[i] != nil {
		return Response{}, b.errs[i]
	}
	if i < len(b.responses) {
		return b.responses[i], nil
	}
	return Response{Text: "ok", FinishReason: FinishStop}, nil
}

func (b *scriptedBackend) CountTokens(_ context.Context, text string) (int64, error) {
	if b.countErr != nil {
		return 0, b.countErr
	}
	if n, ok := b.counts[text]; ok {
		return n, nil
	}
	return 0, nil
}

func textConfig() GenerationConfig {
	return GenerationConfig{Temperature: 0.25, TopP: 0.9, TopK: 40, MaxOutputTokens: 1024, Format: FormatText}
}

func jsonConfig() GenerationConfig {
	cfg := textConfig()
	cfg.Format = FormatJSON
	return cfg
}

func newTestClient(b Backend, usage *UsageAccumulator, slept *[]time.Duration) *Client {
	return NewClient(b, usage, zap.NewNop(),
		WithRetries(3, 5*time.Second),
		WithSleep(func(d time.Duration) { *slept = append(*slept, d) }))
}

func TestCallRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		errs: []error{
			&StatusError{Code: 503, Message: "overloaded"},
			&StatusError{Code: 500, Message: "internal"},
		},
		responses: []Response{
			{}, {},
			{Text: "hello", FinishReason: FinishStop, Usage: &Usage{PromptTokens: 10, CandidateTokens: 5, TotalTokens: 15}},
		},
	}
	usage := &UsageAccumulator{}
	var slept []time.Duration
	client := newTestClient(backend, usage, &slept)

	res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "p", Config: textConfig()})
	if !res.OK() || res.Text != "hello" {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(slept) != 2 || slept[0] != 5*time.Second || slept[1] != 10*time.Second {
		t.Fatalf("backoff schedule = %v, want [5s 10s]", slept)
	}
	if got := usage.Snapshot(); got.TotalTokens != 15 {
		t.Fatalf("usage total = %d, want 15", got.TotalTokens)
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		errs: []error{
			&StatusError{Code: 503, Message: "a"},
			&StatusError{Code: 503, Message: "b"},
			&StatusError{Code: 503, Message: "c"},
		},
	}
	var slept []time.Duration
	client := newTestClient(backend, &UsageAccumulator{}, &slept)

	res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "p", Config: textConfig()})
	if res.Failure != FailureMaxRetries {
		t.Fatalf("failure = %q, want MAX_RETRIES_REACHED", res.Failure)
	}
	if len(slept) != 3 {
		t.Fatalf("slept %d times, want 3", len(slept))
	}
}

func TestCallNonRetryableStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"not found", &StatusError{Code: 404, Message: "no such model"}, FailureAPINotFound},
		{"rate limited", &StatusError{Code: 429, Message: "slow down"}, FailureRateLimitQuota},
		{"quota in message", &StatusError{Code: 403, Message: "daily quota exceeded"}, FailureRateLimitQuota},
		{"other status", &StatusError{Code: 400, Message: "bad request"}, FailureUnknownAPIError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			backend := &scriptedBackend{errs: []error{tc.err}}
			var slept []time.Duration
			client := newTestClient(backend, &UsageAccumulator{}, &slept)

			res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "p", Config: textConfig()})
			if res.Failure != tc.want {
				t.Fatalf("failure = %q, want %q", res.Failure, tc.want)
			}
			if len(slept) != 0 {
				t.Fatalf("non-retryable error slept %v", slept)
			}
			if backend.calls != 1 {
				t.Fatalf("backend called %d times, want 1", backend.calls)
			}
		})
	}
}

func TestCallBlockedResponse(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{responses: []Response{{Blocked: true, BlockReason: "SAFETY"}}}
	var slept []time.Duration
	client := newTestClient(backend, &UsageAccumulator{}, &slept)

	res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "p", Config: textConfig()})
	if res.Failure != FailureBlockedOrEmpty || res.FinishReason != FinishBlocked {
		t.Fatalf("got %+v, want BLOCKED_OR_EMPTY/BLOCKED", res)
	}
}

func TestCallEmptyTextFinishReasonPolicy(t *testing.T) {
	t.Parallel()

	tolerated := []FinishReason{FinishStop, FinishMaxTokens, FinishSafety}
	for _, fr := range tolerated {
		backend := &scriptedBackend{responses: []Response{{Text: "", FinishReason: fr}}}
		var slept []time.Duration
		client := newTestClient(backend, &UsageAccumulator{}, &slept)
		res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "p", Config: textConfig()})
		if !res.OK() {
			t.Fatalf("empty text under %s classified as %q, want success", fr, res.Failure)
		}
		if res.FinishReason != fr {
			t.Fatalf("finish reason = %q, want %q", res.FinishReason, fr)
		}
	}

	backend := &scriptedBackend{responses: []Response{{Text: "", FinishReason: FinishUnknown}}}
	var slept []time.Duration
	client := newTestClient(backend, &UsageAccumulator{}, &slept)
	res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "p", Config: textConfig()})
	if res.Failure != FailureBlockedOrEmpty {
		t.Fatalf("empty text under UNKNOWN = %q, want BLOCKED_OR_EMPTY", res.Failure)
	}
}

func TestCallStructuredFenceStripping(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{responses: []Response{{
		Text:         "```json\n[{\"title\": \"Dawn\"}]\n```",
		FinishReason: FinishStop,
	}}}
	var slept []time.Duration
	client := newTestClient(backend, &UsageAccumulator{}, &slept)

	res := client.Call(context.Background(), Request{Role: RoleStructurer, Prompt: "p", Config: jsonConfig()})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	list, ok := res.Data.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("data = %#v, want one-element list", res.Data)
	}
}

func TestCallStructuredDecodeFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want FailureReason
	}{
		{"malformed", "{not json", FailureJSONDecode},
		{"scalar shape", "42", FailureAttribute},
		{"bare string", `"hello"`, FailureAttribute},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			backend := &scriptedBackend{responses: []Response{{Text: tc.text, FinishReason: FinishStop}}}
			var slept []time.Duration
			client := newTestClient(backend, &UsageAccumulator{}, &slept)
			res := client.Call(context.Background(), Request{Role: RoleStructurer, Prompt: "p", Config: jsonConfig()})
			if res.Failure != tc.want {
				t.Fatalf("failure = %q, want %q", res.Failure, tc.want)
			}
		})
	}
}

func TestAccountingFallsBackToCountingEndpoint(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		responses: []Response{{Text: "out", FinishReason: FinishStop}},
		counts:    map[string]int64{"prompt": 7, "out": 3},
	}
	usage := &UsageAccumulator{}
	var slept []time.Duration
	client := newTestClient(backend, usage, &slept)

	res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "prompt", Config: textConfig()})
	if !res.OK() {
		t.Fatalf("unexpected failure %+v", res)
	}
	got := usage.Snapshot()
	if got.PromptTokens != 7 || got.CandidateTokens != 3 || got.TotalTokens != 10 {
		t.Fatalf("usage = %+v, want 7/3/10", got)
	}
}

func TestAccountingErrorsContributeZero(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		responses: []Response{{Text: "out", FinishReason: FinishStop}},
		countErr:  &StatusError{Code: 500, Message: "count down"},
	}
	usage := &UsageAccumulator{}
	var slept []time.Duration
	client := newTestClient(backend, usage, &slept)

	res := client.Call(context.Background(), Request{Role: RoleNarrator, Prompt: "prompt", Config: textConfig()})
	if !res.OK() {
		t.Fatalf("accounting failure aborted the call: %+v", res)
	}
	if got := usage.Snapshot(); got.TotalTokens != 0 {
		t.Fatalf("usage total = %d, want 0", got.TotalTokens)
	}
	if usage.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", usage.Calls())
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"```json\n{}\n```", "{}"},
		{"```\n[]\n```", "[]"},
		{"  {\"a\":1}  ", `{"a":1}`},
		{"```json{}```", "{}"},
	}
	for _, tc := range cases {
		if got := StripCodeFence(tc.in); got != tc.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUsageAccumulatorClampsNegative(t *testing.T) {
	t.Parallel()

	acc := &UsageAccumulator{}
	acc.Add(Usage{PromptTokens: -5, CandidateTokens: 2, TotalTokens: -3})
	got := acc.Snapshot()
	if got.PromptTokens != 0 || got.CandidateTokens != 2 || got.TotalTokens != 0 {
		t.Fatalf("snapshot = %+v, want 0/2/0", got)
	}
}
