package script

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/llm"
)

// scriptedCaller returns pre-planned results in call order and records the
// requests it saw.
type scriptedCaller struct {
	results  []llm.Result
	requests []llm.Request
}

func (c *scriptedCaller) Call(_ context.Context, req llm.Request) llm.Result {
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	if i < len(c.results) {
		return c.results[i]
	}
	return llm.Result{Failure: llm.FailureMaxRetries, FinishReason: llm.FinishUnknown}
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s, err := config.Load("")
	if err != nil {
		t.Fatalf("load default settings: %v", err)
	}
	return s
}

func textResult(text string) llm.Result {
	return llm.Result{Text: text, FinishReason: llm.FinishStop}
}

func nopLogger() *zap.Logger { return zap.NewNop() }
