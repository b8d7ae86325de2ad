package script

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/llm"
)

// Researcher performs the single broad research call that seeds every later
// stage.
type Researcher struct {
	client llm.Caller
	cfg    *config.Settings
	log    *zap.Logger
}

func NewResearcher(client llm.Caller, cfg *config.Settings, log *zap.Logger) *Researcher {
	return &Researcher{client: client, cfg: cfg, log: log}
}

// Perform runs one research call with the web-search tool enabled and
// returns the raw research text. Failure here is fatal for the run.
func (r *Researcher) Perform(ctx context.Context, topicContext string, totalMinutes int) (string, error) {
	r.log.Info("starting research", zap.Int("total_minutes", totalMinutes))

	res := r.client.Call(ctx, llm.Request{
		Role:         llm.RoleResearch,
		Prompt:       buildResearchPrompt(topicContext, totalMinutes),
		Config:       r.cfg.Research.Generation(llm.FormatText, 0),
		EnableSearch: true,
	})
	if !res.OK() {
		return "", fmt.Errorf("research call failed: %s", res.Failure)
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", fmt.Errorf("research call returned no text (finish reason %s)", res.FinishReason)
	}

	r.log.Info("research complete",
		zap.Int("chars", len(res.Text)),
		zap.String("finish_reason", string(res.FinishReason)))
	return res.Text, nil
}
