package script

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/estimate"
	"github.com/calmhollow/sleepscript/internal/llm"
)

// Writer generates one section's narration and expands it toward the
// length target.
type Writer struct {
	client llm.Caller
	cfg    *config.Settings
	log    *zap.Logger
}

func NewWriter(client llm.Caller, cfg *config.Settings, log *zap.Logger) *Writer {
	return &Writer{client: client, cfg: cfg, log: log}
}

// Generate produces the section text: one initial generation, then an
// iterative expansion loop until the estimated length is within half the
// acceptable variance of the target, the text overshoots, or the attempt
// cap is hit. A failed initial generation is fatal; a failed or
// non-productive expansion keeps the best text so far.
func (w *Writer) Generate(ctx context.Context, sec Section, research, topicContext string, influence float64) (string, error) {
	isWhatIf := IsWhatIfTopic(topicContext)
	wpm := w.cfg.WordsPerMinute
	target := float64(sec.EstimatedMinutes)
	targetWords := sec.EstimatedMinutes * wpm

	ceiling := estimate.OutputTokenCeiling(sec.EstimatedMinutes, wpm,
		w.cfg.TokensPerWord, w.cfg.TokenBufferFraction, w.cfg.ModelMaxOutputTokens)

	w.log.Info("generating section",
		zap.String("section_id", sec.ID.String()),
		zap.String("title", sec.Title),
		zap.Int("target_minutes", sec.EstimatedMinutes),
		zap.Int("token_ceiling", ceiling))

	res := w.client.Call(ctx, llm.Request{
		Role:   llm.RoleNarrator,
		Prompt: buildSectionPrompt(sec, research, topicContext, influence, isWhatIf, w.cfg.ResearchCharLimit),
		Config: w.cfg.Section.Generation(llm.FormatText, ceiling),
	})
	if !res.OK() {
		return "", fmt.Errorf("section %q: initial generation failed: %s", sec.Title, res.Failure)
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", fmt.Errorf("section %q: initial generation returned no text (finish reason %s)", sec.Title, res.FinishReason)
	}

	text := withTitle(sec.Title, res.Text)
	if res.FinishReason == llm.FinishMaxTokens {
		// The initial pass already filled its ceiling; expansion would
		// rewrite the whole section into the same ceiling again.
		w.log.Warn("initial generation truncated, accepting as-is",
			zap.String("title", sec.Title),
			zap.Float64("minutes", estimate.Minutes(text, wpm)))
		return text, nil
	}

	current := estimate.Minutes(text, wpm)
	attempts := 0
	for (target-current) > w.cfg.LengthVarianceMinutes/2 &&
		current < target*(1+w.cfg.TokenBufferFraction/3) &&
		attempts < w.cfg.MaxExpansionAttempts {
		attempts++

		wordsNeeded := targetWords - int(current*float64(wpm))
		if wordsNeeded < 0 {
			wordsNeeded = 0
		}
		if attempts > 1 && float64(wordsNeeded) < float64(wpm)*w.cfg.MinExpansionMinutes/2 {
			w.log.Debug("remaining gap too small to expand",
				zap.String("title", sec.Title),
				zap.Int("words_needed", wordsNeeded))
			break
		}
		paragraphs := int(math.Round(float64(wordsNeeded) / float64(w.cfg.AvgWordsPerParagraph)))
		if paragraphs < 1 {
			paragraphs = 1
		}

		expansionCeiling := estimate.ExpansionTokenCeiling(targetWords,
			w.cfg.TokensPerWord, w.cfg.TokenBufferFraction, w.cfg.ModelMaxOutputTokens)

		w.log.Info("expanding section",
			zap.String("title", sec.Title),
			zap.Int("attempt", attempts),
			zap.Float64("current_minutes", current),
			zap.Int("paragraphs_requested", paragraphs))

		expRes := w.client.Call(ctx, llm.Request{
			Role: llm.RoleNarrator,
			Prompt: buildExpansionPrompt(text, sec, research, topicContext,
				paragraphs, influence, isWhatIf, w.cfg.ResearchCharLimit),
			Config: w.cfg.Section.Generation(llm.FormatText, expansionCeiling),
		})
		if !expRes.OK() || strings.TrimSpace(expRes.Text) == "" {
			w.log.Warn("expansion failed, keeping current text",
				zap.String("title", sec.Title),
				zap.String("failure", string(expRes.Failure)))
			break
		}

		expanded := withTitle(sec.Title, expRes.Text)
		newMinutes := estimate.Minutes(expanded, wpm)
		if newMinutes <= current+0.2 {
			w.log.Warn("expansion non-productive, keeping current text",
				zap.String("title", sec.Title),
				zap.Float64("current_minutes", current),
				zap.Float64("new_minutes", newMinutes))
			break
		}

		text = expanded
		current = newMinutes

		if expRes.FinishReason == llm.FinishMaxTokens && current >= target*0.9 {
			w.log.Info("expansion truncated near target, stopping",
				zap.String("title", sec.Title),
				zap.Float64("minutes", current))
			break
		}
	}

	w.log.Info("section complete",
		zap.String("title", sec.Title),
		zap.Float64("minutes", current),
		zap.Int("expansion_attempts", attempts))
	return text, nil
}

// withTitle prefixes the narration with its section title unless the model
// already included it.
func withTitle(title, body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, title) {
		return body
	}
	return title + "\n\n" + body
}
