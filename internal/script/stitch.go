package script

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/estimate"
	"github.com/calmhollow/sleepscript/internal/llm"
)

// Stitcher assembles the per-section texts into one script and smooths the
// seams in bounded chunked passes.
type Stitcher struct {
	client llm.Caller
	cfg    *config.Settings
	log    *zap.Logger
}

func NewStitcher(client llm.Caller, cfg *config.Settings, log *zap.Logger) *Stitcher {
	return &Stitcher{client: client, cfg: cfg, log: log}
}

// Concatenate joins the section texts in plan order, trimmed and separated
// by blank lines. Sections with no text are skipped.
func Concatenate(texts map[uuid.UUID]string, order []Section) string {
	var b strings.Builder
	for _, sec := range order {
		t := strings.TrimSpace(texts[sec.ID])
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return b.String()
}

// Stitch concatenates and smooths the script. Smoothing degrades
// gracefully: any failed pass appends the unprocessed remainder verbatim,
// and an empty smoothed result falls back to the raw concatenation. The
// only fatal case is having no section text at all.
func (s *Stitcher) Stitch(ctx context.Context, texts map[uuid.UUID]string, order []Section, topicContext string, totalMinutes int) (string, error) {
	raw := Concatenate(texts, order)
	if raw == "" {
		return "", errors.New("no section text to stitch")
	}

	preMinutes := estimate.Minutes(raw, s.cfg.WordsPerMinute)
	s.log.Info("stitching script",
		zap.Int("sections", len(order)),
		zap.Int("chars", len(raw)),
		zap.Float64("pre_smoothing_minutes", preMinutes))

	var parts []string
	remaining := raw
	for pass := 0; pass < s.cfg.MaxSmoothingPasses && remaining != ""; pass++ {
		chunk := cutChunk(remaining, s.cfg.SmoothingChunkChars)
		ceiling := estimate.SmoothingTokenCeiling(len(chunk),
			s.cfg.SmoothingCharsPerToken, s.cfg.SmoothingTokenMargin, s.cfg.ModelMaxOutputTokens)

		res := s.client.Call(ctx, llm.Request{
			Role:   llm.RoleNarrator,
			Prompt: buildSmoothingPrompt(topicContext, totalMinutes, preMinutes, chunk),
			Config: s.cfg.Stitch.Generation(llm.FormatText, ceiling),
		})
		if !res.OK() || strings.TrimSpace(res.Text) == "" {
			s.log.Warn("smoothing pass failed, keeping remainder verbatim",
				zap.Int("pass", pass+1),
				zap.String("failure", string(res.Failure)))
			parts = append(parts, remaining)
			remaining = ""
			break
		}

		parts = append(parts, strings.TrimSpace(res.Text))
		// Advance by the input chunk, not the output: the smoothed text
		// replaces exactly what was fed in.
		remaining = remaining[len(chunk):]
		if strings.TrimSpace(remaining) == "" {
			remaining = ""
		}
	}
	if remaining != "" {
		s.log.Warn("smoothing pass cap reached, keeping remainder verbatim",
			zap.Int("remaining_chars", len(remaining)))
		parts = append(parts, remaining)
	}

	final := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if final == "" {
		s.log.Warn("smoothing produced empty script, falling back to raw concatenation")
		return raw, nil
	}

	s.log.Info("stitching complete",
		zap.Int("chars", len(final)),
		zap.Float64("minutes", estimate.Minutes(final, s.cfg.WordsPerMinute)))
	return final, nil
}

// cutChunk takes at most limit bytes from s, backing up to a rune boundary.
func cutChunk(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
