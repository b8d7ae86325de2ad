// Package pipeline sequences the narration stages: research, structuring
// with user review, per-section generation, and stitching. Stage failures
// marked fatal halt the run; artifacts already written stay on disk.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/artifacts"
	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/estimate"
	"github.com/calmhollow/sleepscript/internal/llm"
	"github.com/calmhollow/sleepscript/internal/script"
)

// Reviewer presents a proposed section plan to the user and collects either
// confirmation or revision feedback.
type Reviewer interface {
	Review(sections []script.Section, totalMinutes int) (feedback string, confirmed bool, err error)
}

// AutoConfirm accepts every proposal, for non-interactive runs.
type AutoConfirm struct{}

func (AutoConfirm) Review([]script.Section, int) (string, bool, error) { return "", true, nil }

// TokenCounter is the optional counting endpoint used for the final report.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int64, error)
}

// Inputs are the user-supplied run parameters.
type Inputs struct {
	Topic             string
	Direction         string
	TotalMinutes      int
	ResearchInfluence float64
}

// TopicContext renders the topic block embedded in every prompt.
func (in Inputs) TopicContext() string {
	direction := in.Direction
	if direction == "" {
		direction = "General overview"
	}
	return fmt.Sprintf("Topic: %s\nDirection: %s", in.Topic, direction)
}

func (in Inputs) Validate() error {
	if in.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if in.TotalMinutes < 1 {
		return fmt.Errorf("total minutes %d below 1", in.TotalMinutes)
	}
	if in.ResearchInfluence < 0 || in.ResearchInfluence > 1 {
		return fmt.Errorf("research influence %v outside [0,1]", in.ResearchInfluence)
	}
	return nil
}

// RunState carries the intermediate products of a run.
type RunState struct {
	Research    string
	Sections    []script.Section
	Scripts     map[uuid.UUID]string
	FinalScript string
}

// Report summarizes a completed run.
type Report struct {
	FinalMinutes     float64
	FinalTokens      int64
	FinalTokensKnown bool
	Usage            llm.Usage
	Elapsed          time.Duration
}

// Driver owns one run end to end.
type Driver struct {
	researcher *script.Researcher
	structurer *script.Structurer
	writer     *script.Writer
	stitcher   *script.Stitcher
	store      *artifacts.Store
	usage      *llm.UsageAccumulator
	counter    TokenCounter
	reviewer   Reviewer
	cfg        *config.Settings
	log        *zap.Logger
	now        func() time.Time
}

func NewDriver(client llm.Caller, cfg *config.Settings, store *artifacts.Store,
	usage *llm.UsageAccumulator, reviewer Reviewer, counter TokenCounter, log *zap.Logger) *Driver {
	return &Driver{
		researcher: script.NewResearcher(client, cfg, log),
		structurer: script.NewStructurer(client, cfg, log),
		writer:     script.NewWriter(client, cfg, log),
		stitcher:   script.NewStitcher(client, cfg, log),
		store:      store,
		usage:      usage,
		counter:    counter,
		reviewer:   reviewer,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Run executes the pipeline. On a fatal stage error the returned state
// holds whatever was produced before the halt.
func (d *Driver) Run(ctx context.Context, in Inputs) (*RunState, *Report, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	started := d.now()
	state := &RunState{Scripts: make(map[uuid.UUID]string)}
	topicContext := in.TopicContext()

	research, err := d.researcher.Perform(ctx, topicContext, in.TotalMinutes)
	if err != nil {
		return state, nil, err
	}
	state.Research = research
	d.saveArtifact("research_context.txt", research)

	sections, err := d.structureWithReview(ctx, research, topicContext, in.TotalMinutes)
	if err != nil {
		return state, nil, err
	}
	state.Sections = sections

	for i, sec := range sections {
		d.log.Info("section generation",
			zap.Int("position", i+1),
			zap.Int("of", len(sections)),
			zap.String("title", sec.Title))
		text, err := d.writer.Generate(ctx, sec, research, topicContext, in.ResearchInfluence)
		if err != nil {
			return state, nil, fmt.Errorf("pipeline halted: %w", err)
		}
		state.Scripts[sec.ID] = text
		d.saveArtifact(artifacts.SectionFileName(sec.Title), text)
	}

	final, err := d.stitcher.Stitch(ctx, state.Scripts, sections, topicContext, in.TotalMinutes)
	if err != nil {
		return state, nil, err
	}
	state.FinalScript = final
	d.saveArtifact("final_script.txt", final)

	report := d.buildReport(ctx, final, started)
	d.log.Info("run complete",
		zap.Float64("final_minutes", report.FinalMinutes),
		zap.Int64("total_tokens", report.Usage.TotalTokens),
		zap.Duration("elapsed", report.Elapsed))
	return state, report, nil
}

// structureWithReview runs the proposal and the bounded feedback loop. When
// the round bound is hit without confirmation the last plan is accepted and
// persisted as lapsed.
func (d *Driver) structureWithReview(ctx context.Context, research, topicContext string, totalMinutes int) ([]script.Section, error) {
	sections, err := d.structurer.Propose(ctx, research, topicContext, totalMinutes)
	if err != nil {
		return nil, err
	}
	d.saveJSONArtifact("sections_initial.json", sections)

	maxRounds := d.cfg.MaxExpansionAttempts + 3
	for round := 0; round < maxRounds; round++ {
		feedback, confirmed, err := d.reviewer.Review(sections, totalMinutes)
		if err != nil {
			return nil, fmt.Errorf("section review: %w", err)
		}
		if confirmed {
			d.saveJSONArtifact("sections_confirmed.json", sections)
			return sections, nil
		}
		if round == maxRounds-1 {
			break
		}
		revised, err := d.structurer.Retool(ctx, sections, feedback, research, topicContext, totalMinutes)
		if err != nil {
			// Keep the prior plan and show it again.
			d.log.Warn("retool failed, keeping prior plan", zap.Error(err))
			continue
		}
		sections = revised
		d.saveJSONArtifact(fmt.Sprintf("sections_revision_%d.json", round+1), sections)
	}

	d.log.Warn("review rounds exhausted, accepting last plan", zap.Int("rounds", maxRounds))
	d.saveJSONArtifact("sections_lapsed.json", sections)
	return sections, nil
}

func (d *Driver) buildReport(ctx context.Context, final string, started time.Time) *Report {
	report := &Report{
		FinalMinutes: estimate.Minutes(final, d.cfg.WordsPerMinute),
		Usage:        d.usage.Snapshot(),
		Elapsed:      d.now().Sub(started),
	}
	if d.counter != nil {
		if n, err := d.counter.CountTokens(ctx, final); err != nil {
			d.log.Warn("final script token count unavailable", zap.Error(err))
		} else {
			report.FinalTokens = n
			report.FinalTokensKnown = true
		}
	}
	return report
}

// Artifact writes are best-effort: a failed save is logged, never fatal.
func (d *Driver) saveArtifact(name, content string) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveText(name, content); err != nil {
		d.log.Warn("artifact save failed", zap.String("name", name), zap.Error(err))
	}
}

func (d *Driver) saveJSONArtifact(name string, v any) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveJSON(name, v); err != nil {
		d.log.Warn("artifact save failed", zap.String("name", name), zap.Error(err))
	}
}
