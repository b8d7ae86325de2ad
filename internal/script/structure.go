package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/llm"
)

// sectionEntrySchema validates one proposed section entry before coercion.
// estimated_minutes is deliberately loose: models return integers, floats,
// and numeric strings, and all three are coerced downstream.
const sectionEntrySchema = `{
	"type": "object",
	"required": ["title", "description", "estimated_minutes"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"estimated_minutes": {"type": ["integer", "number", "string"]}
	}
}`

var entrySchema = jsonschema.MustCompileString("section_entry.json", sectionEntrySchema)

// Structurer proposes a section plan from the research and revises it under
// user feedback.
type Structurer struct {
	client llm.Caller
	cfg    *config.Settings
	log    *zap.Logger
}

func NewStructurer(client llm.Caller, cfg *config.Settings, log *zap.Logger) *Structurer {
	return &Structurer{client: client, cfg: cfg, log: log}
}

// SectionCountRange derives the requested plan size from the total target:
// longer scripts get more sections, with a floor of 2 and a band of at
// least 3 choices.
func SectionCountRange(totalMinutes int) (min, max int) {
	min = 2
	if totalMinutes/15 > min {
		min = totalMinutes / 15
	}
	max = totalMinutes / 7
	if totalMinutes <= 7 {
		max = 4
	}
	if max < min+2 {
		max = min + 2
	}
	return min, max
}

// Propose asks for an initial section plan. At least one valid entry must
// survive extraction, or the proposal fails.
func (s *Structurer) Propose(ctx context.Context, research, topicContext string, totalMinutes int) ([]Section, error) {
	minSections, maxSections := SectionCountRange(totalMinutes)
	s.log.Info("proposing sections",
		zap.Int("total_minutes", totalMinutes),
		zap.Int("min_sections", minSections),
		zap.Int("max_sections", maxSections))

	prompt := buildProposalPrompt(research, topicContext, totalMinutes, minSections, maxSections, s.cfg.ResearchCharLimit)
	return s.requestPlan(ctx, prompt)
}

// Retool asks for a revised plan incorporating user feedback. The prior
// plan is replaced wholesale; on failure the caller keeps the prior plan.
func (s *Structurer) Retool(ctx context.Context, prior []Section, feedback, research, topicContext string, totalMinutes int) ([]Section, error) {
	minSections, maxSections := SectionCountRange(totalMinutes)
	priorJSON, err := json.MarshalIndent(displayPlan(prior), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode prior plan: %w", err)
	}

	s.log.Info("retooling sections", zap.Int("prior_sections", len(prior)))
	prompt := buildRetoolPrompt(string(priorJSON), feedback, research, topicContext, totalMinutes, minSections, maxSections, s.cfg.ResearchCharLimit)
	return s.requestPlan(ctx, prompt)
}

func (s *Structurer) requestPlan(ctx context.Context, prompt string) ([]Section, error) {
	res := s.client.Call(ctx, llm.Request{
		Role:   llm.RoleStructurer,
		Prompt: prompt,
		Config: s.cfg.Proposal.Generation(llm.FormatJSON, 0),
	})
	if !res.OK() {
		return nil, fmt.Errorf("structuring call failed: %s", res.Failure)
	}

	entries, err := ExtractSectionList(res.Data)
	if err != nil {
		return nil, err
	}

	sections := make([]Section, 0, len(entries))
	for i, entry := range entries {
		sec, ok := s.validateEntry(i, entry)
		if !ok {
			continue
		}
		sections = append(sections, sec)
	}
	if len(sections) == 0 {
		return nil, errors.New("structuring produced no valid sections")
	}

	s.log.Info("section plan accepted",
		zap.Int("sections", len(sections)),
		zap.Int("planned_minutes", TotalEstimatedMinutes(sections)))
	return sections, nil
}

// validateEntry checks one decoded entry against the schema, coerces the
// minutes field, and assigns the synthetic ID. Invalid entries are dropped
// with a log line, never fatal.
func (s *Structurer) validateEntry(index int, entry any) (Section, bool) {
	if err := entrySchema.Validate(entry); err != nil {
		s.log.Warn("dropping invalid section entry", zap.Int("index", index), zap.Error(err))
		return Section{}, false
	}
	obj := entry.(map[string]any)
	title, _ := obj["title"].(string)
	description, _ := obj["description"].(string)
	minutes, err := coerceMinutes(obj["estimated_minutes"])
	if err != nil {
		s.log.Warn("dropping section entry with bad minutes",
			zap.Int("index", index),
			zap.String("title", title),
			zap.Error(err))
		return Section{}, false
	}
	return Section{
		ID:               uuid.New(),
		Title:            strings.TrimSpace(title),
		Description:      strings.TrimSpace(description),
		EstimatedMinutes: minutes,
	}, true
}

// ExtractSectionList pulls the section list out of a decoded JSON value
// using an ordered strategy chain: the value itself, then the conventional
// wrapper keys, then the first list-valued key in sorted order.
func ExtractSectionList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"sections", "data", "items"} {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list, ok := v[k].([]any); ok {
				return list, nil
			}
		}
	}
	return nil, errors.New("structured response contains no section list")
}

func coerceMinutes(v any) (int, error) {
	var minutes int
	switch t := v.(type) {
	case float64:
		minutes = int(math.Round(t))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("estimated_minutes %q not numeric", t)
		}
		minutes = int(math.Round(f))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("estimated_minutes %v not numeric", t)
		}
		minutes = int(math.Round(f))
	default:
		return 0, fmt.Errorf("estimated_minutes has type %T", v)
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}

// displayPlan renders sections for embedding in a retool prompt, without
// internal IDs.
func displayPlan(sections []Section) []map[string]any {
	out := make([]map[string]any, 0, len(sections))
	for i, s := range sections {
		out = append(out, map[string]any{
			"position":          i + 1,
			"title":             s.Title,
			"description":       s.Description,
			"estimated_minutes": s.EstimatedMinutes,
		})
	}
	return out
}
