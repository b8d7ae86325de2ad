package script

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/calmhollow/sleepscript/internal/llm"
)

func planWithTexts(bodies ...string) ([]Section, map[uuid.UUID]string) {
	sections := make([]Section, 0, len(bodies))
	texts := make(map[uuid.UUID]string, len(bodies))
	for i, body := range bodies {
		sec := Section{ID: uuid.New(), Title: "S", Description: "d", EstimatedMinutes: 1 + i}
		sections = append(sections, sec)
		texts[sec.ID] = body
	}
	return sections, texts
}

func TestConcatenateOrderAndSeparators(t *testing.T) {
	t.Parallel()

	sections, texts := planWithTexts("  first part  ", "", "third part\n")
	got := Concatenate(texts, sections)
	want := "first part\n\nthird part"
	if got != want {
		t.Fatalf("Concatenate = %q, want %q", got, want)
	}
}

func TestStitchNoTextIsFatal(t *testing.T) {
	t.Parallel()

	sections, texts := planWithTexts("", "   ")
	s := NewStitcher(&scriptedCaller{}, testSettings(t), nopLogger())
	if _, err := s.Stitch(context.Background(), texts, sections, "Topic: tides", 10); err == nil {
		t.Fatal("expected error for empty script")
	}
}

func TestStitchSmoothsSingleChunk(t *testing.T) {
	t.Parallel()

	sections, texts := planWithTexts("part one", "part two")
	caller := &scriptedCaller{results: []llm.Result{textResult("smoothly joined narration")}}
	s := NewStitcher(caller, testSettings(t), nopLogger())

	final, err := s.Stitch(context.Background(), texts, sections, "Topic: tides", 10)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if final != "smoothly joined narration" {
		t.Fatalf("final = %q", final)
	}
	if len(caller.requests) != 1 {
		t.Fatalf("made %d smoothing calls, want 1", len(caller.requests))
	}
}

func TestStitchFirstChunkFailureReturnsRawVerbatim(t *testing.T) {
	t.Parallel()

	sections, texts := planWithTexts("part one", "part two")
	raw := Concatenate(texts, sections)
	caller := &scriptedCaller{results: []llm.Result{{Failure: llm.FailureMaxRetries, FinishReason: llm.FinishUnknown}}}
	s := NewStitcher(caller, testSettings(t), nopLogger())

	final, err := s.Stitch(context.Background(), texts, sections, "Topic: tides", 10)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if final != raw {
		t.Fatalf("degraded final differs from raw concatenation:\n%q\nvs\n%q", final, raw)
	}
}

func TestStitchAdvancesByInputChunk(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.SmoothingChunkChars = 10

	sections, texts := planWithTexts("abcdefghij", "klmnopqrst")
	raw := Concatenate(texts, sections) // 22 chars with separator
	caller := &scriptedCaller{results: []llm.Result{
		textResult("ONE"),
		textResult("TWO"),
		textResult("THREE"),
	}}
	s := NewStitcher(caller, settings, nopLogger())

	final, err := s.Stitch(context.Background(), texts, sections, "Topic: tides", 10)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if len(caller.requests) != 3 {
		t.Fatalf("made %d calls, want 3 for %d chars in 10-char chunks", len(caller.requests), len(raw))
	}
	// Chunks cover the raw input in order, regardless of output size.
	if !strings.Contains(caller.requests[0].Prompt, "abcdefghij") {
		t.Fatal("first chunk not taken from raw head")
	}
	if !strings.Contains(caller.requests[2].Prompt, "st") {
		t.Fatal("last chunk not taken from raw tail")
	}
	if final != "ONE\n\nTWO\n\nTHREE" {
		t.Fatalf("final = %q", final)
	}
}

func TestStitchPassCapAppendsRemainder(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.SmoothingChunkChars = 4
	settings.MaxSmoothingPasses = 2

	sections, texts := planWithTexts("abcdefghijkl")
	caller := &scriptedCaller{results: []llm.Result{
		textResult("ONE"),
		textResult("TWO"),
	}}
	s := NewStitcher(caller, settings, nopLogger())

	final, err := s.Stitch(context.Background(), texts, sections, "Topic: tides", 10)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if len(caller.requests) != 2 {
		t.Fatalf("made %d calls, want the 2-pass cap", len(caller.requests))
	}
	if final != "ONE\n\nTWO\n\nijkl" {
		t.Fatalf("final = %q, want smoothed passes plus verbatim remainder", final)
	}
}

func TestStitchMidStreamFailureKeepsRemainderVerbatim(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.SmoothingChunkChars = 4

	sections, texts := planWithTexts("abcdefgh")
	caller := &scriptedCaller{results: []llm.Result{
		textResult("ONE"),
		{Failure: llm.FailureUnknownAPIError, FinishReason: llm.FinishUnknown},
	}}
	s := NewStitcher(caller, settings, nopLogger())

	final, err := s.Stitch(context.Background(), texts, sections, "Topic: tides", 10)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if final != "ONE\n\nefgh" {
		t.Fatalf("final = %q, want first pass plus verbatim tail", final)
	}
}
