package script

import (
	"fmt"
	"strings"
)

// NarratorInstruction is the system instruction for every narration-voice
// call (research synthesis, section writing, expansion, smoothing).
const NarratorInstruction = `You are a narrator for long-form sleep content. Your voice is calm,
measured, and warmly detached. You write flowing prose meant to be read
aloud slowly: long sentences, gentle transitions, no headings, no lists,
no stage directions, no audience address beyond a soft second person.
You never break character, never summarize what you are about to do, and
never append commentary after the narration. Rich sensory and historical
detail is welcome; tension, cliffhangers, and loud drama are not. When the
material is factual, stay faithful to it. When asked to imagine, drift
plausibly rather than fantastically.`

// StructurerInstruction is the system instruction for section planning
// calls, which must return machine-readable JSON.
const StructurerInstruction = `You are a planning assistant for long-form narration scripts. You
divide a topic into sequential sections that flow into one another and
together fill the requested duration. You respond with JSON only: a list
of objects, each with "title" (string), "description" (one or two
sentences, string), and "estimated_minutes" (integer). No prose before
or after the JSON. Section minute estimates must sum close to the
requested total.`

var whatIfMarkers = []string{
	"what if",
	"if he had",
	"if she had",
	"if they had",
	"had he ",
	"had she ",
}

// IsWhatIfTopic reports whether the topic context asks for counterfactual
// rather than factual narration, by keyword match.
func IsWhatIfTopic(topicContext string) bool {
	lowered := strings.ToLower(topicContext)
	for _, marker := range whatIfMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// influenceInstruction maps the research-influence knob onto prompt
// language. High values pin the narration to the research; low values use
// it only as a springboard.
func influenceInstruction(influence float64) string {
	switch {
	case influence >= 0.8:
		return "Stay strictly faithful to the research context. Every claim, name, and date in the narration must be supported by it; do not invent details beyond gentle connective tissue."
	case influence <= 0.2:
		return "Treat the research context as loose inspiration only. You may roam freely around the topic, inventing plausible texture and atmosphere, as long as the narration stays coherent."
	default:
		return "Ground the narration in the research context, but you may elaborate with plausible detail and atmosphere where the research is thin."
	}
}

func modeInstruction(isWhatIf bool) string {
	if isWhatIf {
		return "This is a counterfactual scenario. Narrate the alternate history as if it unfolded, keeping the divergence plausible and anchored in the real starting conditions described in the research."
	}
	return "This is factual material. Keep the narration historically and factually grounded."
}

// truncate limits embedded context to at most limit bytes, cutting on a
// rune boundary.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}

func buildResearchPrompt(topicContext string, totalMinutes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gather and synthesize comprehensive background material for a %d-minute sleep narration script.\n\n", totalMinutes)
	b.WriteString(topicContext)
	b.WriteString("\n\nUse web search to collect accurate facts, chronology, names, places, and sensory details. ")
	b.WriteString("Write the findings as dense flowing notes, organized roughly chronologically or thematically. ")
	b.WriteString("Include enough material to sustain the full duration. Do not write the narration itself yet.")
	return b.String()
}

func buildProposalPrompt(research, topicContext string, totalMinutes, minSections, maxSections, researchCharLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a %d-minute narration script.\n\n%s\n\n", totalMinutes, topicContext)
	fmt.Fprintf(&b, "Divide it into between %d and %d sequential sections. ", minSections, maxSections)
	fmt.Fprintf(&b, "The estimated_minutes values must sum to approximately %d.\n\n", totalMinutes)
	b.WriteString("Research context:\n")
	b.WriteString(truncate(research, researchCharLimit))
	return b.String()
}

func buildRetoolPrompt(priorJSON, feedback, research, topicContext string, totalMinutes, minSections, maxSections, researchCharLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Revise the section plan for a %d-minute narration script according to the user's feedback.\n\n%s\n\n", totalMinutes, topicContext)
	b.WriteString("Current plan:\n")
	b.WriteString(priorJSON)
	b.WriteString("\n\nUser feedback:\n")
	b.WriteString(feedback)
	fmt.Fprintf(&b, "\n\nReturn the complete revised plan as JSON, between %d and %d sections, estimated_minutes summing to approximately %d.\n\n", minSections, maxSections, totalMinutes)
	b.WriteString("Research context:\n")
	b.WriteString(truncate(research, researchCharLimit))
	return b.String()
}

func buildSectionPrompt(sec Section, research, topicContext string, influence float64, isWhatIf bool, researchCharLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the narration for one section of a longer script.\n\n%s\n\n", topicContext)
	fmt.Fprintf(&b, "Section: %s\nDescription: %s\nTarget length: about %d minutes of slow narration.\n\n",
		sec.Title, sec.Description, sec.EstimatedMinutes)
	b.WriteString(modeInstruction(isWhatIf))
	b.WriteString("\n")
	b.WriteString(influenceInstruction(influence))
	b.WriteString("\n\nWrite only this section's narration, as continuous prose. Do not recap earlier sections or preview later ones.\n\n")
	b.WriteString("Research context:\n")
	b.WriteString(truncate(research, researchCharLimit))
	return b.String()
}

func buildExpansionPrompt(current string, sec Section, research, topicContext string, paragraphsNeeded int, influence float64, isWhatIf bool, researchCharLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following section narration is shorter than its target of about %d minutes. ", sec.EstimatedMinutes)
	fmt.Fprintf(&b, "Rewrite it in full, expanded by roughly %d additional paragraphs of new material woven through the existing prose. ", paragraphsNeeded)
	b.WriteString("Deepen detail and atmosphere; do not pad with repetition, and do not summarize.\n\n")
	fmt.Fprintf(&b, "%s\nSection: %s\nDescription: %s\n\n", topicContext, sec.Title, sec.Description)
	b.WriteString(modeInstruction(isWhatIf))
	b.WriteString("\n")
	b.WriteString(influenceInstruction(influence))
	b.WriteString("\n\nCurrent narration:\n")
	b.WriteString(current)
	b.WriteString("\n\nResearch context:\n")
	b.WriteString(truncate(research, researchCharLimit))
	return b.String()
}

func buildSmoothingPrompt(topicContext string, totalMinutes int, currentMinutes float64, chunk string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Below is part of an assembled %d-minute narration script (currently about %.1f minutes). ", totalMinutes, currentMinutes)
	b.WriteString("Polish it into one continuous flow: smooth the seams between sections, remove repeated framing, and keep the calm narration voice. ")
	b.WriteString("Preserve the content and the length; do not shorten, do not add headings, and return only the polished narration.\n\n")
	b.WriteString(topicContext)
	b.WriteString("\n\nScript part:\n")
	b.WriteString(chunk)
	return b.String()
}
