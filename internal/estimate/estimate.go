// Package estimate converts between narration text, spoken minutes, and
// model output-token ceilings. Every stage of the pipeline measures length
// through the same word-count heuristic so that the expansion and smoothing
// loops converge against a single oracle.
package estimate

import (
	"math"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[\pL\pN_']+`)

// WordCount returns the number of word-like runs in text.
func WordCount(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(wordPattern.FindAllString(text, -1))
}

// Minutes estimates spoken duration at the given narration pace.
// Empty or whitespace-only text estimates to zero.
func Minutes(text string, wordsPerMinute int) float64 {
	if wordsPerMinute <= 0 {
		return 0
	}
	return float64(WordCount(text)) / float64(wordsPerMinute)
}

// OutputTokenCeiling computes the max-output-token request value for a
// generation targeting targetMinutes of narration: estimated words, scaled
// by the tokens-per-word ratio, padded by the buffer fraction, and capped
// at the model's absolute output limit.
func OutputTokenCeiling(targetMinutes, wordsPerMinute int, tokensPerWord, buffer float64, absoluteMax int) int {
	words := float64(targetMinutes * wordsPerMinute)
	return clampTokens(words*tokensPerWord*(1+buffer), absoluteMax)
}

// ExpansionTokenCeiling computes the ceiling for an expansion rewrite. The
// rewrite returns the whole section, so the ceiling covers the full target
// word count with a wider buffer than the initial generation.
func ExpansionTokenCeiling(targetWords int, tokensPerWord, buffer float64, absoluteMax int) int {
	return clampTokens(float64(targetWords)*tokensPerWord*(1+buffer*1.5), absoluteMax)
}

// SmoothingTokenCeiling computes the ceiling for a smoothing pass over an
// input chunk of chunkChars characters. charsPerToken is the assumed input
// density; margin leaves headroom for transitional material.
func SmoothingTokenCeiling(chunkChars int, charsPerToken float64, margin, absoluteMax int) int {
	if charsPerToken <= 0 {
		return clampTokens(float64(absoluteMax), absoluteMax)
	}
	return clampTokens(float64(chunkChars)/charsPerToken+float64(margin), absoluteMax)
}

func clampTokens(v float64, absoluteMax int) int {
	tokens := int(math.Ceil(v))
	if tokens > absoluteMax {
		return absoluteMax
	}
	if tokens < 1 {
		return 1
	}
	return tokens
}
