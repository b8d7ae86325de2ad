// Package tts turns the finished script into speech: sentence-aware
// chunking under the synthesis byte limit, per-chunk synthesis with one
// delayed retry round, and in-order audio concatenation.
package tts

import "strings"

// SplitSentences breaks text into sentences, keeping terminal punctuation
// with its sentence. A sentence ends at a run of . ! ? followed by
// whitespace or end of text.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	i := 0
	for i < len(runes) {
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			for i < len(runes) && (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') {
				i++
			}
			if i >= len(runes) || runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' || runes[i] == '\r' {
				sentence := strings.TrimSpace(string(runes[start:i]))
				if sentence != "" {
					sentences = append(sentences, sentence)
				}
				for i < len(runes) && (runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' || runes[i] == '\r') {
					i++
				}
				start = i
			}
			continue
		}
		i++
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			sentences = append(sentences, tail)
		}
	}
	return sentences
}

// ChunkText packs sentences into chunks of at most maxBytes bytes.
// Sentences longer than the limit are force-split on word boundaries so no
// chunk ever exceeds it (single oversized words are emitted alone).
func ChunkText(text string, maxBytes int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	appendPiece := func(piece string) {
		if current.Len() > 0 && current.Len()+1+len(piece) > maxBytes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(piece)
	}

	for _, sentence := range SplitSentences(text) {
		if len(sentence) <= maxBytes {
			appendPiece(sentence)
			continue
		}
		for _, piece := range splitByWords(sentence, maxBytes) {
			appendPiece(piece)
		}
	}
	flush()
	return chunks
}

func splitByWords(sentence string, maxBytes int) []string {
	var pieces []string
	var current strings.Builder
	for _, word := range strings.Fields(sentence) {
		if current.Len() > 0 && current.Len()+1+len(word) > maxBytes {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
