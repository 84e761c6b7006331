package speech

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkLimit is the longest text, in characters, a truncating engine plays reliably.
const DefaultChunkLimit = 200

var sentenceEnd = regexp.MustCompile(`[.?!]\s+`)

// PlanChunks returns the chunks speak would play for text on a platform with caps.
func PlanChunks(text string, caps Capabilities, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if caps.Has(NeedsChunking) && utf8.RuneCountInString(text) > limit {
		return SplitChunks(text, limit)
	}
	return []string{text}
}

// SplitChunks packs whole sentences into chunks of at most limit characters.
// A sentence longer than limit is split at word boundaries, and a single word
// longer than limit at character boundaries.
func SplitChunks(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, sentence := range splitSentences(text) {
		for _, piece := range fitToLimit(sentence, limit) {
			if current == "" {
				current = piece
				continue
			}
			if utf8.RuneCountInString(current)+1+utf8.RuneCountInString(piece) <= limit {
				current += " " + piece
				continue
			}
			chunks = append(chunks, current)
			current = piece
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : m[0]+1]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func fitToLimit(sentence string, limit int) []string {
	if utf8.RuneCountInString(sentence) <= limit {
		return []string{sentence}
	}
	var out []string
	current := ""
	for _, word := range strings.Fields(sentence) {
		for _, part := range splitRunes(word, limit) {
			switch {
			case current == "":
				current = part
			case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(part) <= limit:
				current += " " + part
			default:
				out = append(out, current)
				current = part
			}
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func splitRunes(word string, limit int) []string {
	runes := []rune(word)
	if len(runes) <= limit {
		return []string{word}
	}
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
