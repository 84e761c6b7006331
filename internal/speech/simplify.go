package speech

import "strings"

const (
	minRepeatPattern = 2
	maxRepeatPattern = 10
)

// SimplifyRepeatedText collapses immediately repeated word sequences of 2 to 10
// words into a single occurrence. Continuous engines sometimes report the same
// phrase in consecutive final segments; "a b a b a b c" becomes "a b c".
func SimplifyRepeatedText(text string) string {
	if text == "" {
		return ""
	}
	words := strings.Fields(text)
	if len(words) < 4 {
		return text
	}

	maxPattern := len(words) / 2
	if maxPattern > maxRepeatPattern {
		maxPattern = maxRepeatPattern
	}

	out := make([]string, 0, len(words))
	i := 0
	for i < len(words) {
		end, n := repeatRun(words, i, maxPattern)
		if n == 0 {
			out = append(out, words[i])
			i++
			continue
		}
		out = append(out, words[i:i+n]...)
		i = end
	}
	return strings.Join(out, " ")
}

// repeatRun finds the shortest pattern starting at i that repeats immediately.
// It returns the index just past the whole run and the pattern length, or 0 when
// nothing repeats.
func repeatRun(words []string, i, maxPattern int) (int, int) {
	for n := minRepeatPattern; n <= maxPattern; n++ {
		if i+2*n > len(words) {
			continue
		}
		pattern := words[i : i+n]
		if !sameWords(pattern, words[i+n:i+2*n]) {
			continue
		}
		next := i + 2*n
		for next+n <= len(words) && sameWords(pattern, words[next:next+n]) {
			next += n
		}
		return next, n
	}
	return i, 0
}

func sameWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
